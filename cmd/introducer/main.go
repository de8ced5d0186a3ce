// Command introducer runs the onboarding conversation server and the
// enrichment, vectorization and matching batch jobs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "introducer",
	Short:         "Conversational onboarding, profile enrichment and contact matching",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "conversation policy file (overrides INTRODUCER_CONFIG_FILE)")
	rootCmd.AddCommand(serveCmd, enrichCmd, vectorizeCmd, matchCmd, backupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
