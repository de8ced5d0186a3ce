package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/introducer/internal/backup"
	"github.com/scrypster/introducer/internal/calls"
	"github.com/scrypster/introducer/internal/engine"
	"github.com/scrypster/introducer/internal/messaging"
	"github.com/scrypster/introducer/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the conversation engine",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich contacts that have a profile URL, vectorizing the ones that changed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			res, err := a.vectors.EnrichBatch(ctx, limit)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var vectorizeCmd = &cobra.Command{
	Use:   "vectorize",
	Short: "Vectorize contacts and record their best match",
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		force, _ := cmd.Flags().GetBool("force")
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			res, err := a.vectors.VectorizeBatch(ctx, limit, force)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var matchCmd = &cobra.Command{
	Use:   "match <contact-id>",
	Short: "List the contacts most similar to a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			matches, err := a.vectors.RankedMatches(ctx, args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(matches)
		})
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a verified snapshot of the sqlite store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			svc, err := a.newBackupService()
			if err != nil {
				return err
			}
			if svc == nil {
				return errors.New("backups are only supported for the sqlite storage engine")
			}
			snap, err := svc.Snapshot(ctx)
			if err != nil {
				return err
			}
			return printJSON(snap)
		})
	},
}

func init() {
	enrichCmd.Flags().Int("limit", 50, "maximum number of contacts to process")
	vectorizeCmd.Flags().Int("limit", 50, "maximum number of contacts to process")
	vectorizeCmd.Flags().Bool("force", false, "re-embed contacts whose vectors are current")
	matchCmd.Flags().Int("limit", 10, "maximum number of matches")
}

func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func runServe(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg, logger := a.cfg, a.logger

	hub := server.NewHub(nil, logger)
	pool := engine.NewWorkerPool(engine.PoolConfig{
		NumWorkers:      cfg.Workers.NumWorkers,
		QueueSize:       cfg.Workers.QueueSize,
		ShutdownTimeout: cfg.Workers.ShutdownTimeout,
	}, logger)

	conversation := engine.New(a.store, messaging.NewSender(cfg.Messaging, logger), cfg.Conversation,
		engine.WithScheduler(calls.NewScheduler(cfg.Calls, logger)),
		engine.WithEnricher(a.enricher),
		engine.WithMatcher(a.vectors),
		engine.WithTaskRunner(pool),
		engine.OnTransition(hub.Publish),
		engine.WithLogger(logger),
	)

	srv := server.New(cfg, conversation, a.vectors, a.store, hub, logger, server.WithEnrichmentLog(a.store))

	var backups *backup.Service
	if cfg.Backup.Interval > 0 {
		if backups, err = a.newBackupService(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(srv.Start)
	if backups != nil {
		g.Go(func() error { return backups.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Workers.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		hub.Stop()
		if err := pool.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("worker pool shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
