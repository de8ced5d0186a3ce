// Package types defines the core data structures of the introducer:
// contacts moving through the onboarding conversation, their employment
// and education history, the enrichment log and the vector projection used
// for matching.
package types
