package main

import (
	"fmt"

	"github.com/praetorian-inc/kestrel/pkg/store"
	"github.com/spf13/cobra"
)

var (
	mergeOutput string
)

var mergeCmd = &cobra.Command{
	Use:   "merge <source1.db> <source2.db> [source3.db...]",
	Short: "Merge multiple Kestrel alert databases",
	Long: `Merge multiple Kestrel alert databases into a single output database.

This is useful for combining results from scans run on different sensors or
over different captures.

Deduplication is automatic - an alert for the same rule, capture and packet
is only stored once in the merged database.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runMerge,
}

func init() {
	mergeCmd.Flags().StringVarP(&mergeOutput, "output", "o", "merged.db", "Output database path")
}

func runMerge(cmd *cobra.Command, args []string) error {
	stats, err := store.Merge(store.MergeConfig{
		SourcePaths: args,
		DestPath:    mergeOutput,
	})
	if err != nil {
		return fmt.Errorf("merge failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Merge complete:\n")
	fmt.Fprintf(cmd.OutOrStdout(), "  Sources processed: %d\n", stats.SourcesProcessed)
	fmt.Fprintf(cmd.OutOrStdout(), "  Captures merged: %d\n", stats.CapturesMerged)
	fmt.Fprintf(cmd.OutOrStdout(), "  Rules merged: %d\n", stats.RulesMerged)
	fmt.Fprintf(cmd.OutOrStdout(), "  Alerts merged: %d\n", stats.AlertsMerged)
	fmt.Fprintf(cmd.OutOrStdout(), "Output: %s\n", mergeOutput)

	return nil
}
