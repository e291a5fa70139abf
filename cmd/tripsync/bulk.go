package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/fleetops/tripsync/internal/cli"
	"github.com/fleetops/tripsync/internal/engine"
)

func bulkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk [trip-id...]",
		Short: "Synchronize many trips over a worker pool",
		Long: `Run a bulk sync over a set of trip identifiers, given as arguments or
one-per-line in a file via --ids-file. Work is distributed over a bounded
worker pool; each trip is synchronized at most once at a time even when
the same identifier appears twice.`,
		RunE: runBulk,
	}

	cmd.Flags().Bool("force", false, "Re-fetch and recompute even for complete records")
	cmd.Flags().String("ids-file", "", "File with one trip identifier per line")
	cmd.Flags().Int("workers", 0, "Worker pool size (default 8, max 32)")

	return cmd
}

func runBulk(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	idsFile, _ := cmd.Flags().GetString("ids-file")
	workers, _ := cmd.Flags().GetInt("workers")
	ctx := cmd.Context()

	tripIDs, err := collectTripIDs(args, idsFile)
	if err != nil {
		return err
	}
	if len(tripIDs) == 0 {
		return fmt.Errorf("no trip identifiers supplied; pass them as arguments or via --ids-file")
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	orch, err := initOrchestrator(store)
	if err != nil {
		return err
	}
	tracker := engine.NewTracker(orch, workers)

	bar := progressbar.NewOptions(len(tripIDs),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Syncing trips...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)

	job, err := tracker.Run(ctx, tripIDs, force, func(_ string, _ engine.SyncResult) {
		_ = bar.Add(1)
	})
	if err != nil {
		return err
	}

	fmt.Println(cli.RenderJobSummary(job))

	if job.Errors > 0 {
		return fmt.Errorf("%d of %d trips failed to sync", job.Errors, job.Total)
	}
	return nil
}

// collectTripIDs merges identifiers from arguments and an optional file,
// deduplicating while preserving order.
func collectTripIDs(args []string, idsFile string) ([]string, error) {
	ids := make([]string, 0, len(args))
	seen := make(map[string]bool)

	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}

	for _, id := range args {
		add(id)
	}

	if idsFile != "" {
		f, err := os.Open(idsFile) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("failed to open ids file: %w", err)
		}
		defer func() { _ = f.Close() }()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			add(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read ids file: %w", err)
		}
	}

	return ids, nil
}
