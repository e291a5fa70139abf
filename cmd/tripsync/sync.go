package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/fleetops/tripsync/internal/cli"
	"github.com/fleetops/tripsync/internal/engine"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <trip-id>",
		Short: "Synchronize a single trip record",
		Long: `Fetch telemetry for one trip, recompute its derived fields, and persist
the result. Complete records are skipped unless --force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: runSync,
	}

	cmd.Flags().Bool("force", false, "Re-fetch and recompute even if the record is complete")

	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	orch, err := initOrchestrator(store)
	if err != nil {
		return err
	}

	tripID := args[0]
	slog.Info("Syncing trip", "trip_id", tripID, "force", force)

	trip, res := orch.Sync(ctx, tripID, force, nil, nil)
	if res.Err != nil {
		fmt.Println(cli.FormatError(fmt.Sprintf("Sync failed: %v", res.Err)))
		return res.Err
	}

	switch res.Action {
	case engine.ActionSkipped:
		fmt.Println(cli.FormatWarning(fmt.Sprintf("Skipped: %s", reasonLine(res.Reasons))))
	default:
		fmt.Println(cli.FormatSuccess(fmt.Sprintf("Trip %s %s", tripID, res.Action)))
		if len(res.UpdatedFields) > 0 {
			fmt.Println(cli.SubtleStyle.Render(fmt.Sprintf("  fields: %v", res.UpdatedFields)))
		}
		if trip != nil && trip.QualityLabel != nil {
			fmt.Println(cli.SubtleStyle.Render(fmt.Sprintf("  quality: %s", *trip.QualityLabel)))
		}
	}

	return nil
}

func reasonLine(reasons []string) string {
	if len(reasons) == 0 {
		return "no changes"
	}
	return reasons[0]
}
