package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/flood-risk-service/internal/features"
	"github.com/couchcryptid/flood-risk-service/internal/forecast"
	"github.com/couchcryptid/flood-risk-service/internal/training"
)

func newTrainCmd(a *app) *cobra.Command {
	var (
		snapshotID string
		iterations int
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit risk and premium models on a snapshot",
		Long: `Fit the flood risk and premium models on a stored snapshot and save
them as an unpublished artifact. Without --snapshot the most recent
snapshot is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			var snap *features.Snapshot
			if snapshotID != "" {
				snap, err = db.Snapshot(ctx, snapshotID)
			} else {
				snap, err = db.LatestSnapshot(ctx)
			}
			if err != nil {
				return err
			}

			opts := forecast.DefaultOptions()
			opts.HorizonYear = a.cfg.HorizonYear
			if iterations > 0 {
				opts.Iterations = iterations
			}

			artifact, err := training.NewTrainer(opts, a.logger).Train(snap)
			if err != nil {
				return err
			}
			if err := db.SaveArtifact(ctx, artifact); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprintf(out, "artifact %s saved\n", artifact.Version)
			fmt.Fprintf(out, "  run:      %s\n", artifact.RunID)
			fmt.Fprintf(out, "  snapshot: %s\n", artifact.SnapshotID)
			fmt.Fprintf(out, "  samples:  %d (trained through %d)\n", artifact.Risk.Samples, artifact.Risk.TrainedThrough)
			fmt.Fprintln(out, "  premium feature importance:")
			for _, imp := range artifact.Premium.FeatureImportance() {
				fmt.Fprintf(out, "    %-24s %5.1f%%\n", imp.Feature, imp.Weight*100)
			}
			fmt.Fprintf(out, "\npublish with: floodctl publish %s\n", artifact.Version)
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotID, "snapshot", "", "snapshot ID (default latest)")
	cmd.Flags().IntVar(&iterations, "iterations", 0, "gradient descent iterations (default from model options)")
	return cmd
}
