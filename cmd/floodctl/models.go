package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newPublishCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "publish VERSION",
		Short: "Publish a trained artifact to the prediction service",
		Long: `Mark an artifact as published. The most recently published artifact is
the one running services load. Publishing is permanent; to roll back,
publish a newer artifact.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Publish(cmd.Context(), args[0]); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "published %s\n", args[0])
			return nil
		},
	}
}

func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List model artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			infos, err := db.Artifacts(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(infos) == 0 {
				fmt.Fprintln(out, "No model artifacts found.")
				fmt.Fprintln(out, "\nTrain one with:")
				fmt.Fprintln(out, "  floodctl train")
				return nil
			}

			fmt.Fprintf(out, "%-20s  %-22s  %-20s  %s\n", "VERSION", "SNAPSHOT", "CREATED", "PUBLISHED")
			fmt.Fprintln(out, strings.Repeat("-", 86))
			for _, info := range infos {
				published := "-"
				if info.Published {
					published = color.GreenString(info.PublishedAt.Format("2006-01-02 15:04"))
				}
				fmt.Fprintf(out, "%-20s  %-22s  %-20s  %s\n",
					info.Version, info.SnapshotID, info.CreatedAt.Format("2006-01-02 15:04"), published)
			}
			fmt.Fprintf(out, "\nTotal: %d artifact(s)\n", len(infos))
			return nil
		},
	}
}
