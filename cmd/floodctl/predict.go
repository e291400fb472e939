package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/prediction"
	"github.com/couchcryptid/flood-risk-service/internal/training"
)

func newPredictCmd(a *app) *cobra.Command {
	var (
		zip          string
		propertyType string
		year         int
		version      string
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict flood risk and premium for one query",
		Long: `Run a single prediction against the latest published artifact, or the
artifact named by --version.`,
		Example: `  floodctl predict --zip 33602 --type single_family --year 2030`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			var artifact *training.Artifact
			if version != "" {
				artifact, err = db.Artifact(ctx, version)
			} else {
				artifact, err = db.LatestPublished(ctx)
			}
			if err != nil {
				return err
			}
			snap, err := db.Snapshot(ctx, artifact.SnapshotID)
			if err != nil {
				return err
			}
			ms, err := prediction.NewModelSet(artifact, snap)
			if err != nil {
				return err
			}

			svc := prediction.NewService(a.region, 1, a.metrics, a.logger)
			svc.Refresh(ms)

			p, err := svc.Predict(ctx, zip, propertyType, year)
			if err != nil {
				return err
			}
			printPrediction(cmd, p)
			return nil
		},
	}
	cmd.Flags().StringVar(&zip, "zip", "", "5-digit ZIP code")
	cmd.Flags().StringVar(&propertyType, "type", string(domain.SingleFamily), "property type")
	cmd.Flags().IntVar(&year, "year", 0, "target year")
	cmd.Flags().StringVar(&version, "version", "", "artifact version (default latest published)")
	_ = cmd.MarkFlagRequired("zip")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func printPrediction(cmd *cobra.Command, p domain.Prediction) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s %d\n", p.ZIP, p.PropertyType, p.Year)
	fmt.Fprintf(out, "  flood risk:     %.3f [%.3f, %.3f] %s\n",
		p.FloodRiskScore, p.RiskInterval.Lower, p.RiskInterval.Upper, categoryColor(p.RiskCategory)(p.RiskCategory))
	fmt.Fprintf(out, "  premium:        $%s (current $%s, %+.1f%%)\n",
		p.PredictedPremium.StringFixed(2), p.CurrentPremium.StringFixed(2), p.PremiumChangePct)
	fmt.Fprintf(out, "  confidence:     %s\n", p.Confidence)
	fmt.Fprintf(out, "  model:          %s (snapshot %s)\n", p.ModelVersion, p.SnapshotID)
	for _, w := range p.Warnings {
		color.New(color.FgYellow).Fprintf(out, "  warning: %s: %s\n", w.Code, w.Message)
	}
}

func categoryColor(category string) func(string, ...any) string {
	switch category {
	case "Very High":
		return color.RedString
	case "High":
		return color.YellowString
	default:
		return color.GreenString
	}
}
