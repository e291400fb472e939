package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/features"
	"github.com/couchcryptid/flood-risk-service/internal/store"
)

// snapshotFlags select the snapshot a report reads.
type snapshotFlags struct {
	version string
	json    bool
}

func (f *snapshotFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.version, "version", "", "read the snapshot of this artifact (default latest published, then latest snapshot)")
	cmd.Flags().BoolVar(&f.json, "json", false, "print JSON")
}

// loadSnapshot returns the snapshot behind the named artifact, or behind the
// latest published artifact. With nothing published it falls back to the
// newest snapshot.
func (a *app) loadSnapshot(ctx context.Context, version string) (*features.Snapshot, error) {
	db, err := a.openStore()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if version != "" {
		artifact, err := db.Artifact(ctx, version)
		if err != nil {
			return nil, err
		}
		return db.Snapshot(ctx, artifact.SnapshotID)
	}
	artifact, err := db.LatestPublished(ctx)
	switch {
	case err == nil:
		return db.Snapshot(ctx, artifact.SnapshotID)
	case errors.Is(err, store.ErrNotFound):
		a.logger.Debug("nothing published, using latest snapshot")
		return db.LatestSnapshot(ctx)
	default:
		return nil, err
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSummaryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize regional climate or insurance data",
	}
	cmd.AddCommand(newClimateSummaryCmd(a), newInsuranceSummaryCmd(a))
	return cmd
}

func newClimateSummaryCmd(a *app) *cobra.Command {
	var (
		flags snapshotFlags
		from  int
	)
	cmd := &cobra.Command{
		Use:   "climate",
		Short: "Sea level and storm surge projections",
		Long: `Average the latest sea level trend and storm surge frequency of every tide
station in the snapshot and project them through 2035. Sea level rise carries
a ±30% band; surge frequency rises 0.5 points a year and is split 60/30/10
across hurricane categories 1, 2 and 3+.`,
		Example: `  floodctl summary climate
  floodctl summary climate --from 2030 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := a.loadSnapshot(cmd.Context(), flags.version)
			if err != nil {
				return err
			}
			if from == 0 {
				from = domain.Now().Year()
			}
			cs := features.Climate(snap, from)
			out := cmd.OutOrStdout()
			if flags.json {
				return printJSON(out, cs)
			}

			source := fmt.Sprintf("%d station(s)", cs.Stations)
			if cs.Stations == 0 {
				source = "regional default"
			}
			fmt.Fprintf(out, "snapshot: %s\n", cs.SnapshotID)
			fmt.Fprintf(out, "sea level trend: %.2f mm/yr (%s)\n", cs.TrendMMYr, source)
			fmt.Fprintf(out, "rise by %d: %.1f mm\n", cs.SeaLevel[len(cs.SeaLevel)-1].Year, cs.RiseByHorizonMM)
			fmt.Fprintf(out, "storm surge frequency %d: %.3f\n\n", cs.StartYear, cs.CurrentSurgeFrequency)

			fmt.Fprintf(out, "%-6s  %10s  %10s  %10s  %7s  %7s  %7s  %7s\n",
				"YEAR", "RISE_MM", "LOWER_MM", "UPPER_MM", "SURGE", "CAT1", "CAT2", "CAT3+")
			fmt.Fprintln(out, strings.Repeat("-", 80))
			for i, sl := range cs.SeaLevel {
				s := cs.StormSurge[i]
				fmt.Fprintf(out, "%-6d  %10.1f  %10.1f  %10.1f  %7.3f  %7.3f  %7.3f  %7.3f\n",
					sl.Year, sl.RiseMM, sl.LowerMM, sl.UpperMM, s.Frequency, s.Category1, s.Category2, s.Category3Plus)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&from, "from", 0, "first projected year (default current year)")
	return cmd
}

func newInsuranceSummaryCmd(a *app) *cobra.Command {
	var flags snapshotFlags
	cmd := &cobra.Command{
		Use:   "insurance",
		Short: "NFIP claims, policies and premium statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := a.loadSnapshot(cmd.Context(), flags.version)
			if err != nil {
				return err
			}
			sum := features.Insurance(snap)
			out := cmd.OutOrStdout()
			if flags.json {
				return printJSON(out, sum)
			}

			fmt.Fprintf(out, "snapshot:          %s\n", sum.SnapshotID)
			fmt.Fprintf(out, "total claims:      %d\n", sum.TotalClaims)
			fmt.Fprintf(out, "total policies:    %d\n", sum.TotalPolicies)
			fmt.Fprintf(out, "ZIPs analyzed:     %d\n", sum.ZIPsAnalyzed)
			if sum.ZIPsAnalyzed == 0 {
				color.New(color.FgYellow).Fprintln(out, "no priced ZIPs in snapshot")
				return nil
			}
			fmt.Fprintf(out, "median premium:    $%s\n", sum.MedianPremium.StringFixed(2))
			fmt.Fprintf(out, "premium range:     $%s - $%s\n", sum.PremiumRange.Min.StringFixed(2), sum.PremiumRange.Max.StringFixed(2))
			if sum.MedianLossRatio.Valid {
				fmt.Fprintf(out, "median loss ratio: %.3f\n", sum.MedianLossRatio.Value)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newZIPsCmd(a *app) *cobra.Command {
	var flags snapshotFlags
	cmd := &cobra.Command{
		Use:   "zips",
		Short: "List region ZIP codes with data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := a.loadSnapshot(cmd.Context(), flags.version)
			if err != nil {
				return err
			}
			var zips []features.ZIPData
			for _, z := range features.ZIPsWithData(snap) {
				if a.region.HasZIP(z.ZIP) {
					zips = append(zips, z)
				}
			}
			out := cmd.OutOrStdout()
			if flags.json {
				return printJSON(out, zips)
			}

			mark := func(ok bool) string {
				if ok {
					return "yes"
				}
				return "-"
			}
			fmt.Fprintf(out, "%-6s  %-6s  %-6s  %-7s  %s\n", "ZIP", "CENSUS", "FEMA", "CLIMATE", "NFIP")
			fmt.Fprintln(out, strings.Repeat("-", 38))
			for _, z := range zips {
				fmt.Fprintf(out, "%-6s  %-6s  %-6s  %-7s  %s\n",
					z.ZIP, mark(z.Census), mark(z.FloodZones), mark(z.Climate), mark(z.Insurance))
			}
			fmt.Fprintf(out, "\nTotal: %d ZIP code(s)\n", len(zips))
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
