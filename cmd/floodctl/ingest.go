package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/flood-risk-service/internal/adapter/census"
	"github.com/couchcryptid/flood-risk-service/internal/adapter/fema"
	"github.com/couchcryptid/flood-risk-service/internal/adapter/nfip"
	"github.com/couchcryptid/flood-risk-service/internal/adapter/noaa"
	"github.com/couchcryptid/flood-risk-service/internal/adapter/rawcache"
	"github.com/couchcryptid/flood-risk-service/internal/features"
)

func newIngestCmd(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch every source and store a feature snapshot",
		Long: `Fetch census, FEMA flood zone, NOAA tide gauge and NFIP data for the
region's ZIP codes and history years, then store the result as an
immutable snapshot. Ingesting unchanged data is a no-op.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return a.ingest(ctx, cmd)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Minute, "overall ingest timeout")
	return cmd
}

func (a *app) ingest(ctx context.Context, cmd *cobra.Command) error {
	cfg := a.cfg
	femaFetcher := rawcache.New("fema", cfg.RawCacheDir, cfg.CacheTTL, cfg.SourceTimeout, a.metrics, a.logger)
	noaaFetcher := rawcache.New("noaa", cfg.RawCacheDir, cfg.CacheTTL, cfg.SourceTimeout, a.metrics, a.logger)

	loader := features.NewLoader(a.region,
		census.NewReader(cfg.CensusPath, a.logger),
		fema.NewClient(cfg.FEMAEndpoint, femaFetcher, a.logger),
		noaa.NewClient(cfg.NOAAEndpoint, noaaFetcher, a.logger),
		nfip.NewReader(cfg.NFIPPath, a.logger),
		a.logger,
	)

	snap, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	db, err := a.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	created, err := db.SaveSnapshot(ctx, snap)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if created {
		color.New(color.FgGreen).Fprintf(out, "snapshot %s stored\n", snap.ID)
	} else {
		fmt.Fprintf(out, "snapshot %s already stored\n", snap.ID)
	}
	fmt.Fprintf(out, "  region:    %s (%d-%d)\n", snap.Region, snap.Years.From, snap.Years.To)
	fmt.Fprintf(out, "  zips:      %d\n", len(snap.ZIPs()))
	fmt.Fprintf(out, "  insurance: %d rows\n", len(snap.Insurance))
	for _, gap := range snap.Coverage {
		color.New(color.FgYellow).Fprintf(out, "  gap: %s\n", gap)
	}
	return nil
}
