package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/store"
)

// app carries what every subcommand needs. It is filled in by the root
// command's pre-run hook.
type app struct {
	metrics *observability.Metrics

	dbPath     string
	regionFile string
	verbose    bool

	cfg    *config.Config
	region config.Region
	logger *slog.Logger
}

func newRootCmd(metrics *observability.Metrics) *cobra.Command {
	a := &app{metrics: metrics}

	root := &cobra.Command{
		Use:   "floodctl",
		Short: "Manage flood risk snapshots and models",
		Long: `floodctl drives the offline half of the flood risk service.

A typical release:
  floodctl ingest
  floodctl train
  floodctl publish v20250301-1a2b3c4d
  floodctl predict --zip 33602 --type single_family --year 2030

Reports:
  floodctl summary climate
  floodctl summary insurance
  floodctl zips`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "model store path (default $DB_PATH)")
	root.PersistentFlags().StringVar(&a.regionFile, "region", "", "region catalogue YAML (default $REGION_FILE)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newIngestCmd(a),
		newTrainCmd(a),
		newPublishCmd(a),
		newModelsCmd(a),
		newPredictCmd(a),
		newSummaryCmd(a),
		newZIPsCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.dbPath != "" {
		cfg.DBPath = a.dbPath
	}
	if a.regionFile != "" {
		cfg.RegionFile = a.regionFile
	}
	if a.verbose {
		cfg.LogLevel = "debug"
	}
	// Logs go to stderr so command output stays pipeable.
	cfg.LogFormat = "text"

	region, err := config.LoadRegion(cfg.RegionFile)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.region = region
	a.logger = observability.NewLoggerTo(cmd.ErrOrStderr(), cfg)
	return nil
}

func (a *app) openStore() (*store.Store, error) {
	db, err := store.Open(a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open model store %s: %w", a.cfg.DBPath, err)
	}
	return db, nil
}
