package features

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

// GeoSource provides per-ZIP geographic attributes.
type GeoSource interface {
	Fetch(ctx context.Context, zips []string, years domain.YearRange) ([]domain.GeoUnit, error)
}

// FloodZoneSource provides flood zone coverage per ZIP.
type FloodZoneSource interface {
	Fetch(ctx context.Context, zips []string, years domain.YearRange) ([]domain.FloodZoneRecord, error)
}

// ClimateSource provides climate series given a ZIP to tide station mapping.
type ClimateSource interface {
	Fetch(ctx context.Context, zips []string, years domain.YearRange, stations map[string]string) ([]domain.ClimateSeries, error)
}

// InsuranceSource provides NFIP aggregates per (zip, year).
type InsuranceSource interface {
	Fetch(ctx context.Context, zips []string, years domain.YearRange) ([]domain.InsuranceRecord, error)
}

// Loader runs all source adapters for a region and assembles a Snapshot.
type Loader struct {
	region    config.Region
	geo       GeoSource
	flood     FloodZoneSource
	climate   ClimateSource
	insurance InsuranceSource
	logger    *slog.Logger
}

// NewLoader creates a loader for region.
func NewLoader(region config.Region, geo GeoSource, flood FloodZoneSource, climate ClimateSource, insurance InsuranceSource, logger *slog.Logger) *Loader {
	return &Loader{
		region:    region,
		geo:       geo,
		flood:     flood,
		climate:   climate,
		insurance: insurance,
		logger:    logger,
	}
}

// Load fetches every source and returns a new snapshot. Geo attributes are
// read first because station assignment needs ZIP centroids; the remaining
// sources are fetched concurrently. Coverage gaps are recorded on the
// snapshot; any other error, including schema drift, aborts the load.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	zips := l.region.SortedZIPs()
	years := l.region.History

	var (
		mu       sync.Mutex
		coverage []string
	)
	tolerate := func(name string, err error) error {
		if err == nil {
			return nil
		}
		var cov *domain.CoverageError
		if errors.As(err, &cov) {
			l.logger.Warn("source coverage incomplete", "source", name, "missing", len(cov.Missing))
			mu.Lock()
			for _, k := range cov.Missing {
				coverage = append(coverage, name+":"+k)
			}
			mu.Unlock()
			return nil
		}
		return fmt.Errorf("%s: %w", name, err)
	}

	geo, err := l.geo.Fetch(ctx, zips, years)
	if err := tolerate("census", err); err != nil {
		return nil, err
	}

	centroids := make(map[string]domain.GeoUnit, len(zips))
	for _, g := range geo {
		centroids[g.ZIP] = g // sorted by year, so the latest wins
	}
	stations := domain.AssignStations(zips, l.region.StationAssignments, centroids, l.region.Stations, l.logger)

	var (
		flood     []domain.FloodZoneRecord
		climate   []domain.ClimateSeries
		insurance []domain.InsuranceRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recs, err := l.flood.Fetch(gctx, zips, years)
		flood = recs
		return tolerate("fema", err)
	})
	g.Go(func() error {
		series, err := l.climate.Fetch(gctx, zips, years, stations)
		climate = series
		return tolerate("noaa", err)
	})
	g.Go(func() error {
		recs, err := l.insurance.Fetch(gctx, zips, years)
		insurance = recs
		return tolerate("nfip", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	joinClaimsPerCapita(insurance, geo)

	snap, err := NewSnapshot(l.region.Name, years, geo, flood, climate, insurance, coverage)
	if err != nil {
		return nil, err
	}
	l.logger.Info("snapshot assembled",
		"snapshot_id", snap.ID,
		"geo_units", len(snap.GeoUnits),
		"flood_zones", len(snap.FloodZones),
		"climate_series", len(snap.Climate),
		"insurance_records", len(snap.Insurance),
		"coverage_gaps", len(snap.Coverage),
	)
	return snap, nil
}

// joinClaimsPerCapita sets ClaimsPerCapita from the population of the same
// ZIP in the same year, or the latest earlier year.
func joinClaimsPerCapita(ins []domain.InsuranceRecord, geo []domain.GeoUnit) {
	byZIP := make(map[string][]domain.GeoUnit)
	for _, g := range geo {
		byZIP[g.ZIP] = append(byZIP[g.ZIP], g)
	}
	for i := range ins {
		u, _, ok := latestGeo(byZIP[ins[i].ZIP], ins[i].Year)
		if !ok || u.Population <= 0 {
			continue
		}
		ins[i].ClaimsPerCapita = domain.Valid(float64(ins[i].ClaimsCount) / float64(u.Population))
	}
}
