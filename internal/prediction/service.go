// Package prediction answers (ZIP code, property type, year) queries with a
// flood risk score and premium from the currently loaded model set.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/features"
	"github.com/couchcryptid/flood-risk-service/internal/forecast"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/premium"
	"github.com/couchcryptid/flood-risk-service/internal/training"
)

// ModelSet is everything one prediction needs. It is read-only once loaded.
type ModelSet struct {
	Version    string
	SnapshotID string
	Risk       *forecast.Model
	Premium    *premium.Model
	Features   forecast.FeatureResolver
	// Snapshot backs the regional summaries. It may be nil for model sets
	// built without one.
	Snapshot *features.Snapshot
}

// NewModelSet pairs an artifact with the snapshot it was trained on.
func NewModelSet(a *training.Artifact, snap *features.Snapshot) (ModelSet, error) {
	if a.SnapshotID != snap.ID {
		return ModelSet{}, fmt.Errorf("model set %s: trained on %s, got snapshot %s", a.Version, a.SnapshotID, snap.ID)
	}
	return ModelSet{
		Version:    a.Version,
		SnapshotID: snap.ID,
		Risk:       a.Risk,
		Premium:    a.Premium,
		Features:   features.NewBuilder(snap),
		Snapshot:   snap,
	}, nil
}

// Service validates queries, serves repeats from an LRU cache, and computes
// misses against the loaded ModelSet.
type Service struct {
	region  config.Region
	years   domain.YearRange
	cache   *lruCache
	metrics *observability.Metrics
	logger  *slog.Logger

	mu     sync.RWMutex
	models *ModelSet
}

// NewService returns a service with no models loaded. Queries fail with
// ErrModelsNotLoaded until Refresh is called.
func NewService(region config.Region, cacheSize int, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		region:  region,
		years:   domain.YearRange{From: region.History.From, To: region.MaxYear},
		cache:   newLRUCache(cacheSize),
		metrics: metrics,
		logger:  logger,
	}
}

// Refresh swaps in a new model set and drops every cached prediction.
func (s *Service) Refresh(ms ModelSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := ""
	if s.models != nil {
		prev = s.models.Version
	}
	s.models = &ms
	s.cache.clear()

	s.metrics.ModelsLoaded.Set(1)
	s.metrics.ModelRefreshes.Inc()
	s.logger.Info("models refreshed", "version", ms.Version, "previous", prev, "snapshot_id", ms.SnapshotID)
}

// Version returns the loaded model version, or "" before the first Refresh.
func (s *Service) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.models == nil {
		return ""
	}
	return s.models.Version
}

// CheckReadiness reports whether a model set is loaded.
func (s *Service) CheckReadiness(_ context.Context) error {
	if s.Version() == "" {
		return domain.ErrModelsNotLoaded
	}
	return nil
}

// Predict returns the risk score and premium for a property of type
// propertyType in zip during year. Inputs are validated before any model
// work; identical queries under the same model set return the cached result.
func (s *Service) Predict(ctx context.Context, zip, propertyType string, year int) (domain.Prediction, error) {
	start := time.Now()
	p, outcome, err := s.predict(ctx, zip, propertyType, year)
	s.metrics.Predictions.WithLabelValues(outcome).Inc()
	if err != nil {
		s.logger.Debug("prediction failed", "zip_code", zip, "property_type", propertyType, "year", year, "error", err)
		return domain.Prediction{}, err
	}
	s.metrics.PredictionDuration.Observe(time.Since(start).Seconds())
	return p, nil
}

func (s *Service) predict(ctx context.Context, zip, propertyType string, year int) (domain.Prediction, string, error) {
	if err := ctx.Err(); err != nil {
		return domain.Prediction{}, "error", err
	}
	pt, err := s.validate(zip, propertyType, year)
	if err != nil {
		return domain.Prediction{}, "invalid", err
	}

	// Holding the read lock across compute keeps a concurrent Refresh from
	// interleaving with the cache write below.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.models == nil {
		return domain.Prediction{}, "error", domain.ErrModelsNotLoaded
	}

	key := cacheKey{zip: zip, year: year, pt: pt}
	if p, ok := s.cache.get(key); ok {
		s.metrics.PredictionCache.WithLabelValues("hit").Inc()
		return p, "success", nil
	}
	s.metrics.PredictionCache.WithLabelValues("miss").Inc()

	p, err := s.compute(s.models, zip, pt, year)
	if err != nil {
		if errors.Is(err, domain.ErrDataUnavailable) {
			return domain.Prediction{}, "unavailable", err
		}
		return domain.Prediction{}, "error", err
	}
	s.cache.put(key, p)
	return p, "success", nil
}

func (s *Service) validate(zip, propertyType string, year int) (domain.PropertyType, error) {
	if !domain.ValidZIP(zip) || !s.region.HasZIP(zip) {
		return "", fmt.Errorf("%w: %q not in %s", domain.ErrInvalidZip, zip, s.region.Name)
	}
	pt, err := domain.ParsePropertyType(propertyType)
	if err != nil {
		return "", err
	}
	if !s.years.Contains(year) {
		return "", fmt.Errorf("%w: %d outside %d-%d", domain.ErrInvalidYear, year, s.years.From, s.years.To)
	}
	return pt, nil
}

func (s *Service) compute(ms *ModelSet, zip string, pt domain.PropertyType, year int) (domain.Prediction, error) {
	a, err := forecast.NewForecaster(ms.Risk, ms.Features).Forecast(zip, year)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("forecast %s/%d: %w", zip, year, err)
	}
	q, err := ms.Premium.Predict(a.Features, a.Score, pt)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("premium %s/%d: %w", zip, year, err)
	}

	return domain.Prediction{
		ZIP:              zip,
		Year:             year,
		PropertyType:     pt,
		FloodRiskScore:   a.Score,
		RiskInterval:     a.Interval,
		RiskCategory:     domain.RiskCategory(a.Score),
		PredictedPremium: q.Predicted,
		CurrentPremium:   q.Current,
		PremiumChangePct: q.ChangePct,
		Confidence:       a.Confidence,
		Warnings:         a.Warnings,
		ModelVersion:     ms.Version,
		SnapshotID:       ms.SnapshotID,
		GeneratedAt:      domain.Now().UTC(),
	}, nil
}

// snapshot returns the loaded model set's snapshot.
func (s *Service) snapshot() (*features.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.models == nil || s.models.Snapshot == nil {
		return nil, domain.ErrModelsNotLoaded
	}
	return s.models.Snapshot, nil
}

// ClimateSummary projects the loaded snapshot's sea level and storm surge
// outlook from the current year.
func (s *Service) ClimateSummary() (features.ClimateSummary, error) {
	snap, err := s.snapshot()
	if err != nil {
		return features.ClimateSummary{}, err
	}
	return features.Climate(snap, domain.Now().Year()), nil
}

// InsuranceSummary aggregates the loaded snapshot's NFIP history.
func (s *Service) InsuranceSummary() (features.InsuranceSummary, error) {
	snap, err := s.snapshot()
	if err != nil {
		return features.InsuranceSummary{}, err
	}
	return features.Insurance(snap), nil
}

// ZIPs lists the region's ZIP codes that have data in the loaded snapshot.
func (s *Service) ZIPs() ([]features.ZIPData, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	all := features.ZIPsWithData(snap)
	out := make([]features.ZIPData, 0, len(all))
	for _, z := range all {
		if s.region.HasZIP(z.ZIP) {
			out = append(out, z)
		}
	}
	return out, nil
}
