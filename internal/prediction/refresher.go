package prediction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/flood-risk-service/internal/features"
	"github.com/couchcryptid/flood-risk-service/internal/store"
	"github.com/couchcryptid/flood-risk-service/internal/training"
)

// ArtifactSource returns the newest published artifact and its snapshot.
// *store.Store satisfies it.
type ArtifactSource interface {
	LatestPublished(ctx context.Context) (*training.Artifact, error)
	Snapshot(ctx context.Context, id string) (*features.Snapshot, error)
}

// Refresher polls an ArtifactSource and loads newly published models into a
// Service.
type Refresher struct {
	source   ArtifactSource
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewRefresher returns a refresher that polls every interval.
func NewRefresher(source ArtifactSource, service *Service, interval time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{source: source, service: service, interval: interval, logger: logger}
}

// Poll loads the latest published artifact if it differs from the one the
// service holds. It reports whether a refresh happened. Having nothing
// published yet is not an error.
func (r *Refresher) Poll(ctx context.Context) (bool, error) {
	a, err := r.source.LatestPublished(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if a.Version == r.service.Version() {
		return false, nil
	}

	snap, err := r.source.Snapshot(ctx, a.SnapshotID)
	if err != nil {
		return false, fmt.Errorf("load models %s: %w", a.Version, err)
	}
	ms, err := NewModelSet(a, snap)
	if err != nil {
		return false, err
	}
	r.service.Refresh(ms)
	return true, nil
}

// Run polls immediately and then on every interval until ctx is cancelled.
// Poll failures are logged and retried on the next tick.
func (r *Refresher) Run(ctx context.Context) error {
	r.logger.Info("model refresher started", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Poll(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("model refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			r.logger.Info("model refresher stopping", "reason", ctx.Err())
			return nil
		case <-ticker.C:
		}
	}
}
