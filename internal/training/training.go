// Package training fits the risk and premium models from a feature snapshot
// and packages them as a versioned artifact.
package training

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/features"
	"github.com/couchcryptid/flood-risk-service/internal/forecast"
	"github.com/couchcryptid/flood-risk-service/internal/premium"
)

// Artifact is one training run's output. Once saved it is never modified.
type Artifact struct {
	Version    string          `json:"version"`
	RunID      uuid.UUID       `json:"run_id"`
	SnapshotID string          `json:"snapshot_id"`
	CreatedAt  time.Time       `json:"created_at"`
	Risk       *forecast.Model `json:"risk_model"`
	Premium    *premium.Model  `json:"premium_model"`
}

// Trainer fits models with fixed options.
type Trainer struct {
	opts   forecast.Options
	logger *slog.Logger
}

// NewTrainer returns a trainer using opts for the risk model.
func NewTrainer(opts forecast.Options, logger *slog.Logger) *Trainer {
	return &Trainer{opts: opts, logger: logger}
}

// Train builds every historical feature row in the snapshot, fits the risk
// model on observed claim frequencies, and fits the premium model on the risk
// scores it assigns. Training the same snapshot twice yields the same models
// and the same version on the same day.
func (t *Trainer) Train(snap *features.Snapshot) (*Artifact, error) {
	b := features.NewBuilder(snap)
	rows, skipped := b.Rows(snap.ZIPs(), snap.Years)
	t.logger.Info("feature rows built", "snapshot_id", snap.ID, "rows", len(rows), "skipped", skipped)

	samples, p95, err := forecast.Labels(rows)
	if err != nil {
		return nil, fmt.Errorf("train %s: %w", snap.ID, err)
	}
	risk, err := forecast.Fit(samples, p95, t.opts)
	if err != nil {
		return nil, fmt.Errorf("train %s: %w", snap.ID, err)
	}

	var priced []premium.Sample
	for _, fv := range rows {
		if fv.InsuranceProvenance != domain.ProvenanceObserved {
			continue
		}
		score, _ := risk.Score(fv)
		priced = append(priced, premium.Sample{Features: fv, RiskScore: score})
	}
	prem, err := premium.Fit(priced)
	if err != nil {
		return nil, fmt.Errorf("train %s: %w", snap.ID, err)
	}

	runID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("train %s: run id: %w", snap.ID, err)
	}
	created := domain.Now().UTC()
	version, err := Version(created, snap.ContentHash, risk, prem)
	if err != nil {
		return nil, fmt.Errorf("train %s: %w", snap.ID, err)
	}

	t.logger.Info("models trained",
		"version", version,
		"run_id", runID,
		"risk_samples", risk.Samples,
		"premium_samples", prem.Samples,
		"label_scale", p95,
		"residual_sigma", risk.ResidualSigma,
	)
	return &Artifact{
		Version:    version,
		RunID:      runID,
		SnapshotID: snap.ID,
		CreatedAt:  created,
		Risk:       risk,
		Premium:    prem,
	}, nil
}

// Version names an artifact vYYYYMMDD-<hash8>, where the hash covers the
// snapshot content and both fitted models.
func Version(created time.Time, snapshotHash string, risk *forecast.Model, prem *premium.Model) (string, error) {
	hash, err := domain.HashJSON(struct {
		Snapshot string          `json:"snapshot"`
		Risk     *forecast.Model `json:"risk"`
		Premium  *premium.Model  `json:"premium"`
	}{snapshotHash, risk, prem})
	if err != nil {
		return "", fmt.Errorf("artifact version: %w", err)
	}
	return "v" + created.Format("20060102") + "-" + hash[:8], nil
}
