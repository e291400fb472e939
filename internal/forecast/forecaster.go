package forecast

import (
	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

// FeatureResolver builds feature vectors, falling back to degraded climate
// inputs when history is short. *features.Builder satisfies it.
type FeatureResolver interface {
	Resolve(zip string, year int) (domain.FeatureVector, []domain.Warning, error)
}

// Forecaster answers risk queries for a ZIP code and target year.
type Forecaster struct {
	model    *Model
	features FeatureResolver
}

// NewForecaster pairs a fitted model with the snapshot it should read.
func NewForecaster(model *Model, features FeatureResolver) *Forecaster {
	return &Forecaster{model: model, features: features}
}

// Forecast builds features for (zip, targetYear) and assesses them. Warnings
// from feature resolution precede the model's own.
func (f *Forecaster) Forecast(zip string, targetYear int) (Assessment, error) {
	fv, warnings, err := f.features.Resolve(zip, targetYear)
	if err != nil {
		return Assessment{}, err
	}
	a := f.model.Assess(fv)
	a.Warnings = append(warnings, a.Warnings...)
	if len(warnings) > 0 {
		a.Confidence = a.Confidence.Lower(domain.ConfidenceMedium)
	}
	return a, nil
}
