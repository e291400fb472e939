package features

import (
	"errors"
	"fmt"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

// Resolve builds the vector for (zip, year) and recovers the two climate gaps
// a valid query can hit. A history too short to interpolate falls back to
// BuildDegraded with an insufficient_history warning. A year before the first
// climate point holds the first point's values with a data_unavailable
// warning.
func (b *Builder) Resolve(zip string, year int) (domain.FeatureVector, []domain.Warning, error) {
	fv, err := b.Build(zip, year)
	switch {
	case err == nil:
		return fv, nil, nil

	case errors.Is(err, domain.ErrInsufficientHistory):
		fv, derr := b.BuildDegraded(zip, year)
		if derr != nil {
			return domain.FeatureVector{}, nil, derr
		}
		return fv, []domain.Warning{{
			Code:    domain.WarnInsufficientHistory,
			Message: fmt.Sprintf("climate history for %s too short, regional trend %.1f mm/yr used", zip, RegionalTrendMMYr),
		}}, nil

	case errors.Is(err, domain.ErrDataUnavailable):
		fv, first, ok := b.backcast(zip, year)
		if !ok {
			return domain.FeatureVector{}, nil, err
		}
		return fv, []domain.Warning{{
			Code:    domain.WarnDataUnavailable,
			Message: fmt.Sprintf("no climate data for %s before %d, %d values held", zip, first, first),
		}}, nil

	default:
		return domain.FeatureVector{}, nil, err
	}
}

// backcast holds the first climate point for years before it. The climate
// provenance is extrapolated. It returns the first point's year.
func (b *Builder) backcast(zip string, year int) (domain.FeatureVector, int, bool) {
	points := b.climate[zip].Points
	if len(points) == 0 || year >= points[0].Year {
		return domain.FeatureVector{}, 0, false
	}
	first := points[0]
	fv := b.base(zip, year)
	fv.SeaLevelTrendMMYr = domain.Valid(first.SeaLevelTrendMMYr)
	fv.StormSurgeFrequency = domain.Valid(first.StormSurgeFrequency)
	fv.ClimateProvenance = domain.ProvenanceExtrapolated
	return fv, first.Year, true
}
