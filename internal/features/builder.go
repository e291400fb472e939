package features

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

const (
	// RegionalTrendMMYr is the NOAA regional sea level trend used when a ZIP
	// has too little climate history.
	RegionalTrendMMYr = 2.4
	// BaseSurgeFrequency is the regional annual chance of significant surge.
	BaseSurgeFrequency = 0.15
	// MaxSurgeFrequency caps extrapolated surge frequency.
	MaxSurgeFrequency = 0.5
)

// Builder produces feature vectors from one snapshot. It is read-only after
// construction and safe for concurrent use.
type Builder struct {
	snap      *Snapshot
	geo       map[string][]domain.GeoUnit
	flood     map[string]domain.FloodZoneRecord
	climate   map[string]domain.ClimateSeries
	insurance map[string][]domain.InsuranceRecord
}

// NewBuilder indexes a snapshot by ZIP.
func NewBuilder(s *Snapshot) *Builder {
	b := &Builder{
		snap:      s,
		geo:       make(map[string][]domain.GeoUnit),
		flood:     make(map[string]domain.FloodZoneRecord, len(s.FloodZones)),
		climate:   make(map[string]domain.ClimateSeries, len(s.Climate)),
		insurance: make(map[string][]domain.InsuranceRecord),
	}
	// Snapshot slices are already sorted by (zip, year).
	for _, g := range s.GeoUnits {
		b.geo[g.ZIP] = append(b.geo[g.ZIP], g)
	}
	for _, f := range s.FloodZones {
		b.flood[f.ZIP] = f
	}
	for _, c := range s.Climate {
		b.climate[c.ZIP] = c
	}
	for _, r := range s.Insurance {
		b.insurance[r.ZIP] = append(b.insurance[r.ZIP], r)
	}
	return b
}

// Snapshot returns the snapshot the builder reads from.
func (b *Builder) Snapshot() *Snapshot { return b.snap }

// Build joins all sources for (zip, year). Climate values are observed for a
// known year, linearly interpolated between two known years, and held (trend)
// or extrapolated (surge frequency, capped at 0.5) after the last known year.
// Years before the first known climate point fail with ErrDataUnavailable;
// series with fewer than two points fail with ErrInsufficientHistory unless
// the year itself was observed.
func (b *Builder) Build(zip string, year int) (domain.FeatureVector, error) {
	fv := b.base(zip, year)
	if err := b.resolveClimate(&fv); err != nil {
		return domain.FeatureVector{}, err
	}
	return fv, nil
}

// BuildDegraded is Build with climate features replaced by the regional trend
// and base surge frequency, marked as imputed.
func (b *Builder) BuildDegraded(zip string, year int) (domain.FeatureVector, error) {
	fv := b.base(zip, year)
	fv.SeaLevelTrendMMYr = domain.Valid(RegionalTrendMMYr)
	fv.StormSurgeFrequency = domain.Valid(BaseSurgeFrequency)
	fv.ClimateProvenance = domain.ProvenanceImputed
	return fv, nil
}

// Rows builds every (zip, year) in zips x years that Build accepts. Keys that
// fail are skipped; the count of skipped keys is returned.
func (b *Builder) Rows(zips []string, years domain.YearRange) ([]domain.FeatureVector, int) {
	var out []domain.FeatureVector
	skipped := 0
	for _, z := range zips {
		for _, y := range years.Years() {
			fv, err := b.Build(z, y)
			if err != nil {
				skipped++
				continue
			}
			out = append(out, fv)
		}
	}
	return out, skipped
}

func (b *Builder) base(zip string, year int) domain.FeatureVector {
	fv := domain.FeatureVector{
		ZIP:                 zip,
		Year:                year,
		SnapshotID:          b.snap.ID,
		GeoProvenance:       domain.ProvenanceMissing,
		FloodZoneProvenance: domain.ProvenanceMissing,
		ClimateProvenance:   domain.ProvenanceMissing,
		InsuranceProvenance: domain.ProvenanceMissing,
	}

	if g, prov, ok := latestGeo(b.geo[zip], year); ok {
		fv.ElevationM = domain.Valid(g.ElevationM)
		fv.CoastalDistanceKM = domain.Valid(g.CoastalDistanceKM)
		fv.Population = domain.Valid(float64(g.Population))
		fv.PropertyValueIndex = domain.Valid(g.PropertyValueIndex)
		fv.GeoProvenance = prov
	}

	if f, ok := b.flood[zip]; ok {
		fv.FloodZonePct = domain.Valid(f.HighRiskPct)
		fv.ModerateZonePct = domain.Valid(f.ModerateRiskPct)
		fv.HazardScore = domain.Valid(f.HazardScore)
		fv.FloodZoneProvenance = domain.ProvenanceObserved
	}

	if r, prov, ok := latestInsurance(b.insurance[zip], year); ok {
		fv.ClaimsFrequency = r.ClaimsFrequency()
		fv.LossRatio = r.LossRatio()
		if r.PolicyCount > 0 {
			fv.AvgPremium = domain.Valid(r.AvgPremium.InexactFloat64())
		}
		fv.ClaimsPerCapita = r.ClaimsPerCapita
		if pop := fv.Population; !fv.ClaimsPerCapita.Valid && pop.Valid && pop.Value > 0 {
			fv.ClaimsPerCapita = domain.Valid(float64(r.ClaimsCount) / pop.Value)
		}
		fv.InsuranceProvenance = prov
		fv.BaseYear = r.Year
	}
	return fv
}

func (b *Builder) resolveClimate(fv *domain.FeatureVector) error {
	series := b.climate[fv.ZIP]

	if p, ok := series.Lookup(fv.Year); ok {
		fv.SeaLevelTrendMMYr = domain.Valid(p.SeaLevelTrendMMYr)
		fv.StormSurgeFrequency = domain.Valid(p.StormSurgeFrequency)
		fv.ClimateProvenance = domain.ProvenanceObserved
		return nil
	}

	points := series.Points
	if len(points) < 2 {
		return fmt.Errorf("climate %s: %w: %d point(s)", fv.Key(), domain.ErrInsufficientHistory, len(points))
	}
	first, last := points[0], points[len(points)-1]

	switch {
	case fv.Year < first.Year:
		return fmt.Errorf("climate %s: %w: first year %d", fv.Key(), domain.ErrDataUnavailable, first.Year)

	case fv.Year > last.Year:
		fv.SeaLevelTrendMMYr = domain.Valid(last.SeaLevelTrendMMYr)
		fv.StormSurgeFrequency = domain.Valid(extrapolateSurge(points, fv.Year))
		fv.ClimateProvenance = domain.ProvenanceExtrapolated
		return nil

	default:
		before, after, _ := series.Bracket(fv.Year)
		fv.SeaLevelTrendMMYr = domain.Valid(domain.Lerp(before.Year, before.SeaLevelTrendMMYr, after.Year, after.SeaLevelTrendMMYr, fv.Year))
		fv.StormSurgeFrequency = domain.Valid(domain.Lerp(before.Year, before.StormSurgeFrequency, after.Year, after.StormSurgeFrequency, fv.Year))
		fv.ClimateProvenance = domain.ProvenanceInterpolated
		fv.Interpolated = true
		return nil
	}
}

// extrapolateSurge fits surge frequency against year by OLS and evaluates the
// line at year, clamped to [0, MaxSurgeFrequency].
func extrapolateSurge(points []domain.ClimatePoint, year int) float64 {
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = float64(p.Year)
		ys[i] = p.StormSurgeFrequency
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	v := alpha + beta*float64(year)
	switch {
	case v < 0:
		return 0
	case v > MaxSurgeFrequency:
		return MaxSurgeFrequency
	default:
		return v
	}
}

// latestGeo returns the unit for year, or the latest earlier one.
func latestGeo(units []domain.GeoUnit, year int) (domain.GeoUnit, domain.Provenance, bool) {
	i := sort.Search(len(units), func(i int) bool { return units[i].Year > year })
	if i == 0 {
		return domain.GeoUnit{}, domain.ProvenanceMissing, false
	}
	u := units[i-1]
	if u.Year == year {
		return u, domain.ProvenanceObserved, true
	}
	return u, domain.ProvenanceCarriedForward, true
}

func latestInsurance(recs []domain.InsuranceRecord, year int) (domain.InsuranceRecord, domain.Provenance, bool) {
	i := sort.Search(len(recs), func(i int) bool { return recs[i].Year > year })
	if i == 0 {
		return domain.InsuranceRecord{}, domain.ProvenanceMissing, false
	}
	r := recs[i-1]
	if r.Year == year {
		return r, domain.ProvenanceObserved, true
	}
	return r, domain.ProvenanceCarriedForward, true
}
