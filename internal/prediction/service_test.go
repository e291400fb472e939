package prediction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/features"
	"github.com/couchcryptid/flood-risk-service/internal/forecast"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/premium"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingResolver returns a fixed vector for any key and counts calls.
type countingResolver struct {
	fv       domain.FeatureVector
	warnings []domain.Warning
	err      error
	calls    atomic.Int64
}

func (r *countingResolver) Resolve(zip string, year int) (domain.FeatureVector, []domain.Warning, error) {
	r.calls.Add(1)
	if r.err != nil {
		return domain.FeatureVector{}, nil, r.err
	}
	fv := r.fv
	fv.ZIP, fv.Year = zip, year
	return fv, r.warnings, nil
}

// tampaVector is ZIP 33602 in 2030: 1.2 m elevation, 4.5 mm/yr sea level
// trend, 0.02 claims per capita.
func tampaVector() domain.FeatureVector {
	return domain.FeatureVector{
		ZIP:                 "33602",
		Year:                2030,
		ElevationM:          domain.Valid(1.2),
		CoastalDistanceKM:   domain.Valid(0.8),
		PropertyValueIndex:  domain.Valid(300000),
		FloodZonePct:        domain.Valid(45),
		ModerateZonePct:     domain.Valid(20),
		SeaLevelTrendMMYr:   domain.Valid(4.5),
		StormSurgeFrequency: domain.Valid(0.2),
		ClaimsPerCapita:     domain.Valid(0.02),
		LossRatio:           domain.Valid(0.4),
		AvgPremium:          domain.Valid(1500),
		GeoProvenance:       domain.ProvenanceCarriedForward,
		FloodZoneProvenance: domain.ProvenanceObserved,
		ClimateProvenance:   domain.ProvenanceExtrapolated,
		InsuranceProvenance: domain.ProvenanceCarriedForward,
		BaseYear:            2020,
	}
}

func testModels(version string, features forecast.FeatureResolver) ModelSet {
	n := len(forecast.FeatureNames)
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	return ModelSet{
		Version:    version,
		SnapshotID: "snap-test",
		Risk: &forecast.Model{
			FeatureNames:   forecast.FeatureNames,
			Means:          make([]float64, n),
			Scales:         ones,
			Intercept:      -1,
			Coef:           []float64{1.0, 0.3, 0.1, 0.05, 1.0, -0.3, -0.2},
			ResidualSigma:  0.03,
			LabelScale:     0.1,
			TrainedThrough: 2020,
			HorizonYear:    2035,
			Samples:        100,
		},
		Premium: &premium.Model{
			FeatureNames:    premium.FeatureNames,
			Intercept:       7.0,
			Coef:            []float64{0.5, 0.3, 0, 0.05, 0.1},
			Means:           make([]float64, len(premium.FeatureNames)),
			StdDevs:         []float64{0.2, 0.2, 0.3, 1, 0.3},
			BaseYear:        2020,
			BaselinePremium: decimal.NewFromInt(1450),
			Samples:         100,
		},
		Features: features,
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)))
	t.Cleanup(func() { domain.SetClock(nil) })
	return NewService(config.DefaultRegion(), 100, observability.NewMetricsForTesting(), discardLogger())
}

func TestPredict_EndToEndCacheHit(t *testing.T) {
	svc := newTestService(t)
	resolver := &countingResolver{fv: tampaVector()}
	svc.Refresh(testModels("v20250301-aaaaaaaa", resolver))

	first, err := svc.Predict(context.Background(), "33602", "single_family", 2030)
	require.NoError(t, err)

	assert.Equal(t, "33602", first.ZIP)
	assert.Equal(t, 2030, first.Year)
	assert.Equal(t, domain.SingleFamily, first.PropertyType)
	assert.True(t, first.FloodRiskScore > 0 && first.FloodRiskScore < 1)
	assert.LessOrEqual(t, first.RiskInterval.Lower, first.FloodRiskScore)
	assert.GreaterOrEqual(t, first.RiskInterval.Upper, first.FloodRiskScore)
	assert.True(t, first.PredictedPremium.IsPositive())
	assert.True(t, first.PredictedPremium.Equal(first.PredictedPremium.Round(2)), "rounded to cents")
	assert.Equal(t, "v20250301-aaaaaaaa", first.ModelVersion)
	assert.NotEmpty(t, first.Confidence)

	second, err := svc.Predict(context.Background(), "33602", "single_family", 2030)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), resolver.calls.Load(), "second call is served from cache")
	assert.Equal(t, 1, svc.cache.len())
}

func TestPredict_ValidatesBeforeModelWork(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Predict(ctx, "33602", "single_family", 2030)
	require.ErrorIs(t, err, domain.ErrModelsNotLoaded)

	resolver := &countingResolver{fv: tampaVector()}
	svc.Refresh(testModels("v1", resolver))

	cases := map[string]struct {
		zip, pt string
		year    int
		want    error
	}{
		"malformed zip":      {"3360", "single_family", 2030, domain.ErrInvalidZip},
		"zip outside region": {"90210", "single_family", 2030, domain.ErrInvalidZip},
		"unknown type":       {"33602", "castle", 2030, domain.ErrInvalidPropertyType},
		"year before data":   {"33602", "commercial", 1999, domain.ErrInvalidYear},
		"year past max":      {"33602", "commercial", 2101, domain.ErrInvalidYear},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			p, err := svc.Predict(ctx, tc.zip, tc.pt, tc.year)
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, domain.Prediction{}, p, "no partial result")
		})
	}
	assert.Zero(t, resolver.calls.Load())
}

func TestPredict_PropertyTypesAreSeparateEntries(t *testing.T) {
	svc := newTestService(t)
	resolver := &countingResolver{fv: tampaVector()}
	svc.Refresh(testModels("v1", resolver))

	sf, err := svc.Predict(context.Background(), "33602", "single_family", 2030)
	require.NoError(t, err)
	com, err := svc.Predict(context.Background(), "33602", "commercial", 2030)
	require.NoError(t, err)

	assert.Equal(t, sf.FloodRiskScore, com.FloodRiskScore)
	assert.True(t, com.PredictedPremium.GreaterThan(sf.PredictedPremium))
	assert.Equal(t, int64(2), resolver.calls.Load())
}

func TestPredict_DataUnavailableIsNotCached(t *testing.T) {
	svc := newTestService(t)
	resolver := &countingResolver{err: domain.ErrDataUnavailable}
	svc.Refresh(testModels("v1", resolver))

	for i := 0; i < 2; i++ {
		_, err := svc.Predict(context.Background(), "33602", "single_family", 2010)
		require.ErrorIs(t, err, domain.ErrDataUnavailable)
	}
	assert.Equal(t, int64(2), resolver.calls.Load())
}

func TestPredict_DegradedFeaturesCarryWarnings(t *testing.T) {
	svc := newTestService(t)
	fv := tampaVector()
	fv.ClimateProvenance = domain.ProvenanceImputed
	resolver := &countingResolver{
		fv:       fv,
		warnings: []domain.Warning{{Code: domain.WarnInsufficientHistory, Message: "short history"}},
	}
	svc.Refresh(testModels("v1", resolver))

	p, err := svc.Predict(context.Background(), "33602", "mobile_home", 2030)
	require.NoError(t, err)
	require.NotEmpty(t, p.Warnings)
	assert.Equal(t, domain.WarnInsufficientHistory, p.Warnings[0].Code)
	assert.NotEqual(t, domain.ConfidenceHigh, p.Confidence)
}

func TestPredict_BeyondHorizonIsLowConfidence(t *testing.T) {
	svc := newTestService(t)
	svc.Refresh(testModels("v1", &countingResolver{fv: tampaVector()}))

	p, err := svc.Predict(context.Background(), "33602", "single_family", 2060)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfidenceLow, p.Confidence)
	require.NotEmpty(t, p.Warnings)
	assert.Equal(t, domain.WarnLowConfidence, p.Warnings[len(p.Warnings)-1].Code)
}

func TestRefresh_ClearsCache(t *testing.T) {
	svc := newTestService(t)
	resolver := &countingResolver{fv: tampaVector()}
	svc.Refresh(testModels("v1", resolver))

	_, err := svc.Predict(context.Background(), "33602", "single_family", 2030)
	require.NoError(t, err)

	svc.Refresh(testModels("v2", resolver))
	assert.Zero(t, svc.cache.len())

	p, err := svc.Predict(context.Background(), "33602", "single_family", 2030)
	require.NoError(t, err)
	assert.Equal(t, "v2", p.ModelVersion)
	assert.Equal(t, int64(2), resolver.calls.Load())
}

func TestPredict_ConcurrentWithRefresh(t *testing.T) {
	svc := newTestService(t)
	resolver := &countingResolver{fv: tampaVector()}
	svc.Refresh(testModels("v1", resolver))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				year := 2020 + (i+j)%10
				_, err := svc.Predict(context.Background(), "33602", "single_family", year)
				assert.NoError(t, err)
			}
		}(i)
	}
	for k := 0; k < 5; k++ {
		svc.Refresh(testModels("v-refresh", resolver))
	}
	wg.Wait()
	assert.Equal(t, "v-refresh", svc.Version())
}

func TestPredict_CancelledContext(t *testing.T) {
	svc := newTestService(t)
	svc.Refresh(testModels("v1", &countingResolver{fv: tampaVector()}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Predict(ctx, "33602", "single_family", 2030)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCheckReadiness(t *testing.T) {
	svc := newTestService(t)
	require.ErrorIs(t, svc.CheckReadiness(context.Background()), domain.ErrModelsNotLoaded)

	svc.Refresh(testModels("v1", &countingResolver{fv: tampaVector()}))
	require.NoError(t, svc.CheckReadiness(context.Background()))
}

func TestLRUCache_Eviction(t *testing.T) {
	c := newLRUCache(2)
	a := cacheKey{zip: "33602", year: 2030, pt: domain.SingleFamily}
	b := cacheKey{zip: "33603", year: 2030, pt: domain.SingleFamily}
	d := cacheKey{zip: "33604", year: 2030, pt: domain.SingleFamily}

	c.put(a, domain.Prediction{ZIP: "33602"})
	c.put(b, domain.Prediction{ZIP: "33603"})
	_, _ = c.get(a) // a is now most recent
	c.put(d, domain.Prediction{ZIP: "33604"})

	_, ok := c.get(b)
	assert.False(t, ok, "least recently used entry evicted")
	got, ok := c.get(a)
	require.True(t, ok)
	assert.Equal(t, "33602", got.ZIP)
}

func TestLRUCache_EntriesAreImmutable(t *testing.T) {
	c := newLRUCache(4)
	key := cacheKey{zip: "33602", year: 2030, pt: domain.Commercial}
	c.put(key, domain.Prediction{ZIP: "33602", Warnings: []domain.Warning{{Code: domain.WarnLowConfidence}}})

	got, _ := c.get(key)
	got.Warnings[0].Code = domain.WarnImputedFeature
	c.put(key, domain.Prediction{ZIP: "overwrite"})

	again, _ := c.get(key)
	assert.Equal(t, "33602", again.ZIP)
	assert.Equal(t, domain.WarnLowConfidence, again.Warnings[0].Code)
}

func TestPredict_YearBeforeClimateHistory(t *testing.T) {
	svc := newTestService(t)
	var points []domain.ClimatePoint
	for y := 2015; y <= 2024; y++ {
		points = append(points, domain.ClimatePoint{Year: y, SeaLevelTrendMMYr: 3 + 0.1*float64(y-2015), StormSurgeFrequency: 0.15})
	}
	snap, err := features.NewSnapshot("Tampa Bay", domain.YearRange{From: 2010, To: 2024},
		[]domain.GeoUnit{{ZIP: "33602", Year: 2010, ElevationM: 1.2, CoastalDistanceKM: 0.8, Population: 12000, PropertyValueIndex: 300000}},
		[]domain.FloodZoneRecord{{ZIP: "33602", HighRiskPct: 45, ModerateRiskPct: 20}},
		[]domain.ClimateSeries{{ZIP: "33602", Station: "8726607", Points: points}},
		nil, nil)
	require.NoError(t, err)
	ms, err := NewModelSet(artifactFor("v1", snap), snap)
	require.NoError(t, err)
	svc.Refresh(ms)

	p, err := svc.Predict(context.Background(), "33602", "single_family", 2012)
	require.NoError(t, err, "years before the first climate point are recovered")
	require.NotEmpty(t, p.Warnings)
	assert.Equal(t, domain.WarnDataUnavailable, p.Warnings[0].Code)
	assert.NotEqual(t, domain.ConfidenceHigh, p.Confidence)
	assert.True(t, p.FloodRiskScore >= 0 && p.FloodRiskScore <= 1)
}

func TestSummaries(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.ClimateSummary()
	require.ErrorIs(t, err, domain.ErrModelsNotLoaded)
	svc.Refresh(testModels("v0", &countingResolver{}))
	_, err = svc.InsuranceSummary()
	require.ErrorIs(t, err, domain.ErrModelsNotLoaded, "model sets without a snapshot have no summaries")

	base := refresherSnapshot(t)
	snap, err := features.NewSnapshot(base.Region, base.Years, base.GeoUnits, base.FloodZones, base.Climate,
		[]domain.InsuranceRecord{
			{ZIP: "33602", Year: 2019, ClaimsCount: 12, PolicyCount: 400, AvgPremium: decimal.NewFromInt(1500), TotalPremium: decimal.NewFromInt(600000), TotalPaid: decimal.NewFromInt(150000)},
			{ZIP: "90210", Year: 2019, ClaimsCount: 1, PolicyCount: 10, AvgPremium: decimal.NewFromInt(800), TotalPremium: decimal.NewFromInt(8000)},
		}, nil)
	require.NoError(t, err)
	ms, err := NewModelSet(artifactFor("v1", snap), snap)
	require.NoError(t, err)
	svc.Refresh(ms)

	cs, err := svc.ClimateSummary()
	require.NoError(t, err)
	assert.Equal(t, snap.ID, cs.SnapshotID)
	assert.Equal(t, 2025, cs.StartYear, "projections start at the current year")
	assert.InDelta(t, 4.5, cs.TrendMMYr, 1e-12)
	assert.InDelta(t, 45, cs.RiseByHorizonMM, 1e-9)

	ins, err := svc.InsuranceSummary()
	require.NoError(t, err)
	assert.Equal(t, 13, ins.TotalClaims)
	assert.Equal(t, 410, ins.TotalPolicies)
	assert.Equal(t, 2, ins.ZIPsAnalyzed)

	zips, err := svc.ZIPs()
	require.NoError(t, err)
	require.Len(t, zips, 1, "ZIPs outside the region are not listed")
	assert.Equal(t, "33602", zips[0].ZIP)
	assert.True(t, zips[0].Insurance)
}
