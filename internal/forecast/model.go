// Package forecast scores flood risk per ZIP code and year with a pooled
// fractional logistic regression over engineered climate and geographic
// features.
package forecast

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

// Feature order of the design matrix.
const (
	featFloodZone = iota
	featModerateZone
	featSeaLevelTrend
	featCumulativeRise
	featSurgeFrequency
	featElevation
	featCoastalDistance
	numFeatures
)

// FeatureNames labels the model coefficients.
var FeatureNames = []string{
	"flood_zone_pct",
	"moderate_zone_pct",
	"sea_level_trend_mm_per_year",
	"cumulative_rise_cm",
	"storm_surge_frequency",
	"elevation_m",
	"log_coastal_distance_km",
}

// monotonic lists features whose coefficients are projected to be >= 0 so the
// score never decreases as sea level rises.
var monotonic = []int{featSeaLevelTrend, featCumulativeRise}

const (
	riseBaseYear = 2000
	minSamples   = 5
	minSigma     = 0.02
	z90          = 1.645
)

var errNoLabels = errors.New("no positive claim frequencies to scale labels")

// Options control training.
type Options struct {
	Iterations   int
	LearningRate float64
	L2           float64
	HorizonYear  int
}

// DefaultOptions returns the training settings used in production.
func DefaultOptions() Options {
	return Options{Iterations: 3000, LearningRate: 0.2, L2: 1e-3, HorizonYear: 2035}
}

// Sample is one training observation. Label is in [0, 1].
type Sample struct {
	Features domain.FeatureVector
	Label    float64
}

// Model is a fitted risk model. Its fields are exported for persistence and
// must not be modified after Fit.
type Model struct {
	FeatureNames   []string  `json:"feature_names"`
	Means          []float64 `json:"means"`
	Scales         []float64 `json:"scales"`
	Intercept      float64   `json:"intercept"`
	Coef           []float64 `json:"coef"`
	ResidualSigma  float64   `json:"residual_sigma"`
	LabelScale     float64   `json:"label_scale"`
	TrainedThrough int       `json:"trained_through"`
	HorizonYear    int       `json:"horizon_year"`
	Samples        int       `json:"samples"`
}

// Labels turns historical feature vectors into training samples. Only rows
// with observed insurance data and a valid claims frequency qualify. Labels
// are claims frequency divided by its 95th percentile, capped at 1.
func Labels(rows []domain.FeatureVector) ([]Sample, float64, error) {
	var freqs []float64
	var kept []domain.FeatureVector
	for _, fv := range rows {
		if fv.InsuranceProvenance != domain.ProvenanceObserved || !fv.ClaimsFrequency.Valid {
			continue
		}
		kept = append(kept, fv)
		freqs = append(freqs, fv.ClaimsFrequency.Value)
	}
	sorted := append([]float64(nil), freqs...)
	sort.Float64s(sorted)
	if len(sorted) == 0 {
		return nil, 0, errNoLabels
	}
	p95 := stat.Quantile(0.95, stat.Empirical, sorted, nil)
	if p95 <= 0 {
		return nil, 0, errNoLabels
	}

	samples := make([]Sample, len(kept))
	for i, fv := range kept {
		samples[i] = Sample{Features: fv, Label: math.Min(1, freqs[i]/p95)}
	}
	return samples, p95, nil
}

// Fit trains a model by full-batch gradient descent from zero weights with a
// fixed iteration count, so the same samples always give the same model.
func Fit(samples []Sample, labelScale float64, opts Options) (*Model, error) {
	if len(samples) < minSamples {
		return nil, fmt.Errorf("fit risk model: %w: %d samples", domain.ErrInsufficientHistory, len(samples))
	}

	raw := make([][]float64, numFeatures)
	for j := range raw {
		raw[j] = make([]float64, 0, len(samples))
	}
	trainedThrough := 0
	for _, s := range samples {
		x := rawFeatures(s.Features)
		for j := 0; j < numFeatures; j++ {
			if !math.IsNaN(x[j]) {
				raw[j] = append(raw[j], x[j])
			}
		}
		if s.Features.Year > trainedThrough {
			trainedThrough = s.Features.Year
		}
	}

	m := &Model{
		FeatureNames:   FeatureNames,
		Means:          make([]float64, numFeatures),
		Scales:         make([]float64, numFeatures),
		Coef:           make([]float64, numFeatures),
		LabelScale:     labelScale,
		TrainedThrough: trainedThrough,
		HorizonYear:    opts.HorizonYear,
		Samples:        len(samples),
	}
	for j := 0; j < numFeatures; j++ {
		if len(raw[j]) == 0 {
			m.Scales[j] = 1
			continue
		}
		mean, std := stat.MeanStdDev(raw[j], nil)
		if math.IsNaN(std) || std < 1e-9 {
			std = 1
		}
		m.Means[j], m.Scales[j] = mean, std
	}

	zs := make([][]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, s := range samples {
		zs[i], _ = m.standardize(s.Features)
		ys[i] = s.Label
	}

	n := float64(len(samples))
	grad := make([]float64, numFeatures)
	for it := 0; it < opts.Iterations; it++ {
		for j := range grad {
			grad[j] = 0
		}
		var gradB float64
		for i, z := range zs {
			r := sigmoid(m.Intercept+floats.Dot(m.Coef, z)) - ys[i]
			gradB += r
			floats.AddScaled(grad, r, z)
		}
		m.Intercept -= opts.LearningRate * gradB / n
		for j := range m.Coef {
			m.Coef[j] -= opts.LearningRate * (grad[j]/n + opts.L2*m.Coef[j])
		}
		for _, j := range monotonic {
			if m.Coef[j] < 0 {
				m.Coef[j] = 0
			}
		}
	}

	var sse float64
	for i, z := range zs {
		d := ys[i] - sigmoid(m.Intercept+floats.Dot(m.Coef, z))
		sse += d * d
	}
	m.ResidualSigma = math.Max(minSigma, math.Sqrt(sse/n))
	return m, nil
}

// Score returns the flood risk score in [0, 1] for fv. Missing features are
// replaced by their training mean and reported as imputed_feature warnings.
func (m *Model) Score(fv domain.FeatureVector) (float64, []domain.Warning) {
	z, imputed := m.standardize(fv)
	score := sigmoid(m.Intercept + floats.Dot(m.Coef, z))

	var warnings []domain.Warning
	if len(imputed) > 0 {
		warnings = append(warnings, domain.Warning{
			Code:    domain.WarnImputedFeature,
			Message: "training mean used for " + strings.Join(imputed, ", "),
		})
	}
	return clamp01(score), warnings
}

// Assessment is a scored forecast with its uncertainty.
type Assessment struct {
	Score      float64
	Interval   domain.Interval
	Confidence domain.Confidence
	Warnings   []domain.Warning
	// Features is the vector that was scored.
	Features domain.FeatureVector
}

// Assess scores fv and attaches a 90% interval. The interval half-width grows
// with distance past the last training year, and widens further when inputs
// were estimated (x1.5) or imputed (x2). Years past the horizon are always low
// confidence.
func (m *Model) Assess(fv domain.FeatureVector) Assessment {
	score, warnings := m.Score(fv)

	h := math.Max(0, float64(fv.Year-m.TrainedThrough))
	span := math.Max(1, float64(m.HorizonYear-m.TrainedThrough))
	half := z90 * m.ResidualSigma * math.Sqrt(1+h/span)
	switch {
	case len(warnings) > 0 || anyProvenance(fv, domain.ProvenanceImputed):
		half *= 2
	case anyEstimated(fv):
		half *= 1.5
	}

	iv := domain.Interval{Lower: clamp01(score - half), Upper: clamp01(score + half)}
	a := Assessment{Score: score, Interval: iv, Confidence: confidenceFor(iv.Width()), Warnings: warnings, Features: fv}

	if fv.Year > m.HorizonYear {
		a.Confidence = domain.ConfidenceLow
		a.Warnings = append(a.Warnings, domain.Warning{
			Code:    domain.WarnLowConfidence,
			Message: fmt.Sprintf("target year %d is beyond the %d forecast horizon", fv.Year, m.HorizonYear),
		})
	}
	return a
}

func confidenceFor(width float64) domain.Confidence {
	switch {
	case width < 0.2:
		return domain.ConfidenceHigh
	case width < 0.4:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

// standardize returns z-scores, substituting 0 (the training mean) for
// missing inputs. The names of substituted features are returned.
func (m *Model) standardize(fv domain.FeatureVector) ([]float64, []string) {
	x := rawFeatures(fv)
	z := make([]float64, numFeatures)
	var imputed []string
	for j := 0; j < numFeatures; j++ {
		if math.IsNaN(x[j]) {
			imputed = append(imputed, FeatureNames[j])
			continue
		}
		z[j] = (x[j] - m.Means[j]) / m.Scales[j]
	}
	return z, imputed
}

// rawFeatures maps a feature vector to the design row. Missing inputs are NaN.
func rawFeatures(fv domain.FeatureVector) []float64 {
	x := make([]float64, numFeatures)
	set := func(j int, m domain.Measure, f func(float64) float64) {
		if !m.Valid {
			x[j] = math.NaN()
			return
		}
		x[j] = f(m.Value)
	}
	identity := func(v float64) float64 { return v }
	pct := func(v float64) float64 { return v / 100 }

	set(featFloodZone, fv.FloodZonePct, pct)
	set(featModerateZone, fv.ModerateZonePct, pct)
	set(featSeaLevelTrend, fv.SeaLevelTrendMMYr, identity)
	years := math.Max(0, float64(fv.Year-riseBaseYear))
	set(featCumulativeRise, fv.SeaLevelTrendMMYr, func(v float64) float64 { return v * years / 10 })
	set(featSurgeFrequency, fv.StormSurgeFrequency, identity)
	set(featElevation, fv.ElevationM, identity)
	set(featCoastalDistance, fv.CoastalDistanceKM, func(v float64) float64 { return math.Log1p(math.Max(0, v)) })
	return x
}

func anyProvenance(fv domain.FeatureVector, p domain.Provenance) bool {
	return fv.GeoProvenance == p || fv.FloodZoneProvenance == p || fv.ClimateProvenance == p
}

func anyEstimated(fv domain.FeatureVector) bool {
	for _, p := range []domain.Provenance{fv.GeoProvenance, fv.FloodZoneProvenance, fv.ClimateProvenance} {
		if p != domain.ProvenanceObserved && p != domain.ProvenanceMissing {
			return true
		}
	}
	return false
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
