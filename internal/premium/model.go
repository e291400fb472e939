// Package premium predicts annual flood insurance premiums from risk scores
// and ZIP-level insurance history.
package premium

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

// Design matrix columns after the intercept.
const (
	colRisk = iota
	colFloodZone
	colLogPropertyValue
	colClaimsPerCapita
	colLossRatio
	numFeatures
)

// FeatureNames labels the non-intercept coefficients.
var FeatureNames = []string{
	"flood_risk_score",
	"flood_zone_pct",
	"log_property_value_index",
	"claims_per_capita",
	"loss_ratio",
}

// PropertyFactors scales the modeled ZIP premium by property class.
var PropertyFactors = map[domain.PropertyType]float64{
	domain.SingleFamily: 1.0,
	domain.MultiFamily:  0.85,
	domain.Commercial:   1.6,
	domain.MobileHome:   1.25,
}

const (
	// MarketEscalation is the annual market-driven premium increase.
	MarketEscalation = 0.025
	// DefaultBaselinePremium is the national average NFIP premium, used when
	// no observed premium exists for a ZIP.
	DefaultBaselinePremium = 1200
	minSamples             = 8
	ridge                  = 1e-4
)

// Sample pairs an observed feature vector with the risk score the risk model
// assigned it. The regression target is the vector's average premium.
type Sample struct {
	Features  domain.FeatureVector
	RiskScore float64
}

// Model is a fitted log-linear premium model. Exported fields are persisted.
type Model struct {
	FeatureNames    []string        `json:"feature_names"`
	Intercept       float64         `json:"intercept"`
	Coef            []float64       `json:"coef"`
	Means           []float64       `json:"means"`
	StdDevs         []float64       `json:"std_devs"`
	BaseYear        int             `json:"base_year"`
	BaselinePremium decimal.Decimal `json:"baseline_premium"`
	Samples         int             `json:"samples"`
}

// Fit regresses ln(average premium) on the design row with a small ridge
// penalty on the slopes so collinear history still solves.
func Fit(samples []Sample) (*Model, error) {
	var rows [][]float64
	var ys, premiums []float64
	baseYear := 0
	for _, s := range samples {
		if !s.Features.AvgPremium.Valid || s.Features.AvgPremium.Value <= 0 {
			continue
		}
		x := designRow(s.Features, s.RiskScore)
		rows = append(rows, x)
		ys = append(ys, math.Log(s.Features.AvgPremium.Value))
		premiums = append(premiums, s.Features.AvgPremium.Value)
		if s.Features.Year > baseYear {
			baseYear = s.Features.Year
		}
	}
	if len(rows) < minSamples {
		return nil, fmt.Errorf("fit premium model: %w: %d priced samples", domain.ErrInsufficientHistory, len(rows))
	}

	m := &Model{
		FeatureNames: FeatureNames,
		Coef:         make([]float64, numFeatures),
		Means:        make([]float64, numFeatures),
		StdDevs:      make([]float64, numFeatures),
		BaseYear:     baseYear,
		Samples:      len(rows),
	}
	for j := 0; j < numFeatures; j++ {
		var col []float64
		for _, r := range rows {
			if !math.IsNaN(r[j]) {
				col = append(col, r[j])
			}
		}
		if len(col) > 0 {
			m.Means[j], m.StdDevs[j] = stat.MeanStdDev(col, nil)
		}
		if math.IsNaN(m.StdDevs[j]) {
			m.StdDevs[j] = 0
		}
	}

	n, p := len(rows), numFeatures+1
	x := mat.NewDense(n, p, nil)
	for i, r := range rows {
		x.Set(i, 0, 1)
		for j, v := range r {
			if math.IsNaN(v) {
				v = m.Means[j]
			}
			x.Set(i, j+1, v)
		}
	}
	y := mat.NewVecDense(n, ys)

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	for j := 1; j < p; j++ {
		xtx.Set(j, j, xtx.At(j, j)+ridge*float64(n))
	}
	var xty mat.VecDense
	xty.MulVec(x.T(), y)

	var beta mat.VecDense
	if err := beta.SolveVec(&xtx, &xty); err != nil {
		return nil, fmt.Errorf("fit premium model: %w", err)
	}
	m.Intercept = beta.AtVec(0)
	for j := 0; j < numFeatures; j++ {
		m.Coef[j] = beta.AtVec(j + 1)
	}

	sort.Float64s(premiums)
	median := stat.Quantile(0.5, stat.Empirical, premiums, nil)
	m.BaselinePremium = decimal.NewFromFloat(median).Round(2)
	if !m.BaselinePremium.IsPositive() {
		m.BaselinePremium = decimal.NewFromInt(DefaultBaselinePremium)
	}
	return m, nil
}

// Quote is a premium prediction for one property type and year.
type Quote struct {
	Predicted decimal.Decimal
	Current   decimal.Decimal
	ChangePct float64
}

// Predict returns the annual premium for a property of type pt at risk score
// risk in fv's year. The modeled ZIP premium is scaled by the property factor
// and escalated by 2.5% per year past the base year. Risk and climate enter
// only through the regression: there is no separate risk multiplier or
// climate escalation on top of the market rate. Results are rounded to
// cents and never negative. An unknown property type returns
// ErrInvalidPropertyType and no quote.
func (m *Model) Predict(fv domain.FeatureVector, risk float64, pt domain.PropertyType) (Quote, error) {
	factor, ok := PropertyFactors[pt]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %q", domain.ErrInvalidPropertyType, pt)
	}

	x := designRow(fv, risk)
	logp := m.Intercept
	for j, v := range x {
		if math.IsNaN(v) {
			v = m.Means[j]
		}
		logp += m.Coef[j] * v
	}

	base := m.BaseYear
	if fv.BaseYear > 0 {
		base = fv.BaseYear
	}
	years := math.Max(0, float64(fv.Year-base))
	escalation := math.Pow(1+MarketEscalation, years)

	predicted := math.Exp(logp) * factor * escalation
	if math.IsNaN(predicted) || math.IsInf(predicted, 0) || predicted < 0 {
		predicted = 0
	}

	current := m.BaselinePremium
	if fv.AvgPremium.Valid && fv.AvgPremium.Value > 0 {
		current = decimal.NewFromFloat(fv.AvgPremium.Value)
	}
	current = current.Mul(decimal.NewFromFloat(factor)).Round(2)

	q := Quote{
		Predicted: decimal.NewFromFloat(predicted).Round(2),
		Current:   current,
	}
	if current.IsPositive() {
		q.ChangePct = q.Predicted.Sub(current).Div(current).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	}
	return q, nil
}

// Importance is one feature's share of the model's explained variation.
type Importance struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// FeatureImportance returns |coef x stddev| for each feature normalized to
// sum to 1, sorted by weight descending.
func (m *Model) FeatureImportance() []Importance {
	out := make([]Importance, numFeatures)
	var total float64
	for j := 0; j < numFeatures; j++ {
		w := math.Abs(m.Coef[j] * m.StdDevs[j])
		out[j] = Importance{Feature: m.FeatureNames[j], Weight: w}
		total += w
	}
	if total > 0 {
		for j := range out {
			out[j].Weight /= total
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}

// designRow maps features to regression inputs; missing inputs are NaN.
func designRow(fv domain.FeatureVector, risk float64) []float64 {
	x := make([]float64, numFeatures)
	x[colRisk] = risk
	nan := func(j int) { x[j] = math.NaN() }

	if fv.FloodZonePct.Valid {
		x[colFloodZone] = fv.FloodZonePct.Value / 100
	} else {
		nan(colFloodZone)
	}
	if fv.PropertyValueIndex.Valid && fv.PropertyValueIndex.Value > 0 {
		x[colLogPropertyValue] = math.Log(fv.PropertyValueIndex.Value)
	} else {
		nan(colLogPropertyValue)
	}
	if fv.ClaimsPerCapita.Valid {
		x[colClaimsPerCapita] = fv.ClaimsPerCapita.Value * 100
	} else {
		nan(colClaimsPerCapita)
	}
	if fv.LossRatio.Valid {
		x[colLossRatio] = fv.LossRatio.Value
	} else {
		nan(colLossRatio)
	}
	return x
}
