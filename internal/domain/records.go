package domain

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/shopspring/decimal"
)

var zipRe = regexp.MustCompile(`^\d{5}$`)

// ValidZIP reports whether s is a five-digit ZIP code.
func ValidZIP(s string) bool {
	return zipRe.MatchString(s)
}

// YearRange is an inclusive span of calendar years.
type YearRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Contains reports whether year falls inside the range.
func (r YearRange) Contains(year int) bool {
	return year >= r.From && year <= r.To
}

// Years lists every year in the range in ascending order.
func (r YearRange) Years() []int {
	if r.To < r.From {
		return nil
	}
	out := make([]int, 0, r.To-r.From+1)
	for y := r.From; y <= r.To; y++ {
		out = append(out, y)
	}
	return out
}

// Key identifies a ZIP code in a given year.
type Key struct {
	ZIP  string `json:"zip_code"`
	Year int    `json:"year"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.ZIP, k.Year)
}

// GeoUnit holds static-ish geographic and economic attributes of a ZIP code
// for one year. Immutable once built for a snapshot.
type GeoUnit struct {
	ZIP                string  `json:"zip_code"`
	Year               int     `json:"year"`
	ElevationM         float64 `json:"elevation_m"`
	CoastalDistanceKM  float64 `json:"coastal_distance_km"`
	Population         int     `json:"population"`
	PropertyValueIndex float64 `json:"property_value_index"`
	Lat                float64 `json:"lat"`
	Lon                float64 `json:"lon"`
}

// FloodZoneRecord summarizes FEMA flood zone coverage of a ZIP code.
type FloodZoneRecord struct {
	ZIP             string   `json:"zip_code"`
	HighRiskPct     float64  `json:"high_risk_pct"`
	ModerateRiskPct float64  `json:"moderate_risk_pct"`
	ZoneTypes       []string `json:"zone_types"`
	HazardScore     float64  `json:"hazard_score"`
}

// HazardScore combines high and moderate flood zone coverage into a 0–1 score.
func HazardScore(highPct, moderatePct float64) float64 {
	s := (highPct*0.8 + moderatePct*0.3) / 100
	if s > 1 {
		return 1
	}
	if s < 0 {
		return 0
	}
	return s
}

// ClimatePoint is one year of derived NOAA climate indicators.
type ClimatePoint struct {
	Year                int     `json:"year"`
	SeaLevelTrendMMYr   float64 `json:"sea_level_trend_mm_per_year"`
	StormSurgeFrequency float64 `json:"storm_surge_frequency"`
}

// ClimateSeries is the time-ordered climate history of a ZIP code.
type ClimateSeries struct {
	ZIP     string         `json:"zip_code"`
	Station string         `json:"station"`
	Points  []ClimatePoint `json:"points"`
}

// Append adds a point. Points must arrive in strictly increasing year order.
func (s *ClimateSeries) Append(p ClimatePoint) error {
	if n := len(s.Points); n > 0 && p.Year <= s.Points[n-1].Year {
		return fmt.Errorf("climate series %s: year %d not after %d", s.ZIP, p.Year, s.Points[n-1].Year)
	}
	s.Points = append(s.Points, p)
	return nil
}

// Lookup returns the point observed in year, if any.
func (s ClimateSeries) Lookup(year int) (ClimatePoint, bool) {
	i := sort.Search(len(s.Points), func(i int) bool { return s.Points[i].Year >= year })
	if i < len(s.Points) && s.Points[i].Year == year {
		return s.Points[i], true
	}
	return ClimatePoint{}, false
}

// Bracket returns the nearest known points strictly before and after year.
func (s ClimateSeries) Bracket(year int) (before, after ClimatePoint, ok bool) {
	i := sort.Search(len(s.Points), func(i int) bool { return s.Points[i].Year > year })
	if i == 0 || i == len(s.Points) {
		return ClimatePoint{}, ClimatePoint{}, false
	}
	return s.Points[i-1], s.Points[i], true
}

// InsuranceRecord aggregates NFIP claims and policies for a ZIP code and year.
// ClaimsPerCapita is filled when the record is joined with a GeoUnit.
type InsuranceRecord struct {
	ZIP             string          `json:"zip_code"`
	Year            int             `json:"year"`
	ClaimsCount     int             `json:"claims_count"`
	PolicyCount     int             `json:"policy_count"`
	AvgPremium      decimal.Decimal `json:"avg_insurance_premium"`
	TotalPremium    decimal.Decimal `json:"total_premium"`
	TotalPaid       decimal.Decimal `json:"total_paid"`
	ClaimsPerCapita Measure         `json:"claims_per_capita"`
}

// LossRatio is paid claims over written premium, or invalid without premium.
func (r InsuranceRecord) LossRatio() Measure {
	if !r.TotalPremium.IsPositive() {
		return Missing()
	}
	return Valid(r.TotalPaid.Div(r.TotalPremium).InexactFloat64())
}

// ClaimsFrequency is claims per policy, or invalid without policies.
func (r InsuranceRecord) ClaimsFrequency() Measure {
	if r.PolicyCount <= 0 {
		return Missing()
	}
	return Valid(float64(r.ClaimsCount) / float64(r.PolicyCount))
}
