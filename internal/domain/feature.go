package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
)

// Measure is a numeric feature that is either present or explicitly missing.
// Missing measures marshal to JSON null.
type Measure struct {
	Value float64
	Valid bool
}

// Valid wraps a present value.
func Valid(v float64) Measure { return Measure{Value: v, Valid: true} }

// Missing returns an absent measure.
func Missing() Measure { return Measure{} }

// Or returns the value when present, otherwise fallback.
func (m Measure) Or(fallback float64) float64 {
	if m.Valid {
		return m.Value
	}
	return fallback
}

func (m Measure) MarshalJSON() ([]byte, error) {
	if !m.Valid || math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

func (m *Measure) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = Measure{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Valid(v)
	return nil
}

// Provenance records how a group of features was obtained.
type Provenance string

const (
	ProvenanceObserved       Provenance = "observed"
	ProvenanceInterpolated   Provenance = "interpolated"
	ProvenanceExtrapolated   Provenance = "extrapolated"
	ProvenanceCarriedForward Provenance = "carried_forward"
	ProvenanceImputed        Provenance = "imputed"
	ProvenanceMissing        Provenance = "missing"
)

// Estimated reports whether values were derived rather than observed for the year.
func (p Provenance) Estimated() bool {
	return p != ProvenanceObserved
}

// FeatureVector is the joined, engineered view of a ZIP code in one year.
type FeatureVector struct {
	ZIP  string `json:"zip_code"`
	Year int    `json:"year"`

	ElevationM         Measure `json:"elevation_m"`
	CoastalDistanceKM  Measure `json:"coastal_distance_km"`
	Population         Measure `json:"population"`
	PropertyValueIndex Measure `json:"property_value_index"`

	FloodZonePct    Measure `json:"flood_zone_pct"`
	ModerateZonePct Measure `json:"moderate_zone_pct"`
	HazardScore     Measure `json:"hazard_score"`

	SeaLevelTrendMMYr   Measure `json:"sea_level_trend_mm_per_year"`
	StormSurgeFrequency Measure `json:"storm_surge_frequency"`

	ClaimsPerCapita Measure `json:"claims_per_capita"`
	ClaimsFrequency Measure `json:"claims_frequency"`
	LossRatio       Measure `json:"loss_ratio"`
	AvgPremium      Measure `json:"avg_insurance_premium"`

	GeoProvenance       Provenance `json:"geo_provenance"`
	FloodZoneProvenance Provenance `json:"flood_zone_provenance"`
	ClimateProvenance   Provenance `json:"climate_provenance"`
	InsuranceProvenance Provenance `json:"insurance_provenance"`

	// Interpolated is set when climate values were linearly interpolated.
	Interpolated bool `json:"interpolated"`
	// BaseYear is the latest historical year contributing insurance data.
	BaseYear   int    `json:"base_year,omitempty"`
	SnapshotID string `json:"snapshot_id,omitempty"`
}

// Key returns the (zip, year) identity of the vector.
func (fv FeatureVector) Key() Key {
	return Key{ZIP: fv.ZIP, Year: fv.Year}
}

// Lerp linearly interpolates between (x0, y0) and (x1, y1) at x.
func Lerp(x0 int, y0 float64, x1 int, y1 float64, x int) float64 {
	if x1 == x0 {
		return y0
	}
	t := float64(x-x0) / float64(x1-x0)
	return y0 + (y1-y0)*t
}

// HashJSON returns a hex SHA-256 of v's JSON encoding. Callers must pass
// values whose encoding is deterministic (structs and sorted slices).
func HashJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash json: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
