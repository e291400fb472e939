package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PropertyType is the closed set of insured property classes.
type PropertyType string

const (
	SingleFamily PropertyType = "single_family"
	MultiFamily  PropertyType = "multi_family"
	Commercial   PropertyType = "commercial"
	MobileHome   PropertyType = "mobile_home"
)

// PropertyTypes lists every supported property type.
var PropertyTypes = []PropertyType{SingleFamily, MultiFamily, Commercial, MobileHome}

// ParsePropertyType validates s against the enumeration. Matching is exact
// after trimming surrounding whitespace.
func ParsePropertyType(s string) (PropertyType, error) {
	pt := PropertyType(strings.TrimSpace(s))
	switch pt {
	case SingleFamily, MultiFamily, Commercial, MobileHome:
		return pt, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPropertyType, s)
	}
}

// Confidence is a qualitative reliability level for a prediction.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Lower returns the less confident of c and o.
func (c Confidence) Lower(o Confidence) Confidence {
	rank := map[Confidence]int{ConfidenceHigh: 2, ConfidenceMedium: 1, ConfidenceLow: 0}
	if rank[o] < rank[c] {
		return o
	}
	return c
}

// WarningCode classifies non-fatal annotations on a result.
type WarningCode string

const (
	WarnLowConfidence       WarningCode = "low_confidence"
	WarnInsufficientHistory WarningCode = "insufficient_history"
	WarnDataUnavailable     WarningCode = "data_unavailable"
	WarnImputedFeature      WarningCode = "imputed_feature"
)

// Warning is a structured, non-fatal annotation.
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

// Interval is a closed numeric range.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Width returns Upper - Lower.
func (i Interval) Width() float64 { return i.Upper - i.Lower }

// RiskCategory buckets a flood risk score for display.
func RiskCategory(score float64) string {
	switch {
	case score > 0.7:
		return "Very High"
	case score > 0.5:
		return "High"
	case score > 0.3:
		return "Moderate"
	default:
		return "Low"
	}
}

// PredictionRequest is a single query for the prediction service.
type PredictionRequest struct {
	ZIP          string `json:"zip_code"`
	PropertyType string `json:"property_type"`
	Year         int    `json:"year"`
}

// Prediction is the combined risk and premium result for one query.
type Prediction struct {
	ZIP              string          `json:"zip_code"`
	Year             int             `json:"year"`
	PropertyType     PropertyType    `json:"property_type"`
	FloodRiskScore   float64         `json:"flood_risk_score"`
	RiskInterval     Interval        `json:"risk_interval"`
	RiskCategory     string          `json:"risk_category"`
	PredictedPremium decimal.Decimal `json:"predicted_premium"`
	CurrentPremium   decimal.Decimal `json:"current_premium"`
	PremiumChangePct float64         `json:"premium_change_pct"`
	Confidence       Confidence      `json:"confidence"`
	Warnings         []Warning       `json:"warnings,omitempty"`
	ModelVersion     string          `json:"model_version"`
	SnapshotID       string          `json:"snapshot_id"`
	GeneratedAt      time.Time       `json:"generated_at"`
}

// MarshalJSON renders premiums as plain JSON numbers rounded to cents.
func (p Prediction) MarshalJSON() ([]byte, error) {
	type alias Prediction
	return json.Marshal(struct {
		alias
		PredictedPremium json.Number `json:"predicted_premium"`
		CurrentPremium   json.Number `json:"current_premium"`
	}{
		alias:            alias(p),
		PredictedPremium: json.Number(p.PredictedPremium.StringFixed(2)),
		CurrentPremium:   json.Number(p.CurrentPremium.StringFixed(2)),
	})
}

// RawEvent represents an unprocessed message from the request topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// OutputEvent is the serialized form destined for the result topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}
