package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// rawRequest accepts the year as either a JSON number or a string, since
// upstream producers are not consistent about it.
type rawRequest struct {
	ZIP          string          `json:"zip_code"`
	PropertyType string          `json:"property_type"`
	Year         json.RawMessage `json:"year"`
}

// ParseRequest deserializes a RawEvent's value into a PredictionRequest.
// Unexpected keys fail with ErrInvalidRequest. When only the year is bad the
// returned request still carries the ZIP and property type so the rejection
// can echo them. Field validation is left to the prediction service.
func ParseRequest(raw RawEvent) (PredictionRequest, error) {
	if !json.Valid(raw.Value) {
		return PredictionRequest{}, errors.New("parse prediction request: malformed json")
	}

	dec := json.NewDecoder(bytes.NewReader(raw.Value))
	dec.DisallowUnknownFields()
	var rec rawRequest
	if err := dec.Decode(&rec); err != nil {
		return PredictionRequest{}, fmt.Errorf("parse prediction request: %w: %v", ErrInvalidRequest, err)
	}

	req := PredictionRequest{
		ZIP:          strings.TrimSpace(rec.ZIP),
		PropertyType: strings.TrimSpace(rec.PropertyType),
	}
	year, err := parseYear(rec.Year)
	if err != nil {
		return req, fmt.Errorf("parse prediction request: %w", err)
	}
	req.Year = year
	return req, nil
}

func parseYear(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("%w: year is required", ErrInvalidYear)
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidYear, raw)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidYear, s)
	}
	return n, nil
}

// SerializePrediction marshals a prediction into an output event keyed by its
// deterministic ID.
func SerializePrediction(p Prediction) (OutputEvent, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize prediction: %w", err)
	}
	return OutputEvent{
		Key:   []byte(PredictionID(p.ZIP, p.Year, p.PropertyType, p.ModelVersion)),
		Value: data,
		Headers: map[string]string{
			"status":        "ok",
			"model_version": p.ModelVersion,
			"confidence":    string(p.Confidence),
			"generated_at":  p.GeneratedAt.Format(time.RFC3339),
		},
	}, nil
}

// PredictionID produces a deterministic ID for a query under a model version,
// so replays of the same request overwrite rather than duplicate downstream.
func PredictionID(zip string, year int, pt PropertyType, modelVersion string) string {
	input := fmt.Sprintf("%s|%d|%s|%s", zip, year, pt, modelVersion)
	hash := sha256.Sum256([]byte(input))
	return zip + "-" + strconv.Itoa(year) + "-" + hex.EncodeToString(hash[:8])
}

// Rejection is the result written back for a query that cannot be answered.
type Rejection struct {
	RequestID    string    `json:"request_id,omitempty"`
	ZIP          string    `json:"zip_code"`
	PropertyType string    `json:"property_type"`
	Year         int       `json:"year,omitempty"`
	Code         ErrorCode `json:"error_code"`
	Message      string    `json:"error"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// SerializeRejection marshals a rejection keyed by its request ID, falling
// back to fallbackKey when the request carried none.
func SerializeRejection(r Rejection, fallbackKey []byte) (OutputEvent, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize rejection: %w", err)
	}
	key := fallbackKey
	headers := map[string]string{
		"status":       "error",
		"error_code":   string(r.Code),
		"generated_at": r.GeneratedAt.Format(time.RFC3339),
	}
	if r.RequestID != "" {
		key = []byte(r.RequestID)
		headers["request_id"] = r.RequestID
	}
	return OutputEvent{Key: key, Value: data, Headers: headers}, nil
}
