package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

// Predictor answers a single prediction query. *prediction.Service
// satisfies it.
type Predictor interface {
	Predict(ctx context.Context, zip, propertyType string, year int) (domain.Prediction, error)
}

// PredictionTransformer implements Transformer by parsing a request, asking
// the predictor, and serializing the result.
//
// A request that parses but cannot be answered (bad ZIP, property type or
// year, or no data for the query) yields an error result carrying a stable
// error code instead of an error. Only payloads that are not JSON at all, and
// failures with no error code, come back as errors.
type PredictionTransformer struct {
	predictor Predictor
	logger    *slog.Logger
}

// NewTransformer creates a PredictionTransformer.
func NewTransformer(predictor Predictor, logger *slog.Logger) *PredictionTransformer {
	return &PredictionTransformer{
		predictor: predictor,
		logger:    logger,
	}
}

func (t *PredictionTransformer) Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error) {
	req, err := domain.ParseRequest(raw)
	if err != nil {
		return t.reject(raw, req, err)
	}

	p, err := t.predictor.Predict(ctx, req.ZIP, req.PropertyType, req.Year)
	if err != nil {
		return t.reject(raw, req, err)
	}

	out, err := domain.SerializePrediction(p)
	if err != nil {
		return domain.OutputEvent{}, err
	}
	if id := raw.Headers["request_id"]; id != "" {
		out.Headers["request_id"] = id
	}
	t.logger.Debug("prediction served",
		"zip_code", p.ZIP,
		"year", p.Year,
		"property_type", p.PropertyType,
		"model_version", p.ModelVersion,
	)
	return out, nil
}

// reject turns a coded failure into an error result for the sink. Uncoded
// failures are returned unchanged.
func (t *PredictionTransformer) reject(raw domain.RawEvent, req domain.PredictionRequest, cause error) (domain.OutputEvent, error) {
	code, ok := domain.CodeOf(cause)
	if !ok {
		return domain.OutputEvent{}, cause
	}
	out, err := domain.SerializeRejection(domain.Rejection{
		RequestID:    raw.Headers["request_id"],
		ZIP:          req.ZIP,
		PropertyType: req.PropertyType,
		Year:         req.Year,
		Code:         code,
		Message:      cause.Error(),
		GeneratedAt:  domain.Now().UTC(),
	}, raw.Key)
	if err != nil {
		return domain.OutputEvent{}, err
	}
	t.logger.Debug("request rejected", "code", code, "error", cause, "zip_code", req.ZIP)
	return out, nil
}
