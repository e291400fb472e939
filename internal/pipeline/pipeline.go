// Package pipeline runs the request stream: extract prediction requests,
// answer them, and load the results.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// BatchExtractor reads up to batchSize raw events from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer converts a raw request event into a result event. The result
// may be an error result (status header "error"); an error return means the
// request has no answer at all.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error)
}

// BatchLoader writes multiple output events to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.OutputEvent) error
}

// Pipeline answers prediction requests from the source topic in batches.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	batchSize   int
	backoff     time.Duration
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
		backoff:     initialBackoff,
	}
}

// Run answers batches until the context is cancelled. Extract and load
// failures back off exponentially from 200ms up to 5s.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	for ctx.Err() == nil {
		if !p.step(ctx) {
			break
		}
	}
	p.logger.Info("pipeline stopping", "reason", ctx.Err())
	return nil
}

// step handles one batch. It returns false once the pipeline should stop.
func (p *Pipeline) step(ctx context.Context) bool {
	start := time.Now()

	raws, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.wait(ctx)
	}
	if len(raws) == 0 {
		return true
	}

	p.metrics.MessagesConsumed.Add(float64(len(raws)))
	p.metrics.BatchSize.Observe(float64(len(raws)))
	p.backoff = initialBackoff

	b := p.answer(ctx, raws)
	if len(b.results) == 0 {
		return true
	}
	if err := p.loader.LoadBatch(ctx, b.results); err != nil {
		p.logger.Error("load batch failed", "error", err, "batch_size", len(b.results))
		return p.wait(ctx)
	}

	p.metrics.MessagesProduced.Add(float64(len(b.results)))
	for _, raw := range b.answered {
		p.commit(ctx, raw)
	}
	p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	return true
}

// batch is the outcome of answering one extracted batch: the results to load
// and the requests whose offsets commit once the results are written.
type batch struct {
	results  []domain.OutputEvent
	answered []domain.RawEvent
}

// answer transforms each request. Error results are loaded like any other
// result; requests with no answer are committed straight away so they cannot
// block their partition.
func (p *Pipeline) answer(ctx context.Context, raws []domain.RawEvent) batch {
	b := batch{
		results:  make([]domain.OutputEvent, 0, len(raws)),
		answered: make([]domain.RawEvent, 0, len(raws)),
	}
	for _, raw := range raws {
		out, err := p.transformer.Transform(ctx, raw)
		if err != nil {
			p.skip(ctx, raw, err)
			continue
		}
		if out.Headers["status"] == "error" {
			code := out.Headers["error_code"]
			p.metrics.RequestsRejected.WithLabelValues(code).Inc()
			p.logger.Info("request rejected",
				"code", code,
				"request_id", raw.Headers["request_id"],
				"offset", raw.Offset,
			)
		}
		b.results = append(b.results, out)
		b.answered = append(b.answered, raw)
	}
	return b
}

func (p *Pipeline) skip(ctx context.Context, raw domain.RawEvent, err error) {
	p.logger.Warn("request has no answer, skipping",
		"error", err,
		"topic", raw.Topic,
		"partition", raw.Partition,
		"offset", raw.Offset,
	)
	p.metrics.TransformErrors.Inc()
	p.commit(ctx, raw)
}

// wait sleeps for the current backoff and doubles it. It returns false if the
// context ends first.
func (p *Pipeline) wait(ctx context.Context) bool {
	if ctx.Err() != nil || !sleepWithContext(ctx, p.backoff) {
		return false
	}
	p.backoff = min(p.backoff*2, maxBackoff)
	return true
}

func (p *Pipeline) commit(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
