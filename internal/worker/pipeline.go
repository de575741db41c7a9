// Package worker runs one transaction through extraction, linking, graph
// resolution and feature generation.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/fraudlink/internal/apperr"
	"github.com/starford/fraudlink/internal/extract"
	"github.com/starford/fraudlink/internal/features"
	"github.com/starford/fraudlink/internal/graph"
	"github.com/starford/fraudlink/internal/models"
)

// Linker is the engine contract the pipeline drives.
type Linker interface {
	UpsertAndLink(ctx context.Context, transactionID string, fields []models.MatchingField) error
	DirectConnections(ctx context.Context, transactionID string) ([]models.DirectConnection, error)
	ConnectedTransactions(ctx context.Context, transactionID string, opts graph.Options) ([]models.ConnectedTransaction, error)
}

// Scorer turns features into a risk score. Implementations live outside this module.
type Scorer interface {
	Score(ctx context.Context, transactionID string, fs []models.Feature) (float64, error)
}

// Sink receives every successfully processed transaction.
type Sink interface {
	Emit(ctx context.Context, r Result) error
}

// FailureSink is implemented by sinks that also want to hear about failures.
type FailureSink interface {
	Failed(ctx context.Context, transactionID string, err error)
}

// Result is the outcome of processing one transaction.
type Result struct {
	TransactionID string                        `json:"transaction_id"`
	Fields        []models.MatchingField        `json:"fields"`
	Direct        []models.DirectConnection     `json:"direct"`
	Connected     []models.ConnectedTransaction `json:"connected"`
	Features      []models.Feature              `json:"features"`
	Score         *float64                      `json:"score,omitempty"`
	Duration      time.Duration                 `json:"duration"`
}

// Pipeline wires extraction, linking and scoring for the processing worker.
type Pipeline struct {
	linker    Linker
	extractor *extract.Extractor
	opts      graph.Options
	scorer    Scorer
	sinks     []Sink
	log       *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithScorer sets the scorer consulted after feature generation.
func WithScorer(s Scorer) Option {
	return func(p *Pipeline) { p.scorer = s }
}

// WithSink adds a sink. Without any, results go to the log sink.
func WithSink(s Sink) Option {
	return func(p *Pipeline) { p.sinks = append(p.sinks, s) }
}

// WithResolveOptions sets the transitive query options.
func WithResolveOptions(o graph.Options) Option {
	return func(p *Pipeline) { p.opts = o }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// NewPipeline creates a pipeline.
func NewPipeline(l Linker, ex *extract.Extractor, opts ...Option) *Pipeline {
	p := &Pipeline{linker: l, extractor: ex, log: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	if len(p.sinks) == 0 {
		p.sinks = []Sink{NewLogSink(p.log)}
	}
	return p
}

// Process links tx and emits its graph features. Any failure aborts before a
// sink sees the transaction, so nothing is emitted with missing features.
func (p *Pipeline) Process(ctx context.Context, tx models.Transaction) (*Result, error) {
	res, err := p.process(ctx, tx)
	if err != nil {
		p.log.Error("worker: process failed",
			slog.String("transaction_id", tx.ID),
			slog.String("error", err.Error()),
		)
		for _, s := range p.sinks {
			if fs, ok := s.(FailureSink); ok {
				fs.Failed(ctx, tx.ID, err)
			}
		}
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) process(ctx context.Context, tx models.Transaction) (*Result, error) {
	start := time.Now()
	if tx.ID == "" {
		return nil, apperr.Invalid("id", "is required")
	}

	fields, err := p.extractor.Fields(tx.Payload)
	if err != nil {
		return nil, apperr.Invalid("payload", err.Error())
	}
	if err := p.linker.UpsertAndLink(ctx, tx.ID, fields); err != nil {
		return nil, err
	}
	direct, err := p.linker.DirectConnections(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	connected, err := p.linker.ConnectedTransactions(ctx, tx.ID, p.opts)
	if err != nil {
		return nil, err
	}

	res := &Result{
		TransactionID: tx.ID,
		Fields:        fields,
		Direct:        direct,
		Connected:     connected,
		Features:      features.Graph(connected, direct),
	}
	if p.scorer != nil {
		score, err := p.scorer.Score(ctx, tx.ID, res.Features)
		if err != nil {
			return nil, fmt.Errorf("worker: score: %w", err)
		}
		res.Score = &score
	}
	res.Duration = time.Since(start)

	for _, s := range p.sinks {
		if err := s.Emit(ctx, *res); err != nil {
			return nil, fmt.Errorf("worker: emit: %w", err)
		}
	}
	return res, nil
}

// LogSink writes results as structured log lines.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a sink that logs to l.
func NewLogSink(l *slog.Logger) *LogSink {
	return &LogSink{log: l}
}

// Emit implements Sink.
func (s *LogSink) Emit(_ context.Context, r Result) error {
	attrs := []any{
		slog.String("transaction_id", r.TransactionID),
		slog.Int("fields", len(r.Fields)),
		slog.Duration("duration", r.Duration),
	}
	for _, f := range r.Features {
		attrs = append(attrs, slog.Float64(f.Name, f.Value))
	}
	if r.Score != nil {
		attrs = append(attrs, slog.Float64("score", *r.Score))
	}
	s.log.Info("worker: transaction processed", attrs...)
	return nil
}
