package sse

import (
	"context"

	"github.com/starford/fraudlink/internal/features"
	"github.com/starford/fraudlink/internal/worker"
)

// Sink forwards pipeline outcomes to the broker.
type Sink struct {
	b *Broker
}

var (
	_ worker.Sink        = (*Sink)(nil)
	_ worker.FailureSink = (*Sink)(nil)
)

// NewSink creates a pipeline sink publishing to b.
func NewSink(b *Broker) *Sink {
	return &Sink{b: b}
}

// Emit publishes transaction.linked with the connection counts and graph features.
func (s *Sink) Emit(_ context.Context, r worker.Result) error {
	s.b.PublishLinked(Linked{
		TransactionID: r.TransactionID,
		Direct:        len(r.Direct),
		Connected:     len(r.Connected),
		Features:      features.Map(r.Features),
	})
	return nil
}

// Failed publishes transaction.failed.
func (s *Sink) Failed(_ context.Context, transactionID string, err error) {
	s.b.PublishFailed(Failed{TransactionID: transactionID, Error: err.Error()})
}
