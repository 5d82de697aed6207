package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// ErrCircuitOpen is returned while the breaker is rejecting sends.
var ErrCircuitOpen = errors.New("circuit breaker open")

var forwardedBatches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "quiver_forwarded_batches_total",
	Help: "Token batches forwarded over Flight, by outcome",
}, []string{"outcome"})

// Putter is the part of FlightClient a Forwarder needs.
type Putter interface {
	DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error
}

// Forwarder ships token batches to a dataset, backing off through a
// CircuitBreaker when the peer keeps failing.
type Forwarder struct {
	putter  Putter
	dataset string
	breaker *CircuitBreaker
	builder *RecordBatchBuilder
}

// NewForwarder opens the circuit after maxFailures consecutive failures and
// probes again after timeout.
func NewForwarder(putter Putter, dataset string, maxFailures int, timeout time.Duration) *Forwarder {
	return &Forwarder{
		putter:  putter,
		dataset: dataset,
		breaker: NewCircuitBreaker(maxFailures, timeout),
		builder: NewRecordBatchBuilder(memory.NewGoAllocator()),
	}
}

// Forward sends texts and their ids as one batch.
func (f *Forwarder) Forward(ctx context.Context, texts []string, ids [][]int) error {
	if len(ids) == 0 {
		return nil
	}
	if !f.breaker.Allow() {
		forwardedBatches.WithLabelValues("rejected").Inc()
		return ErrCircuitOpen
	}

	rec, err := f.builder.BuildTokenBatch(texts, ids)
	if err != nil {
		return err
	}
	defer rec.Release()

	if err := f.putter.DoPut(ctx, f.dataset, rec); err != nil {
		f.breaker.Failure()
		forwardedBatches.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Str("dataset", f.dataset).Msg("Forwarding token batch failed")
		return fmt.Errorf("forward to %s: %w", f.dataset, err)
	}
	f.breaker.Success()
	forwardedBatches.WithLabelValues("ok").Inc()
	return nil
}

// State reports the breaker state.
func (f *Forwarder) State() State {
	return f.breaker.State()
}
