package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-quiver/internal/client"
	"github.com/23skdu/longbow-quiver/internal/wordpiece"
)

const (
	contentTypeCBOR  = "application/cbor"
	contentTypeArrow = "application/vnd.apache.arrow.stream"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quiver_request_duration_seconds",
		Help:    "Time spent serving tokenizer requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	requestsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_requests_rejected_total",
		Help: "Requests refused before any work was done",
	}, []string{"reason"})
)

var tracer = otel.Tracer("quiver-server")

// Forwarder ships encoded batches downstream.
type Forwarder interface {
	Forward(ctx context.Context, texts []string, ids [][]int) error
}

// VocabInfo is the /vocab response.
type VocabInfo struct {
	Size           int                         `cbor:"size"`
	ReservedTokens []string                    `cbor:"reserved_tokens"`
	Sentinels      wordpiece.Sentinels         `cbor:"sentinels"`
	Normalizer     wordpiece.NormalizerOptions `cbor:"normalizer"`
	MaxInputChars  int                         `cbor:"max_input_chars"`
}

type Server struct {
	pipeline  *wordpiece.Pipeline
	forwarder Forwarder
	alloc     memory.Allocator
	sem       *semaphore.Weighted
	maxBatch  int
}

// NewServer serves p. forwarder may be nil.
func NewServer(p *wordpiece.Pipeline, forwarder Forwarder, maxConcurrent, maxBatch int) *Server {
	return &Server{
		pipeline:  p,
		forwarder: forwarder,
		alloc:     memory.NewGoAllocator(),
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		maxBatch:  maxBatch,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /tokenize", s.admit("tokenize", s.handleTokenize))
	mux.HandleFunc("POST /tokenize/arrow", s.admit("tokenize_arrow", s.handleTokenizeArrow))
	mux.HandleFunc("POST /detokenize", s.admit("detokenize", s.handleDetokenize))
	mux.HandleFunc("POST /lookup", s.admit("lookup", s.handleLookup))
	mux.HandleFunc("GET /vocab", s.handleVocab)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// admit times the request and rejects it when max_concurrent requests are
// already in flight.
func (s *Server) admit(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}()

		if !s.sem.TryAcquire(1) {
			requestsRejected.WithLabelValues("busy").Inc()
			http.Error(w, "Server busy", http.StatusServiceUnavailable)
			return
		}
		defer s.sem.Release(1)
		next(w, r)
	}
}

func (s *Server) handleTokenize(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleTokenize")
	defer span.End()

	var texts []string
	if err := cbor.NewDecoder(r.Body).Decode(&texts); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}
	if !s.checkBatch(w, len(texts)) {
		return
	}
	span.SetAttributes(attribute.Int("sequence_count", len(texts)))

	ids, err := s.pipeline.TokenizeBatch(ctx, texts)
	if err != nil {
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.forward(ctx, texts, ids)
	writeCBOR(w, ids)
}

func (s *Server) handleDetokenize(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleDetokenize")
	defer span.End()

	var batch [][]int
	if err := cbor.NewDecoder(r.Body).Decode(&batch); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}
	if !s.checkBatch(w, len(batch)) {
		return
	}
	span.SetAttributes(attribute.Int("sequence_count", len(batch)))

	texts, err := s.pipeline.DetokenizeBatch(ctx, batch)
	if err != nil {
		span.RecordError(err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeCBOR(w, texts)
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "handleLookup")
	defer span.End()

	var ids []int
	if err := cbor.NewDecoder(r.Body).Decode(&ids); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}
	pieces, err := s.pipeline.Lookup(ids)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeCBOR(w, pieces)
}

// handleTokenizeArrow reads an Arrow IPC stream of texts and answers with a
// stream of token batches, one per input record.
func (s *Server) handleTokenizeArrow(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleTokenizeArrow")
	defer span.End()

	reader, err := ipc.NewReader(r.Body, ipc.WithAllocator(s.alloc))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create IPC reader: %v", err), http.StatusBadRequest)
		return
	}
	defer reader.Release()

	w.Header().Set("Content-Type", contentTypeArrow)
	writer := ipc.NewWriter(w, ipc.WithSchema(client.TokenSchema), ipc.WithAllocator(s.alloc))
	builder := client.NewRecordBatchBuilder(s.alloc)
	total := 0

	for reader.Next() {
		texts, err := client.ReadTexts(reader.Record())
		if err != nil {
			log.Warn().Err(err).Msg("Skipping Arrow batch without a text column")
			continue
		}
		if len(texts) > s.maxBatch {
			requestsRejected.WithLabelValues("batch_too_large").Inc()
			if total == 0 {
				http.Error(w, fmt.Sprintf("record of %d texts exceeds limit %d", len(texts), s.maxBatch), http.StatusRequestEntityTooLarge)
				return
			}
			// The response is already streaming; end it at the last full batch.
			log.Warn().Int("rows", len(texts)).Int("limit", s.maxBatch).Msg("Arrow record exceeds batch limit")
			break
		}
		ids, err := s.pipeline.TokenizeBatch(ctx, texts)
		if err != nil {
			span.RecordError(err)
			break
		}
		s.forward(ctx, texts, ids)

		rec, err := builder.BuildTokenBatch(texts, ids)
		if err != nil || rec == nil {
			continue
		}
		err = writer.Write(rec)
		rec.Release()
		if err != nil {
			log.Error().Err(err).Msg("Failed to write token batch")
			break
		}
		total += len(texts)
	}
	if err := reader.Err(); err != nil {
		log.Error().Err(err).Msg("Error reading Arrow stream")
	}
	if err := writer.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close Arrow stream")
	}
	span.SetAttributes(attribute.Int("sequence_count", total))
}

func (s *Server) handleVocab(w http.ResponseWriter, r *http.Request) {
	m := s.pipeline.Manifest()
	writeCBOR(w, VocabInfo{
		Size:           s.pipeline.VocabSize(),
		ReservedTokens: s.pipeline.ReservedTokens(),
		Sentinels:      s.pipeline.Sentinels(),
		Normalizer:     m.Normalizer,
		MaxInputChars:  m.MaxInputChars,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) checkBatch(w http.ResponseWriter, n int) bool {
	if n > s.maxBatch {
		requestsRejected.WithLabelValues("batch_too_large").Inc()
		http.Error(w, fmt.Sprintf("batch of %d exceeds limit %d", n, s.maxBatch), http.StatusRequestEntityTooLarge)
		return false
	}
	return true
}

// forward failures are logged and never fail the request.
func (s *Server) forward(ctx context.Context, texts []string, ids [][]int) {
	if s.forwarder == nil {
		return
	}
	if err := s.forwarder.Forward(ctx, texts, ids); err != nil {
		log.Error().Err(err).Msg("Error forwarding batch to Longbow")
	}
}

func statusFor(err error) int {
	if errors.Is(err, wordpiece.ErrIDOutOfRange) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeCBOR(w http.ResponseWriter, v any) {
	data, err := cbor.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeCBOR)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
