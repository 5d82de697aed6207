package main

import (
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-quiver/internal/client"
	"github.com/23skdu/longbow-quiver/internal/wordpiece"
)

// QuiverFlightServer tokenizes over DoExchange: each record of texts sent
// by the client is answered with one token batch. It shares the HTTP
// server's concurrency and batch limits.
type QuiverFlightServer struct {
	flight.BaseFlightServer
	pipeline  *wordpiece.Pipeline
	forwarder Forwarder
	alloc     memory.Allocator
	sem       *semaphore.Weighted
	maxBatch  int
}

func NewQuiverFlightServer(s *Server) *QuiverFlightServer {
	return &QuiverFlightServer{
		pipeline:  s.pipeline,
		forwarder: s.forwarder,
		alloc:     memory.NewGoAllocator(),
		sem:       s.sem,
		maxBatch:  s.maxBatch,
	}
}

func (s *QuiverFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	ctx, span := tracer.Start(stream.Context(), "DoExchange")
	defer span.End()

	if !s.sem.TryAcquire(1) {
		requestsRejected.WithLabelValues("busy").Inc()
		return status.Error(codes.ResourceExhausted, "server busy")
	}
	defer s.sem.Release(1)

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(client.TokenSchema), ipc.WithAllocator(s.alloc))
	defer writer.Close()
	builder := client.NewRecordBatchBuilder(s.alloc)

	for reader.Next() {
		texts, err := client.ReadTexts(reader.Record())
		if err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}
		if len(texts) > s.maxBatch {
			requestsRejected.WithLabelValues("batch_too_large").Inc()
			return status.Errorf(codes.InvalidArgument, "record of %d texts exceeds limit %d", len(texts), s.maxBatch)
		}
		ids, err := s.pipeline.TokenizeBatch(ctx, texts)
		if err != nil {
			return err
		}
		if s.forwarder != nil {
			if err := s.forwarder.Forward(ctx, texts, ids); err != nil {
				log.Error().Err(err).Msg("Error forwarding batch to Longbow")
			}
		}

		rec, err := builder.BuildTokenBatch(texts, ids)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		err = writer.Write(rec)
		rec.Release()
		if err != nil {
			return err
		}
		log.Debug().Int("rows", len(texts)).Msg("DoExchange answered batch")
	}
	return reader.Err()
}

// NewFlightServer registers a QuiverFlightServer for s and listens on addr.
// The caller runs Serve and Shutdown.
func NewFlightServer(addr string, s *Server) (flight.Server, error) {
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(NewQuiverFlightServer(s))
	if err := server.Init(addr); err != nil {
		return nil, err
	}
	return server, nil
}
