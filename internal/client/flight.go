package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// FlightClient handles communication with an Arrow Flight peer: a Longbow
// server receiving token batches, or a quiver server tokenizing texts.
type FlightClient struct {
	client flight.Client
	conn   *grpc.ClientConn
	alloc  memory.Allocator
}

// NewFlightClient creates a new Flight client connected to the given address.
func NewFlightClient(addr string) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	client := flight.NewClientFromConn(conn, nil)
	return &FlightClient{
		client: client,
		conn:   conn,
		alloc:  memory.NewGoAllocator(),
	}, nil
}

// DoPut sends a RecordBatch to the given dataset.
func (c *FlightClient) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	desc := &flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{datasetName},
	}

	stream, err := c.client.DoPut(ctx)
	if err != nil {
		return err
	}

	// The descriptor travels with the first message.
	writer := flight.NewRecordWriter(stream, ipc.WithSchema(record.Schema()))
	writer.SetFlightDescriptor(desc)

	if err := writer.Write(record); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	// Drain acknowledgements so server-side failures surface here.
	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Tokenize sends texts over DoExchange and returns the framed ids the peer
// answers with, one sequence per text.
func (c *FlightClient) Tokenize(ctx context.Context, texts []string) ([][]int, error) {
	stream, err := c.client.DoExchange(ctx)
	if err != nil {
		return nil, err
	}

	rec := NewRecordBatchBuilder(c.alloc).BuildTextBatch(texts)
	defer rec.Release()

	// io.EOF means the server already ended the exchange; its status is
	// returned by the reader below.
	writer := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("send texts: %w", err)
	}
	if err := writer.Close(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(c.alloc))
	if err != nil {
		return nil, fmt.Errorf("read token batches: %w", err)
	}
	defer reader.Release()

	out := make([][]int, 0, len(texts))
	for reader.Next() {
		ids, err := ReadTokenIDs(reader.Record())
		if err != nil {
			return nil, err
		}
		out = append(out, ids...)
	}
	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("peer returned %d sequences for %d texts", len(out), len(texts))
	}
	return out, nil
}

// Close closes the client connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}
