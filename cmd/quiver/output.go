package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"

	"github.com/23skdu/longbow-quiver/internal/client"
	"github.com/23skdu/longbow-quiver/internal/wordpiece"
)

// idWriter writes encoded batches in one of the encode output formats.
type idWriter interface {
	Write(texts []string, ids [][]int) error
	Close() error
}

func newIDWriter(format string, w io.Writer) (idWriter, error) {
	switch format {
	case "text":
		return &textIDWriter{w: bufio.NewWriter(w)}, nil
	case "cbor":
		return &cborIDWriter{enc: cbor.NewEncoder(w)}, nil
	case "arrow":
		alloc := memory.NewGoAllocator()
		return &arrowIDWriter{
			w:       ipc.NewWriter(w, ipc.WithSchema(client.TokenSchema), ipc.WithAllocator(alloc)),
			builder: client.NewRecordBatchBuilder(alloc),
		}, nil
	}
	return nil, &wordpiece.ConfigError{Field: "format", Message: fmt.Sprintf("unknown output format %q", format)}
}

// textIDWriter writes one line of space-separated ids per text.
type textIDWriter struct {
	w *bufio.Writer
}

func (t *textIDWriter) Write(_ []string, ids [][]int) error {
	for _, seq := range ids {
		t.w.WriteString(formatIDs(seq))
		if err := t.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

func (t *textIDWriter) Close() error {
	return t.w.Flush()
}

// cborIDWriter writes a CBOR sequence with one array of ids per text.
type cborIDWriter struct {
	enc *cbor.Encoder
}

func (c *cborIDWriter) Write(_ []string, ids [][]int) error {
	for _, seq := range ids {
		if err := c.enc.Encode(seq); err != nil {
			return err
		}
	}
	return nil
}

func (c *cborIDWriter) Close() error { return nil }

// arrowIDWriter writes an IPC stream of token batches.
type arrowIDWriter struct {
	w       *ipc.Writer
	builder *client.RecordBatchBuilder
}

func (a *arrowIDWriter) Write(texts []string, ids [][]int) error {
	rec, err := a.builder.BuildTokenBatch(texts, ids)
	if err != nil || rec == nil {
		return err
	}
	defer rec.Release()
	return a.w.Write(rec)
}

func (a *arrowIDWriter) Close() error {
	return a.w.Close()
}

func formatIDs(ids []int) string {
	var sb strings.Builder
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.Itoa(id))
	}
	return sb.String()
}

func parseIDs(line string) ([]int, error) {
	fields := strings.Fields(line)
	ids := make([]int, len(fields))
	for i, f := range fields {
		id, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("parse id %q: %w", f, err)
		}
		ids[i] = id
	}
	return ids, nil
}

// readIDSequences reads id sequences written by a text or cbor idWriter.
func readIDSequences(format string, r io.Reader) ([][]int, error) {
	var out [][]int
	switch format {
	case "text":
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
		for scanner.Scan() {
			ids, err := parseIDs(scanner.Text())
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", len(out)+1, err)
			}
			out = append(out, ids)
		}
		return out, scanner.Err()
	case "cbor":
		dec := cbor.NewDecoder(r)
		for {
			var ids []int
			if err := dec.Decode(&ids); err != nil {
				if errors.Is(err, io.EOF) {
					return out, nil
				}
				return nil, fmt.Errorf("sequence %d: %w", len(out), err)
			}
			out = append(out, ids)
		}
	}
	return nil, &wordpiece.ConfigError{Field: "format", Message: fmt.Sprintf("unknown input format %q", format)}
}
