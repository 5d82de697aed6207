package corpus

import (
	"fmt"
	"io"
	"iter"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// DefaultTextColumn is read when no column is named.
const DefaultTextColumn = "text"

// ArrowReader yields the strings of one column of an Arrow IPC stream.
// Null entries are skipped.
type ArrowReader struct {
	r      io.Reader
	column string
	alloc  memory.Allocator
	err    error
	n      int
}

// NewArrowReader reads column from the IPC stream in r. If the schema has no
// column of that name the first column is used.
func NewArrowReader(r io.Reader, column string) *ArrowReader {
	if column == "" {
		column = DefaultTextColumn
	}
	return &ArrowReader{r: r, column: column, alloc: memory.NewGoAllocator()}
}

// All yields each string. It may be ranged over once.
func (a *ArrowReader) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		reader, err := ipc.NewReader(a.r, ipc.WithAllocator(a.alloc))
		if err != nil {
			a.err = fmt.Errorf("create IPC reader: %w", err)
			return
		}
		defer reader.Release()

		for reader.Next() {
			rec := reader.Record()
			if rec.NumCols() == 0 {
				continue
			}
			col := rec.Column(0)
			if indices := rec.Schema().FieldIndices(a.column); len(indices) > 0 {
				col = rec.Column(indices[0])
			}
			if !a.yieldColumn(col, yield) {
				return
			}
		}
		a.err = reader.Err()
	}
}

func (a *ArrowReader) yieldColumn(col arrow.Array, yield func(string) bool) bool {
	var value func(i int) string
	switch arr := col.(type) {
	case *array.String:
		value = arr.Value
	case *array.LargeString:
		value = arr.Value
	case *array.Binary:
		value = func(i int) string { return string(arr.Value(i)) }
	default:
		a.err = fmt.Errorf("column %q has type %s, want utf8 or binary", a.column, col.DataType())
		return false
	}
	for i := 0; i < col.Len(); i++ {
		if col.IsNull(i) {
			continue
		}
		a.n++
		if !yield(value(i)) {
			return false
		}
	}
	return true
}

// Err returns the first decode error, if any.
func (a *ArrowReader) Err() error {
	return a.err
}

// Lines returns how many strings have been yielded.
func (a *ArrowReader) Lines() int {
	return a.n
}
