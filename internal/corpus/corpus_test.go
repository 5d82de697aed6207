package corpus

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineReader(t *testing.T) {
	lr := NewLineReader(strings.NewReader("first line\nsecond\r\n\nlast"))
	got := slices.Collect(lr.All())
	require.NoError(t, lr.Err())
	assert.Equal(t, []string{"first line", "second", "", "last"}, got)
	assert.Equal(t, 4, lr.Lines())
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestLineReader_Err(t *testing.T) {
	lr := NewLineReader(failingReader{})
	assert.Empty(t, slices.Collect(lr.All()))
	require.EqualError(t, lr.Err(), "disk on fire")
}

func writeStringStream(t *testing.T, name string, batches ...[]string) *bytes.Buffer {
	t.Helper()
	pool := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: name, Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(pool))
	for _, texts := range batches {
		ib := array.NewInt64Builder(pool)
		sb := array.NewStringBuilder(pool)
		for i, s := range texts {
			ib.Append(int64(i))
			if s == "" {
				sb.AppendNull()
				continue
			}
			sb.Append(s)
		}
		ids, strs := ib.NewArray(), sb.NewArray()
		rec := array.NewRecordBatch(schema, []arrow.Array{ids, strs}, int64(len(texts)))
		require.NoError(t, w.Write(rec))
		rec.Release()
		ids.Release()
		strs.Release()
		ib.Release()
		sb.Release()
	}
	require.NoError(t, w.Close())
	return &buf
}

func TestArrowReader(t *testing.T) {
	buf := writeStringStream(t, "text", []string{"hello world", "", "second"}, []string{"third"})

	ar := NewArrowReader(buf, "")
	got := slices.Collect(ar.All())
	require.NoError(t, ar.Err())
	assert.Equal(t, []string{"hello world", "second", "third"}, got)
	assert.Equal(t, 3, ar.Lines())
}

func TestArrowReader_WrongColumnType(t *testing.T) {
	buf := writeStringStream(t, "body", []string{"x"})

	// "text" is absent so the first column, an int64, is used.
	ar := NewArrowReader(buf, "text")
	assert.Empty(t, slices.Collect(ar.All()))
	require.Error(t, ar.Err())
	assert.Contains(t, ar.Err().Error(), "want utf8 or binary")

	buf = writeStringStream(t, "body", []string{"x"})
	ar = NewArrowReader(buf, "body")
	assert.Equal(t, []string{"x"}, slices.Collect(ar.All()))
}

func TestArrowReader_NotArrow(t *testing.T) {
	ar := NewArrowReader(strings.NewReader("plain text"), "")
	assert.Empty(t, slices.Collect(ar.All()))
	require.Error(t, ar.Err())
}

func TestLorem_Deterministic(t *testing.T) {
	a := Lorem(10, 42)
	b := Lorem(10, 42)
	require.Equal(t, a, b)
	assert.NotEqual(t, a, Lorem(10, 7))
	for _, p := range a {
		assert.True(t, strings.HasSuffix(p, "."))
	}
	assert.Equal(t, a, slices.Collect(LoremSeq(10, 42)))
}
