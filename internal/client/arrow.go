package client

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Column names of a token batch.
const (
	TextColumn = "text"
	IDsColumn  = "ids"
)

// TokenSchema is the schema of a token batch: the source text and its
// framed token ids.
var TokenSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: TextColumn, Type: arrow.BinaryTypes.String},
		{Name: IDsColumn, Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
	},
	nil,
)

// TextSchema is the schema of a tokenization request.
var TextSchema = arrow.NewSchema(
	[]arrow.Field{{Name: TextColumn, Type: arrow.BinaryTypes.String}},
	nil,
)

// RecordBatchBuilder creates Arrow RecordBatches from texts and token ids.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// BuildTokenBatch pairs each text with its ids in a TokenSchema batch.
// It returns nil for empty input.
func (b *RecordBatchBuilder) BuildTokenBatch(texts []string, ids [][]int) (arrow.RecordBatch, error) {
	if len(texts) != len(ids) {
		return nil, fmt.Errorf("have %d texts but %d id sequences", len(texts), len(ids))
	}
	if len(ids) == 0 {
		return nil, nil
	}

	textBuilder := array.NewStringBuilder(b.mem)
	defer textBuilder.Release()
	textBuilder.AppendValues(texts, nil)

	listBuilder := array.NewListBuilder(b.mem, arrow.PrimitiveTypes.Int32)
	defer listBuilder.Release()
	valueBuilder := listBuilder.ValueBuilder().(*array.Int32Builder)

	for _, seq := range ids {
		listBuilder.Append(true)
		for _, id := range seq {
			valueBuilder.Append(int32(id))
		}
	}

	cols := []arrow.Array{textBuilder.NewArray(), listBuilder.NewArray()}
	defer cols[0].Release()
	defer cols[1].Release()

	return array.NewRecordBatch(TokenSchema, cols, int64(len(ids))), nil
}

// BuildTextBatch wraps texts in a TextSchema batch.
func (b *RecordBatchBuilder) BuildTextBatch(texts []string) arrow.RecordBatch {
	textBuilder := array.NewStringBuilder(b.mem)
	defer textBuilder.Release()
	textBuilder.AppendValues(texts, nil)

	col := textBuilder.NewArray()
	defer col.Release()
	return array.NewRecordBatch(TextSchema, []arrow.Array{col}, int64(len(texts)))
}

// ReadTexts returns the text column of rec, or its first column when none
// is named text. Null entries read as "".
func ReadTexts(rec arrow.RecordBatch) ([]string, error) {
	if rec.NumCols() == 0 {
		return nil, fmt.Errorf("record has no columns")
	}
	col := rec.Column(0)
	if indices := rec.Schema().FieldIndices(TextColumn); len(indices) > 0 {
		col = rec.Column(indices[0])
	}
	arr, ok := col.(*array.String)
	if !ok {
		return nil, fmt.Errorf("text column has type %s, want utf8", col.DataType())
	}
	texts := make([]string, arr.Len())
	for i := range texts {
		if arr.IsValid(i) {
			texts[i] = arr.Value(i)
		}
	}
	return texts, nil
}

// ReadTokenIDs decodes the ids column of a TokenSchema batch.
func ReadTokenIDs(rec arrow.RecordBatch) ([][]int, error) {
	indices := rec.Schema().FieldIndices(IDsColumn)
	if len(indices) == 0 {
		return nil, fmt.Errorf("record has no %q column", IDsColumn)
	}
	list, ok := rec.Column(indices[0]).(*array.List)
	if !ok {
		return nil, fmt.Errorf("ids column has type %s, want list<int32>", rec.Column(indices[0]).DataType())
	}
	values, ok := list.ListValues().(*array.Int32)
	if !ok {
		return nil, fmt.Errorf("ids values have type %s, want int32", list.ListValues().DataType())
	}

	out := make([][]int, list.Len())
	for i := range out {
		start, end := list.ValueOffsets(i)
		seq := make([]int, 0, end-start)
		for j := start; j < end; j++ {
			seq = append(seq, int(values.Value(int(j))))
		}
		out[i] = seq
	}
	return out, nil
}
