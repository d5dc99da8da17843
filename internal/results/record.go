package results

import (
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Schema is the column layout of exported results.
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "run_id", Type: arrow.BinaryTypes.String},
	{Name: "name", Type: arrow.BinaryTypes.String},
	{Name: "group", Type: arrow.BinaryTypes.String},
	{Name: "kind", Type: arrow.BinaryTypes.String},
	{Name: "status", Type: arrow.BinaryTypes.String},
	{Name: "message", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "failures", Type: arrow.PrimitiveTypes.Int64},
	{Name: "fp8_retries", Type: arrow.PrimitiveTypes.Int64},
	{Name: "duration_ns", Type: arrow.PrimitiveTypes.Int64},
}, nil)

// NewRecord builds one record holding rs. The caller releases it.
func NewRecord(mem memory.Allocator, rs []Result) arrow.Record {
	b := array.NewRecordBuilder(mem, Schema)
	defer b.Release()
	b.Reserve(len(rs))

	for _, r := range rs {
		b.Field(0).(*array.StringBuilder).Append(r.RunID)
		b.Field(1).(*array.StringBuilder).Append(r.Name)
		b.Field(2).(*array.StringBuilder).Append(r.Group)
		b.Field(3).(*array.StringBuilder).Append(r.Kind)
		b.Field(4).(*array.StringBuilder).Append(r.Status.String())
		if r.Message == "" {
			b.Field(5).AppendNull()
		} else {
			b.Field(5).(*array.StringBuilder).Append(r.Message)
		}
		b.Field(6).(*array.Int64Builder).Append(int64(r.Failures))
		b.Field(7).(*array.Int64Builder).Append(int64(r.FP8Retries))
		b.Field(8).(*array.Int64Builder).Append(int64(r.Duration))
	}
	return b.NewRecord()
}

// FromRecord decodes a record written by NewRecord.
func FromRecord(rec arrow.Record) ([]Result, error) {
	if err := checkColumns(rec.Schema()); err != nil {
		return nil, err
	}
	col := func(i int) *array.String { return rec.Column(i).(*array.String) }
	// values alias the record's buffers
	str := func(i, row int) string { return strings.Clone(col(i).Value(row)) }
	i64 := func(i int) *array.Int64 { return rec.Column(i).(*array.Int64) }

	out := make([]Result, rec.NumRows())
	for row := range out {
		st, err := ParseStatus(str(4, row))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		r := Result{
			RunID:      str(0, row),
			Name:       str(1, row),
			Group:      str(2, row),
			Kind:       str(3, row),
			Status:     st,
			Failures:   int(i64(6).Value(row)),
			FP8Retries: int(i64(7).Value(row)),
			Duration:   time.Duration(i64(8).Value(row)),
		}
		if col(5).IsValid(row) {
			r.Message = str(5, row)
		}
		out[row] = r
	}
	return out, nil
}

func checkColumns(sc *arrow.Schema) error {
	if sc.NumFields() != Schema.NumFields() {
		return fmt.Errorf("invalid column count: %d (must be %d)", sc.NumFields(), Schema.NumFields())
	}
	for i, f := range Schema.Fields() {
		if got := sc.Field(i); got.Name != f.Name || !arrow.TypeEqual(got.Type, f.Type) {
			return fmt.Errorf("column %d is %s %v, want %s %v", i, got.Name, got.Type, f.Name, f.Type)
		}
	}
	return nil
}
