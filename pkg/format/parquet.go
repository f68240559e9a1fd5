package format

import (
	"bytes"
	"context"
	"io"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet"
	"github.com/apache/arrow/go/v10/parquet/file"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"
	"github.com/bayuaji732/data-prep-api/pkg/rowset"
	"github.com/pkg/errors"
)

// Parquet reads and writes flat parquet files through arrow tables.
type Parquet struct {
	// RowGroupSize is the number of rows per row group when writing.
	RowGroupSize int64
}

func NewParquet() *Parquet { return &Parquet{RowGroupSize: 4096} }

func (*Parquet) Type() string   { return "parquet" }
func (*Parquet) Format() string { return "parquet" }

func (*Parquet) Detect(data []byte) bool {
	return len(data) >= 8 && bytes.HasPrefix(data, parquetMagic) && bytes.HasSuffix(data, parquetMagic)
}

func (p *Parquet) Encode(w io.Writer, rs *rowset.RowSet) error {
	mem := memory.NewGoAllocator()
	schema := rs.Schema()

	fields := make([]arrow.Field, len(schema))
	builders := make([]array.Builder, len(schema))
	for j, f := range schema {
		fields[j] = arrow.Field{Name: f.Name, Nullable: true}
		switch f.Type {
		case rowset.Int:
			fields[j].Type = arrow.PrimitiveTypes.Int64
			builders[j] = array.NewInt64Builder(mem)
		case rowset.Float:
			fields[j].Type = arrow.PrimitiveTypes.Float64
			builders[j] = array.NewFloat64Builder(mem)
		case rowset.Bool:
			fields[j].Type = arrow.FixedWidthTypes.Boolean
			builders[j] = array.NewBooleanBuilder(mem)
		default:
			fields[j].Type = arrow.BinaryTypes.String
			builders[j] = array.NewStringBuilder(mem)
		}
	}
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	err := rs.Each(func(i int, row []interface{}) error {
		for j, v := range row {
			if v == nil {
				builders[j].AppendNull()
				continue
			}
			switch b := builders[j].(type) {
			case *array.Int64Builder:
				b.Append(v.(int64))
			case *array.Float64Builder:
				b.Append(v.(float64))
			case *array.BooleanBuilder:
				b.Append(v.(bool))
			case *array.StringBuilder:
				b.Append(v.(string))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	columns := make([]arrow.Array, len(builders))
	for j, b := range builders {
		columns[j] = b.NewArray()
		defer columns[j].Release()
	}
	arrowSchema := arrow.NewSchema(fields, nil)
	rec := array.NewRecord(arrowSchema, columns, int64(rs.Len()))
	defer rec.Release()
	table := array.NewTableFromRecords(arrowSchema, []arrow.Record{rec})
	defer table.Release()

	props := parquet.NewWriterProperties(parquet.WithDictionaryDefault(false))
	if err := pqarrow.WriteTable(table, w, p.RowGroupSize, props, pqarrow.DefaultWriterProps()); err != nil {
		return errors.Wrap(err, "writing parquet")
	}
	return nil
}

func (*Parquet) Parse(ctx context.Context, data []byte) (*rowset.RowSet, error) {
	pf, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "opening parquet")
	}
	defer pf.Close()

	mem := memory.NewGoAllocator()
	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, errors.Wrap(err, "opening parquet")
	}
	table, err := reader.ReadTable(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading parquet")
	}
	defer table.Release()

	ncols := int(table.NumCols())
	nrows := int(table.NumRows())
	raw := make([]string, ncols)
	schema := make([]rowset.Field, ncols)
	rows := make([][]interface{}, nrows)
	for i := range rows {
		rows[i] = make([]interface{}, ncols)
	}

	for j := 0; j < ncols; j++ {
		col := table.Column(j)
		raw[j] = col.Name()
		typ, ok := parquetFieldType(col.DataType())
		if !ok {
			return nil, errors.Errorf("column %q has unsupported type %s", col.Name(), col.DataType())
		}
		schema[j].Type = typ

		i := 0
		for _, chunk := range col.Data().Chunks() {
			for k := 0; k < chunk.Len(); k++ {
				if !chunk.IsNull(k) {
					rows[i][j] = arrowValue(chunk, k)
				}
				i++
			}
		}
	}
	for j, name := range rowset.NormalizeHeader(raw) {
		schema[j].Name = name
	}
	return rowset.New(schema, rows)
}

func parquetFieldType(dt arrow.DataType) (rowset.FieldType, bool) {
	switch dt.ID() {
	case arrow.STRING, arrow.LARGE_STRING, arrow.BINARY:
		return rowset.String, true
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return rowset.Int, true
	case arrow.FLOAT32, arrow.FLOAT64:
		return rowset.Float, true
	case arrow.BOOL:
		return rowset.Bool, true
	}
	return rowset.String, false
}

func arrowValue(arr arrow.Array, i int) interface{} {
	switch a := arr.(type) {
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	case *array.Binary:
		return string(a.Value(i))
	case *array.Int8:
		return int64(a.Value(i))
	case *array.Int16:
		return int64(a.Value(i))
	case *array.Int32:
		return int64(a.Value(i))
	case *array.Int64:
		return a.Value(i)
	case *array.Uint8:
		return int64(a.Value(i))
	case *array.Uint16:
		return int64(a.Value(i))
	case *array.Uint32:
		return int64(a.Value(i))
	case *array.Uint64:
		return int64(a.Value(i))
	case *array.Float32:
		return float64(a.Value(i))
	case *array.Float64:
		return a.Value(i)
	case *array.Boolean:
		return a.Value(i)
	}
	return nil
}
