package format

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"

	"github.com/bayuaji732/data-prep-api/pkg/rowset"
	"github.com/pkg/errors"
)

// Delimited handles comma and tab separated text with a header row.
type Delimited struct {
	typ   string
	comma rune
}

func NewCSV() *Delimited { return &Delimited{typ: "csv", comma: ','} }
func NewTSV() *Delimited { return &Delimited{typ: "tsv", comma: '\t'} }

func (d *Delimited) Type() string   { return d.typ }
func (d *Delimited) Format() string { return d.typ }

func (d *Delimited) Detect(data []byte) bool {
	if !looksLikeText(data) {
		return false
	}
	header := firstLine(data)
	hasComma := bytes.IndexByte(header, ',') >= 0
	hasTab := bytes.IndexByte(header, '\t') >= 0
	if d.comma == '\t' {
		return hasTab || !hasComma
	}
	return hasComma || !hasTab
}

func (d *Delimited) Parse(ctx context.Context, data []byte) (*rowset.RowSet, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	r.Comma = d.comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.ReuseRecord = false

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s header", d.typ)
	}

	var cells [][]string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s record %d", d.typ, len(cells)+1)
		}
		if len(row) > len(header) {
			return nil, errors.Errorf("%s record %d has %d fields, header has %d", d.typ, len(cells)+1, len(row), len(header))
		}
		cells = append(cells, row)
	}
	return rowset.FromStrings(header, cells)
}

func (d *Delimited) Encode(w io.Writer, rs *rowset.RowSet) error {
	cw := csv.NewWriter(w)
	cw.Comma = d.comma
	if err := cw.Write(rs.Columns()); err != nil {
		return errors.Wrap(err, "writing header")
	}
	record := make([]string, len(rs.Schema()))
	err := rs.Each(func(i int, row []interface{}) error {
		for j, v := range row {
			record[j] = rowset.FormatValue(v)
		}
		return cw.Write(record)
	})
	if err != nil {
		return errors.Wrap(err, "writing records")
	}
	cw.Flush()
	return cw.Error()
}
