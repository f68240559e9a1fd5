package format

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bayuaji732/data-prep-api/pkg/rowset"
	"github.com/extrame/xls"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

// XLSX reads the first worksheet of an Office Open XML workbook.
type XLSX struct{}

func NewXLSX() *XLSX { return &XLSX{} }

func (*XLSX) Type() string { return "xlsx" }

func (*XLSX) Detect(data []byte) bool { return bytes.HasPrefix(data, zipMagic) }

func (*XLSX) Parse(ctx context.Context, data []byte) (*rowset.RowSet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "opening workbook")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrapf(err, "reading sheet %q", sheets[0])
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fromSheet(rows)
}

// XLS reads the first worksheet of a legacy BIFF workbook.
type XLS struct {
	Charset string
}

func NewXLS() *XLS { return &XLS{Charset: "utf-8"} }

func (*XLS) Type() string { return "xls" }

func (*XLS) Detect(data []byte) bool { return bytes.HasPrefix(data, oleMagic) }

func (x *XLS) Parse(ctx context.Context, data []byte) (rs *rowset.RowSet, err error) {
	// the BIFF decoder panics on some truncated streams
	defer func() {
		if r := recover(); r != nil {
			rs, err = nil, fmt.Errorf("corrupt workbook: %v", r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), x.Charset)
	if err != nil {
		return nil, errors.Wrap(err, "opening workbook")
	}
	if wb.NumSheets() == 0 {
		return nil, nil
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, nil
	}

	var rows [][]string
	for i := 0; i <= int(sheet.MaxRow); i++ {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row := sheet.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, row.LastCol())
		for j := row.FirstCol(); j < row.LastCol(); j++ {
			cells[j] = row.Col(j)
		}
		rows = append(rows, cells)
	}
	return fromSheet(rows)
}

// fromSheet treats the first non-empty row as the header.
func fromSheet(rows [][]string) (*rowset.RowSet, error) {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		return rowset.FromStrings(row, rows[i+1:])
	}
	return nil, nil
}
