package iofmt

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

func parseExcel(data []byte, opts Options) ([]ParsedSeries, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: not an xlsx workbook: %v", ErrParse, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoSeries
	}
	sheet := sheets[0]
	if idx, name, ok := opts.Column("sheet"); ok {
		switch {
		case name != "":
			sheet = name
		case idx >= 0 && idx < len(sheets):
			sheet = sheets[idx]
		default:
			return nil, fmt.Errorf("%w: sheet %d out of range", ErrParse, idx)
		}
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	t, err := readTable(rows, opts.Bool("header", true))
	if err != nil {
		return nil, err
	}
	layout := opts.String("date_format", "")
	out, err := t.series(opts, "excel", func(s string) (time.Time, error) {
		// Serial day numbers below 10000 predate 1927 and are read as years.
		if serial, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && serial >= 10000 {
			return excelize.ExcelDateToTime(serial, false)
		}
		return ParseDate(s, layout)
	})
	if err != nil {
		return nil, err
	}
	for _, ps := range out {
		ps.Metadata["sheet"] = sheet
	}
	return out, nil
}

func formatExcel(series []ParsedSeries, opts Options) ([]byte, error) {
	if len(series) == 0 {
		return nil, ErrNoSeries
	}
	rows, err := grid(series, opts)
	if err != nil {
		return nil, err
	}
	rows[0][0] = "Date"

	f := excelize.NewFile()
	defer f.Close()
	sheet := opts.String("sheet_name", "TimeSeries")
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	for r, row := range rows {
		cells := make([]any, len(row))
		for c, v := range row {
			cells[c] = v
			if r > 0 && c > 0 {
				if n, err := strconv.ParseFloat(v, 64); err == nil {
					cells[c] = n
				}
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return nil, err
		}
	}

	if opts.Bool("include_metadata", true) {
		if _, err := f.NewSheet("Metadata"); err != nil {
			return nil, err
		}
		r := 1
		if err := f.SetSheetRow("Metadata", "A1", &[]any{"series", "key", "value"}); err != nil {
			return nil, err
		}
		for i, ps := range series {
			keys := make([]string, 0, len(ps.Series.Metadata))
			for k := range ps.Series.Metadata {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				r++
				cell, _ := excelize.CoordinatesToCellName(1, r)
				row := []any{seriesName(ps, i), k, fmt.Sprint(ps.Series.Metadata[k])}
				if err := f.SetSheetRow("Metadata", cell, &row); err != nil {
					return nil, err
				}
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
