package iofmt

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// table is a header plus rows of cells, the shape shared by CSV and Excel.
type table struct {
	header []string
	rows   [][]string
}

func readTable(records [][]string, header bool) (table, error) {
	var t table
	for _, r := range records {
		if slices.ContainsFunc(r, func(c string) bool { return strings.TrimSpace(c) != "" }) {
			t.rows = append(t.rows, r)
		}
	}
	if len(t.rows) == 0 {
		return t, ErrNoSeries
	}
	if header {
		t.header, t.rows = t.rows[0], t.rows[1:]
		for i := range t.header {
			t.header[i] = strings.TrimSpace(t.header[i])
		}
	}
	return t, nil
}

func (t table) width() int {
	w := len(t.header)
	for _, r := range t.rows {
		w = max(w, len(r))
	}
	return w
}

func (t table) column(name string) int {
	for i, h := range t.header {
		if strings.EqualFold(h, name) {
			return i
		}
	}
	return -1
}

func (t table) columnName(i int) string {
	if i < len(t.header) && t.header[i] != "" {
		return t.header[i]
	}
	return fmt.Sprintf("column_%d", i)
}

// isLong reports whether the table is in date, series, value layout.
func (t table) isLong(opts Options) bool {
	if opts.String("layout", "") == "long" {
		return true
	}
	return t.column("series") >= 0 && t.column("value") >= 0 && t.column("date") >= 0
}

// series converts a table into series, one per value column (wide layout)
// or one per distinct series name (long layout). dateOf reads a date cell.
func (t table) series(opts Options, source string, dateOf func(string) (time.Time, error)) ([]ParsedSeries, error) {
	if t.isLong(opts) {
		return t.longSeries(opts, source, dateOf)
	}

	dateCol := 0
	if idx, name, ok := opts.Column("date_column"); ok {
		dateCol = idx
		if name != "" {
			if dateCol = t.column(name); dateCol < 0 {
				return nil, fmt.Errorf("%w: date column %q not found", ErrParse, name)
			}
		}
	}
	width := t.width()
	if dateCol < 0 || dateCol >= width {
		return nil, fmt.Errorf("%w: date column %d out of range", ErrParse, dateCol)
	}

	var cols []int
	indexes, names := opts.Columns("value_columns")
	cols = append(cols, indexes...)
	for _, n := range names {
		c := t.column(n)
		if c < 0 {
			return nil, fmt.Errorf("%w: value column %q not found", ErrParse, n)
		}
		cols = append(cols, c)
	}
	if len(cols) == 0 {
		for c := 0; c < width; c++ {
			if c != dateCol {
				cols = append(cols, c)
			}
		}
	}

	dates := make([]time.Time, len(t.rows))
	for i, r := range t.rows {
		if dateCol >= len(r) {
			return nil, fmt.Errorf("%w: row %d has no date", ErrParse, i+1)
		}
		d, err := dateOf(r[dateCol])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		dates[i] = d
	}
	freq, err := opts.Frequency("")
	if err != nil {
		return nil, err
	}
	if freq == "" {
		freq = DetectFrequency(sortedDates(dates))
	}

	var out []ParsedSeries
	for _, c := range cols {
		if c < 0 || c >= width {
			return nil, fmt.Errorf("%w: value column %d out of range", ErrParse, c)
		}
		values := make([]float64, len(t.rows))
		for i, r := range t.rows {
			if c < len(r) {
				values[i] = parseValue(r[c])
			} else {
				values[i] = parseValue("")
			}
		}
		s, err := seriesFromDates(dates, values, freq)
		if err != nil {
			continue
		}
		out = append(out, newParsed(t.columnName(c), source, s))
	}
	return out, nil
}

func (t table) longSeries(opts Options, source string, dateOf func(string) (time.Time, error)) ([]ParsedSeries, error) {
	dc, sc, vc := t.column("date"), t.column("series"), t.column("value")
	if dc < 0 || vc < 0 {
		return nil, fmt.Errorf("%w: long layout needs date and value columns", ErrParse)
	}
	type group struct {
		dates  []time.Time
		values []float64
	}
	var order []string
	groups := map[string]*group{}
	for i, r := range t.rows {
		if dc >= len(r) || vc >= len(r) {
			return nil, fmt.Errorf("%w: row %d is short", ErrParse, i+1)
		}
		d, err := dateOf(r[dc])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		name := "series_1"
		if sc >= 0 && sc < len(r) && strings.TrimSpace(r[sc]) != "" {
			name = strings.TrimSpace(r[sc])
		}
		g, ok := groups[name]
		if !ok {
			g = &group{}
			groups[name] = g
			order = append(order, name)
		}
		g.dates = append(g.dates, d)
		g.values = append(g.values, parseValue(r[vc]))
	}
	var out []ParsedSeries
	for _, name := range order {
		g := groups[name]
		freq, err := opts.Frequency("")
		if err != nil {
			return nil, err
		}
		if freq == "" {
			freq = DetectFrequency(sortedDates(g.dates))
		}
		s, err := seriesFromDates(g.dates, g.values, freq)
		if err != nil {
			continue
		}
		out = append(out, newParsed(name, source, s))
	}
	return out, nil
}

func sortedDates(dates []time.Time) []time.Time {
	out := slices.Clone(dates)
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out
}

func delimiter(opts Options) rune {
	d := opts.String("delimiter", ",")
	if d == `\t` || d == "tab" {
		return '\t'
	}
	r, _ := utf8.DecodeRuneInString(d)
	return r
}

func parseCSV(data []byte, opts Options) ([]ParsedSeries, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delimiter(opts)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	t, err := readTable(records, opts.Bool("header", true))
	if err != nil {
		return nil, err
	}
	layout := opts.String("date_format", "")
	return t.series(opts, "csv", func(s string) (time.Time, error) { return ParseDate(s, layout) })
}

// grid lays series out as rows of cells, wide (a date column then one
// column per series) or long (date, series, value).
func grid(series []ParsedSeries, opts Options) ([][]string, error) {
	layout := opts.String("date_format", "")
	if opts.String("layout", "wide") == "long" {
		rows := [][]string{{"date", "series", "value"}}
		for i, ps := range series {
			name := seriesName(ps, i)
			for k, v := range ps.Series.Values {
				rows = append(rows, []string{dateLabel(ps.Series.TimeAt(k), ps.Series.Frequency, layout), name, formatValue(v)})
			}
		}
		return rows, nil
	}

	freq := series[0].Series.Frequency
	first, last := series[0].Series.Start, series[0].Series.End()
	header := []string{"date"}
	for i, ps := range series {
		if ps.Series.Frequency != freq {
			return nil, fmt.Errorf("%w: wide layout needs a common frequency, got %s and %s", ErrUnsupportedFormat, freq, ps.Series.Frequency)
		}
		if ps.Series.Start.Sub(first) < 0 {
			first = ps.Series.Start
		}
		if ps.Series.End().Sub(last) > 0 {
			last = ps.Series.End()
		}
		header = append(header, seriesName(ps, i))
	}
	rows := [][]string{header}
	for p := first; p.Sub(last) <= 0; p = p.Add(1) {
		row := []string{dateLabel(first.Offset(p.Sub(first)), freq, layout)}
		for _, ps := range series {
			cell := ""
			if k := p.Sub(ps.Series.Start); k >= 0 && k < ps.Series.Len() {
				cell = formatValue(ps.Series.Values[k])
			}
			row = append(row, cell)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func formatCSV(series []ParsedSeries, opts Options) ([]byte, error) {
	if len(series) == 0 {
		return nil, ErrNoSeries
	}
	rows, err := grid(series, opts)
	if err != nil {
		return nil, err
	}
	if !opts.Bool("header", true) {
		rows = rows[1:]
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delimiter(opts)
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
