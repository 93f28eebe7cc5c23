// Package iofmt reads and writes time series in the exchange formats the
// I/O endpoints accept: CSV, JSON, XML, YAML and Excel workbooks.
package iofmt

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/demetra.report/internal/tsdata"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrNoSeries          = errors.New("no time series found")
	ErrParse             = errors.New("parse failed")
)

// Format names a file format.
type Format string

const (
	CSV   Format = "csv"
	JSON  Format = "json"
	XML   Format = "xml"
	YAML  Format = "yaml"
	Excel Format = "excel"
)

// FormatInfo describes a registered format.
type FormatInfo struct {
	Name        Format   `json:"name"`
	Extensions  []string `json:"extensions"`
	MimeType    string   `json:"mime_type"`
	Description string   `json:"description"`
	CanRead     bool     `json:"can_read"`
	CanWrite    bool     `json:"can_write"`
	Options     []string `json:"options"`
}

var registry = []FormatInfo{
	{CSV, []string{".csv"}, "text/csv", "Comma separated values, one column per series or stacked", true, true,
		[]string{"delimiter", "header", "date_column", "value_columns", "frequency", "date_format", "layout"}},
	{JSON, []string{".json"}, "application/json", "JSON in the jdemetra layout or the simple name to dates/values layout", true, true,
		[]string{"format_type", "indent", "include_metadata"}},
	{XML, []string{".xml"}, "application/xml", "XML in the jdemetra layout or a generic tag/attribute layout", true, true,
		[]string{"format", "format_type", "series_tag", "observation_tag", "date_attribute", "value_attribute", "root_tag"}},
	{YAML, []string{".yaml", ".yml"}, "application/x-yaml", "YAML list or mapping of series", true, true,
		[]string{"values_key", "frequency", "start_year", "start_period"}},
	{Excel, []string{".xlsx", ".xls"}, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "Excel workbook with a date column and value columns", true, true,
		[]string{"sheet", "header", "date_column", "value_columns", "frequency", "sheet_name", "layout", "include_metadata"}},
}

// Formats returns the format registry.
func Formats() []FormatInfo {
	out := make([]FormatInfo, len(registry))
	copy(out, registry)
	return out
}

// ParseFormat accepts a format name or one of its aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return CSV, nil
	case "json":
		return JSON, nil
	case "xml":
		return XML, nil
	case "yaml", "yml":
		return YAML, nil
	case "excel", "xlsx", "xls":
		return Excel, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// FormatFromFilename maps a file extension to its format.
func FormatFromFilename(name string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(name))
	for _, info := range registry {
		for _, e := range info.Extensions {
			if e == ext {
				return info.Name, nil
			}
		}
	}
	return "", fmt.Errorf("%w: extension %q", ErrUnsupportedFormat, ext)
}

// Extension returns the preferred extension for f.
func (f Format) Extension() string {
	for _, info := range registry {
		if info.Name == f {
			return info.Extensions[0]
		}
	}
	return ""
}

// ContentType returns the MIME type for a file name, falling back to
// application/octet-stream.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".svg":
		return "image/svg+xml"
	case ".pdf":
		return "application/pdf"
	case ".html":
		return "text/html; charset=utf-8"
	}
	if f, err := FormatFromFilename(name); err == nil {
		for _, info := range registry {
			if info.Name == f {
				return info.MimeType
			}
		}
	}
	return "application/octet-stream"
}

// ParsedSeries is one series read from a file.
type ParsedSeries struct {
	Name     string         `json:"name"`
	Series   *tsdata.Series `json:"series"`
	Metadata map[string]any `json:"metadata"`
}

func newParsed(name, source string, s *tsdata.Series) ParsedSeries {
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	s.Metadata["name"] = name
	s.Metadata["source"] = source
	return ParsedSeries{Name: name, Series: s, Metadata: s.Metadata}
}

// Parse reads every series in data.
func Parse(f Format, data []byte, opts Options) ([]ParsedSeries, error) {
	var (
		out []ParsedSeries
		err error
	)
	switch f {
	case CSV:
		out, err = parseCSV(data, opts)
	case JSON:
		out, err = parseJSON(data, opts)
	case XML:
		out, err = parseXML(data, opts)
	case YAML:
		out, err = parseYAML(data, opts)
	case Excel:
		out, err = parseExcel(data, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNoSeries
	}
	return out, nil
}

// Write encodes series in format f.
func Write(f Format, series []ParsedSeries, opts Options) ([]byte, error) {
	switch f {
	case CSV:
		return formatCSV(series, opts)
	case JSON:
		return formatJSON(series, opts)
	case XML:
		return formatXML(series, opts)
	case YAML:
		return formatYAML(series, opts)
	case Excel:
		return formatExcel(series, opts)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

// Report is the outcome of Validate.
type Report struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Series   int      `json:"series_count"`
}

// Validate parses data and reports problems without returning the series.
func Validate(f Format, data []byte, opts Options) Report {
	r := Report{Errors: []string{}, Warnings: []string{}}
	series, err := Parse(f, data, opts)
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
		return r
	}
	r.Series = len(series)
	for _, ps := range series {
		v := tsdata.Validate(ps.Series)
		for _, e := range v.Errors {
			r.Errors = append(r.Errors, fmt.Sprintf("%s: %s", ps.Name, e))
		}
		for _, w := range v.Warnings {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s: %s", ps.Name, w))
		}
	}
	r.Valid = len(r.Errors) == 0
	return r
}

// Options are format-specific settings decoded from a request.
type Options map[string]any

func (o Options) String(key, def string) string {
	if v, ok := o[key].(string); ok && v != "" {
		return v
	}
	return def
}

func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key].(bool); ok {
		return v
	}
	return def
}

func (o Options) Int(key string, def int) int {
	switch v := o[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Column returns a column selector: an index or a header name. ok is
// false when key is unset.
func (o Options) Column(key string) (index int, name string, ok bool) {
	switch v := o[key].(type) {
	case float64:
		return int(v), "", true
	case int:
		return v, "", true
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n, "", true
		}
		return -1, v, true
	}
	return 0, "", false
}

// Columns returns the list form of Column.
func (o Options) Columns(key string) (indexes []int, names []string) {
	list, _ := o[key].([]any)
	for _, v := range list {
		switch c := v.(type) {
		case float64:
			indexes = append(indexes, int(c))
		case int:
			indexes = append(indexes, c)
		case string:
			names = append(names, c)
		}
	}
	return indexes, names
}

// Frequency returns the frequency option, or def.
func (o Options) Frequency(def tsdata.Frequency) (tsdata.Frequency, error) {
	s, ok := o["frequency"].(string)
	if !ok || s == "" {
		return def, nil
	}
	return tsdata.ParseFrequency(s)
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"2006-01",
	"2006/01",
	"Jan 2006",
	"2006",
}

// Layout converts the common %-directives to a Go layout.
func Layout(f string) string {
	return strings.NewReplacer("%Y", "2006", "%m", "01", "%d", "02", "%H", "15", "%M", "04", "%S", "05", "%b", "Jan", "%y", "06").Replace(f)
}

// ParseDate reads a date with layout (a Go layout or strftime pattern) or,
// when layout is empty, with the common ISO forms and "2020Q3".
func ParseDate(s, layout string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if layout != "" {
		return time.Parse(Layout(layout), s)
	}
	if y, q, ok := strings.Cut(strings.ToUpper(s), "Q"); ok {
		year, err1 := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(y, "-")))
		quarter, err2 := strconv.Atoi(q)
		if err1 == nil && err2 == nil && quarter >= 1 && quarter <= 4 {
			return time.Date(year, time.Month(3*(quarter-1)+1), 1, 0, 0, 0, 0, time.UTC), nil
		}
	}
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised date %q", ErrParse, s)
}

// DetectFrequency infers the frequency from the median spacing of dates.
func DetectFrequency(dates []time.Time) tsdata.Frequency {
	if len(dates) < 2 {
		return tsdata.Monthly
	}
	gaps := make([]float64, 0, len(dates)-1)
	for i := 1; i < len(dates); i++ {
		gaps = append(gaps, dates[i].Sub(dates[i-1]).Hours()/24)
	}
	sort.Float64s(gaps)
	days := gaps[len(gaps)/2]
	switch {
	case days < 0.5:
		return tsdata.Hourly
	case days <= 1.5:
		return tsdata.Daily
	case days <= 8:
		return tsdata.Weekly
	case days <= 35:
		return tsdata.Monthly
	case days <= 100:
		return tsdata.Quarterly
	}
	return tsdata.Yearly
}

// seriesFromDates places each value at the period of its date, filling
// gaps with NaN. Leading and trailing missing values are trimmed and a
// repeated period keeps the last value. Weekly, daily and hourly dates are
// placed by their offset from the first date, since a calendar year does
// not always hold exactly 52 weeks or 365 days.
func seriesFromDates(dates []time.Time, values []float64, freq tsdata.Frequency) (*tsdata.Series, error) {
	var (
		firstDate time.Time
		seen      bool
	)
	for i, d := range dates {
		if math.IsNaN(values[i]) {
			continue
		}
		if !seen || d.Before(firstDate) {
			firstDate = d
		}
		seen = true
	}
	if !seen {
		return nil, tsdata.ErrEmptySeries
	}
	first := tsdata.PeriodOf(firstDate, freq)
	step, fixed := freq.Step()

	index := make([]int, len(dates))
	last := -1
	for i, d := range dates {
		if fixed {
			index[i] = int(math.Round(float64(d.Sub(firstDate)) / float64(step)))
		} else {
			index[i] = tsdata.PeriodOf(d, freq).Sub(first)
		}
		if !math.IsNaN(values[i]) {
			last = max(last, index[i])
		}
	}
	out := make([]float64, last+1)
	for i := range out {
		out[i] = math.NaN()
	}
	for i, k := range index {
		if k >= 0 && k < len(out) && !math.IsNaN(values[i]) {
			out[k] = values[i]
		}
	}
	return tsdata.NewSeries(out, freq, first.Year, first.Period)
}

func parseValue(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "na") || strings.EqualFold(s, "nan") || strings.EqualFold(s, "null") {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func formatValue(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func seriesName(ps ParsedSeries, i int) string {
	if ps.Name != "" {
		return ps.Name
	}
	return fmt.Sprintf("series_%d", i+1)
}

// dateLabel renders the instant of an observation at frequency f with
// layout. Without one, yearly, quarterly and monthly observations use
// Period.String and finer ones an ISO date.
func dateLabel(t time.Time, f tsdata.Frequency, layout string) string {
	if layout != "" {
		return t.Format(Layout(layout))
	}
	switch f {
	case tsdata.Yearly, tsdata.Quarterly, tsdata.Monthly:
		return tsdata.PeriodOf(t, f).String()
	case tsdata.Hourly:
		return t.Format("2006-01-02T15:04:05")
	}
	return t.Format("2006-01-02")
}
