package iofmt

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// namedSeries is the jdemetra JSON layout of one series.
type namedSeries struct {
	Name      string           `json:"name,omitempty"`
	Values    []*float64       `json:"values"`
	Start     tsdata.Period    `json:"start_period"`
	Frequency tsdata.Frequency `json:"frequency"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
}

type simpleSeries struct {
	Dates     []string   `json:"dates,omitempty"`
	Values    []*float64 `json:"values"`
	Frequency string     `json:"frequency,omitempty"`
}

func parseJSON(data []byte, opts Options) ([]ParsedSeries, error) {
	var probe any
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	kind := opts.String("format_type", "auto")
	switch v := probe.(type) {
	case []any:
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return jdemetraSeries(list, opts)
	case map[string]any:
		_, hasValues := v["values"]
		_, hasSeries := v["series"]
		switch {
		case kind == "simple":
			return simpleJSON(data, opts)
		case hasValues:
			return jdemetraSeries([]json.RawMessage{data}, opts)
		case hasSeries:
			var wrapper struct {
				Series []json.RawMessage `json:"series"`
			}
			if err := json.Unmarshal(data, &wrapper); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrParse, err)
			}
			return jdemetraSeries(wrapper.Series, opts)
		}
		return simpleJSON(data, opts)
	}
	return nil, fmt.Errorf("%w: JSON must be an object or an array", ErrParse)
}

func jdemetraSeries(list []json.RawMessage, opts Options) ([]ParsedSeries, error) {
	var out []ParsedSeries
	for i, raw := range list {
		var ns namedSeries
		if err := json.Unmarshal(raw, &ns); err != nil {
			return nil, fmt.Errorf("%w: series %d: %v", ErrParse, i+1, err)
		}
		if ns.Frequency == "" {
			ns.Frequency = ns.Start.Frequency
		}
		if ns.Frequency == "" {
			f, err := opts.Frequency(tsdata.Monthly)
			if err != nil {
				return nil, err
			}
			ns.Frequency = f
		}
		ns.Start.Frequency = ns.Frequency
		if ns.Start.Year == 0 {
			ns.Start.Year, ns.Start.Period = opts.Int("start_year", 2020), opts.Int("start_period", 1)
		}
		s, err := tsdata.NewSeries(tsdata.FromNullable(ns.Values), ns.Frequency, ns.Start.Year, ns.Start.Period)
		if err != nil {
			return nil, fmt.Errorf("series %d: %w", i+1, err)
		}
		for k, v := range ns.Metadata {
			s.Metadata[k] = v
		}
		name := ns.Name
		if name == "" {
			if n, ok := ns.Metadata["name"].(string); ok {
				name = n
			} else {
				name = fmt.Sprintf("series_%d", i+1)
			}
		}
		out = append(out, newParsed(name, "json", s))
	}
	return out, nil
}

func simpleJSON(data []byte, opts Options) ([]ParsedSeries, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	names := make([]string, 0, len(raw))
	for k := range raw {
		names = append(names, k)
	}
	sort.Strings(names)

	var out []ParsedSeries
	for _, name := range names {
		var ss simpleSeries
		if err := json.Unmarshal(raw[name], &ss); err != nil {
			// A bare array of values.
			if err := json.Unmarshal(raw[name], &ss.Values); err != nil {
				return nil, fmt.Errorf("%w: series %q: %v", ErrParse, name, err)
			}
		}
		values := tsdata.FromNullable(ss.Values)
		var (
			s   *tsdata.Series
			err error
		)
		if len(ss.Dates) > 0 {
			s, err = datedSeries(ss.Dates, values, ss.Frequency, opts)
		} else {
			var freq tsdata.Frequency
			if freq, err = opts.Frequency(tsdata.Monthly); err == nil && ss.Frequency != "" {
				freq, err = tsdata.ParseFrequency(ss.Frequency)
			}
			if err == nil {
				s, err = tsdata.NewSeries(values, freq, opts.Int("start_year", 2020), opts.Int("start_period", 1))
			}
		}
		if err != nil {
			return nil, fmt.Errorf("series %q: %w", name, err)
		}
		out = append(out, newParsed(name, "json", s))
	}
	return out, nil
}

// datedSeries pairs date strings with values.
func datedSeries(labels []string, values []float64, freqName string, opts Options) (*tsdata.Series, error) {
	if len(labels) != len(values) {
		return nil, fmt.Errorf("%w: %d dates for %d values", ErrParse, len(labels), len(values))
	}
	layout := opts.String("date_format", "")
	dates := make([]time.Time, len(labels))
	for i, l := range labels {
		d, err := ParseDate(l, layout)
		if err != nil {
			return nil, err
		}
		dates[i] = d
	}
	freq, err := opts.Frequency("")
	if err != nil {
		return nil, err
	}
	if freqName != "" {
		if freq, err = tsdata.ParseFrequency(freqName); err != nil {
			return nil, err
		}
	}
	if freq == "" {
		freq = DetectFrequency(sortedDates(dates))
	}
	return seriesFromDates(dates, values, freq)
}

func formatJSON(series []ParsedSeries, opts Options) ([]byte, error) {
	if len(series) == 0 {
		return nil, ErrNoSeries
	}
	var doc any
	if opts.String("format_type", "jdemetra") == "simple" {
		simple := map[string]simpleSeries{}
		layout := opts.String("date_format", "")
		for i, ps := range series {
			dates := make([]string, ps.Series.Len())
			for k := range dates {
				dates[k] = dateLabel(ps.Series.TimeAt(k), ps.Series.Frequency, layout)
			}
			simple[seriesName(ps, i)] = simpleSeries{Dates: dates, Values: tsdata.NullableValues(ps.Series.Values)}
		}
		doc = simple
	} else {
		list := make([]namedSeries, len(series))
		for i, ps := range series {
			list[i] = namedSeries{
				Name:      seriesName(ps, i),
				Values:    tsdata.NullableValues(ps.Series.Values),
				Start:     ps.Series.Start,
				Frequency: ps.Series.Frequency,
			}
			if opts.Bool("include_metadata", true) {
				list[i].Metadata = ps.Series.Metadata
			}
		}
		doc = map[string]any{"series": list}
	}
	indent := opts.Int("indent", 2)
	if indent <= 0 {
		return json.Marshal(doc)
	}
	return json.MarshalIndent(doc, "", fmt.Sprintf("%*s", indent, ""))
}
