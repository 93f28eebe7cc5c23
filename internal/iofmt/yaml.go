package iofmt

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/demetra.report/internal/tsdata"
)

var yamlValueKeys = []string{"values", "data", "observations", "obs"}

// yamlSeries is the YAML layout written by formatYAML.
type yamlSeries struct {
	Name      string           `yaml:"name"`
	Frequency tsdata.Frequency `yaml:"frequency"`
	Start     tsdata.Period    `yaml:"start_period"`
	Values    []*float64       `yaml:"values"`
	Metadata  map[string]any   `yaml:"metadata,omitempty"`
}

func parseYAML(data []byte, opts Options) ([]ParsedSeries, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	keys := yamlValueKeys
	if k := opts.String("values_key", ""); k != "" {
		keys = []string{k}
	}

	switch v := doc.(type) {
	case []any:
		return yamlList(v, keys, opts)
	case map[string]any:
		for _, wrap := range []string{"series", "timeseries"} {
			switch inner := v[wrap].(type) {
			case []any:
				return yamlList(inner, keys, opts)
			case map[string]any:
				v = inner
			}
		}
		if valuesKey(v, keys) != "" {
			return yamlList([]any{v}, keys, opts)
		}
		names := make([]string, 0, len(v))
		for k := range v {
			names = append(names, k)
		}
		sort.Strings(names)
		var out []ParsedSeries
		for _, name := range names {
			m, ok := v[name].(map[string]any)
			if !ok {
				m = map[string]any{"values": v[name]}
			}
			if _, ok := m["name"]; !ok {
				m["name"] = name
			}
			ps, err := yamlSeriesOf(m, 0, yamlValueKeys, opts)
			if err != nil {
				return nil, err
			}
			out = append(out, ps)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: YAML must be a list or a mapping", ErrParse)
}

func yamlList(list []any, keys []string, opts Options) ([]ParsedSeries, error) {
	var out []ParsedSeries
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: series %d is not a mapping", ErrParse, i+1)
		}
		ps, err := yamlSeriesOf(m, i, keys, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, nil
}

func valuesKey(m map[string]any, keys []string) string {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return k
		}
	}
	return ""
}

var yamlReserved = map[string]bool{
	"name": true, "frequency": true, "start_period": true, "start": true,
	"start_year": true, "dates": true, "metadata": true,
}

func yamlSeriesOf(m map[string]any, i int, keys []string, opts Options) (ParsedSeries, error) {
	name, _ := m["name"].(string)
	if name == "" {
		name = fmt.Sprintf("series_%d", i+1)
	}
	key := valuesKey(m, keys)
	if key == "" {
		return ParsedSeries{}, fmt.Errorf("%w: series %q has no values", ErrParse, name)
	}
	raw, ok := m[key].([]any)
	if !ok {
		return ParsedSeries{}, fmt.Errorf("%w: series %q values must be a list", ErrParse, name)
	}
	values := make([]float64, len(raw))
	for k, v := range raw {
		values[k] = yamlNumber(v)
	}

	freq, err := opts.Frequency(tsdata.Monthly)
	if err != nil {
		return ParsedSeries{}, err
	}
	if f, ok := m["frequency"]; ok {
		if freq, err = tsdata.ParseFrequency(fmt.Sprint(f)); err != nil {
			return ParsedSeries{}, fmt.Errorf("series %q: %w", name, err)
		}
	}

	var s *tsdata.Series
	if dates, ok := m["dates"].([]any); ok {
		labels := make([]string, len(dates))
		for k, d := range dates {
			labels[k] = yamlDate(d)
		}
		fname := ""
		if _, ok := m["frequency"]; ok {
			fname = string(freq)
		}
		s, err = datedSeries(labels, values, fname, opts)
	} else {
		year, period := opts.Int("start_year", 2020), opts.Int("start_period", 1)
		switch sp := m["start_period"].(type) {
		case map[string]any:
			year, period = yamlInt(sp["year"], year), yamlInt(sp["period"], period)
		case int:
			year = sp
		}
		if y, ok := m["start_year"]; ok {
			year = yamlInt(y, year)
		}
		if st, ok := m["start"]; ok {
			t, perr := ParseDate(yamlDate(st), opts.String("date_format", ""))
			if perr != nil {
				return ParsedSeries{}, fmt.Errorf("series %q: %w", name, perr)
			}
			p := tsdata.PeriodOf(t, freq)
			year, period = p.Year, p.Period
		}
		s, err = tsdata.NewSeries(values, freq, year, period)
	}
	if err != nil {
		return ParsedSeries{}, fmt.Errorf("series %q: %w", name, err)
	}
	if md, ok := m["metadata"].(map[string]any); ok {
		for k, v := range md {
			s.Metadata[k] = v
		}
	}
	for k, v := range m {
		if k != key && !yamlReserved[k] {
			s.Metadata[k] = v
		}
	}
	return newParsed(name, "yaml", s), nil
}

func yamlNumber(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	case string:
		return parseValue(n)
	}
	return math.NaN()
}

func yamlInt(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return def
}

// yamlDate renders a scalar decoded from YAML as a date string; yaml.v3
// decodes unquoted timestamps to time.Time.
func yamlDate(v any) string {
	if t, ok := v.(time.Time); ok {
		return t.Format("2006-01-02")
	}
	return fmt.Sprint(v)
}

func formatYAML(series []ParsedSeries, opts Options) ([]byte, error) {
	if len(series) == 0 {
		return nil, ErrNoSeries
	}
	list := make([]yamlSeries, len(series))
	for i, ps := range series {
		list[i] = yamlSeries{
			Name:      seriesName(ps, i),
			Frequency: ps.Series.Frequency,
			Start:     ps.Series.Start,
			Values:    tsdata.NullableValues(ps.Series.Values),
		}
		if opts.Bool("include_metadata", true) {
			list[i].Metadata = ps.Series.Metadata
		}
	}
	return yaml.Marshal(map[string]any{"series": list})
}
