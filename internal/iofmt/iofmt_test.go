package iofmt

import (
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/demetra.report/internal/tsdata"
)

func mustSeries(t *testing.T, values []float64, freq tsdata.Frequency, year, period int) *tsdata.Series {
	t.Helper()
	s, err := tsdata.NewSeries(values, freq, year, period)
	require.NoError(t, err)
	return s
}

func TestFormatLookup(t *testing.T) {
	f, err := ParseFormat("YML")
	require.NoError(t, err)
	assert.Equal(t, YAML, f)
	_, err = ParseFormat("parquet")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	f, err = FormatFromFilename("data/retail.XLSX")
	require.NoError(t, err)
	assert.Equal(t, Excel, f)
	_, err = FormatFromFilename("notes.txt")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	assert.Equal(t, ".yaml", YAML.Extension())
	assert.Equal(t, "text/csv", ContentType("a.csv"))
	assert.Equal(t, "image/svg+xml", ContentType("plot.svg"))
	assert.Equal(t, "application/octet-stream", ContentType("blob"))
	assert.Len(t, Formats(), 5)
}

func TestParseDate(t *testing.T) {
	cases := map[string]time.Time{
		"2020Q3":     time.Date(2020, 7, 1, 0, 0, 0, 0, time.UTC),
		"2021-Q1":    time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		"2020-03":    time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC),
		"2020-03-15": time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC),
		"1999":       time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseDate(in, "")
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s: got %s", in, got)
	}

	got, err := ParseDate("15/03/2020", "%d/%m/%Y")
	require.NoError(t, err)
	assert.Equal(t, time.March, got.Month())

	_, err = ParseDate("yesterday", "")
	assert.ErrorIs(t, err, ErrParse)
}

func TestDetectFrequency(t *testing.T) {
	step := func(n int, next func(time.Time) time.Time) []time.Time {
		d := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		out := []time.Time{d}
		for i := 1; i < n; i++ {
			d = next(d)
			out = append(out, d)
		}
		return out
	}
	assert.Equal(t, tsdata.Daily, DetectFrequency(step(10, func(d time.Time) time.Time { return d.AddDate(0, 0, 1) })))
	assert.Equal(t, tsdata.Weekly, DetectFrequency(step(10, func(d time.Time) time.Time { return d.AddDate(0, 0, 7) })))
	assert.Equal(t, tsdata.Monthly, DetectFrequency(step(10, func(d time.Time) time.Time { return d.AddDate(0, 1, 0) })))
	assert.Equal(t, tsdata.Quarterly, DetectFrequency(step(10, func(d time.Time) time.Time { return d.AddDate(0, 3, 0) })))
	assert.Equal(t, tsdata.Yearly, DetectFrequency(step(10, func(d time.Time) time.Time { return d.AddDate(1, 0, 0) })))
	assert.Equal(t, tsdata.Monthly, DetectFrequency(nil))
}

func TestParseCSVWide(t *testing.T) {
	data := "date,sales,costs\n" +
		"2020-03,3,30\n" +
		"2020-01,1,10\n" +
		"2020-02,2,\n" +
		"2020-04,4,\n"
	got, err := Parse(CSV, []byte(data), nil)
	require.NoError(t, err)
	require.Len(t, got, 2)

	sales := got[0]
	assert.Equal(t, "sales", sales.Name)
	assert.Equal(t, tsdata.Monthly, sales.Series.Frequency)
	assert.Equal(t, tsdata.Period{Year: 2020, Period: 1, Frequency: tsdata.Monthly}, sales.Series.Start)
	assert.Equal(t, []float64{1, 2, 3, 4}, sales.Series.Values)
	assert.Equal(t, "csv", sales.Metadata["source"])

	costs := got[1].Series.Values
	require.Len(t, costs, 3)
	assert.Equal(t, 10.0, costs[0])
	assert.True(t, math.IsNaN(costs[1]))
	assert.Equal(t, 30.0, costs[2])
}

func TestParseCSVOptions(t *testing.T) {
	data := "2019Q4;7\n2020Q1;8\n2020Q2;9\n"
	got, err := Parse(CSV, []byte(data), Options{"delimiter": ";", "header": false})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "column_1", got[0].Name)
	assert.Equal(t, tsdata.Quarterly, got[0].Series.Frequency)
	assert.Equal(t, 2019, got[0].Series.Start.Year)
	assert.Equal(t, 4, got[0].Series.Start.Period)

	data = "id,when,a,b\nx,2020-01-01,1,5\ny,2020-02-01,2,6\n"
	got, err = Parse(CSV, []byte(data), Options{"date_column": "when", "value_columns": []any{"b"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Name)
	assert.Equal(t, []float64{5, 6}, got[0].Series.Values)

	_, err = Parse(CSV, []byte(data), Options{"date_column": "missing"})
	assert.ErrorIs(t, err, ErrParse)
	_, err = Parse(CSV, []byte("date,a\nnot-a-date,1\n"), nil)
	assert.ErrorIs(t, err, ErrParse)
	_, err = Parse(CSV, []byte("\n\n"), nil)
	assert.ErrorIs(t, err, ErrNoSeries)
}

func TestParseCSVLong(t *testing.T) {
	data := "date,series,value\n" +
		"2020,a,1\n2021,a,2\n2022,a,3\n" +
		"2020,b,9\n2021,b,8\n"
	got, err := Parse(CSV, []byte(data), nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, tsdata.Yearly, got[0].Series.Frequency)
	assert.Equal(t, []float64{1, 2, 3}, got[0].Series.Values)
	assert.Equal(t, []float64{9, 8}, got[1].Series.Values)
}

func roundTrip(t *testing.T, f Format, opts Options) {
	t.Helper()
	in := []ParsedSeries{
		{Name: "sales", Series: mustSeries(t, []float64{1.5, 2, math.NaN(), 4}, tsdata.Monthly, 2020, 11)},
		{Name: "costs", Series: mustSeries(t, []float64{7, 8}, tsdata.Monthly, 2021, 1)},
	}
	data, err := Write(f, in, opts)
	require.NoError(t, err)
	out, err := Parse(f, data, opts)
	require.NoError(t, err)
	require.Len(t, out, 2)

	byName := map[string]*tsdata.Series{}
	for _, ps := range out {
		byName[ps.Name] = ps.Series
	}
	for _, ps := range in {
		got := byName[ps.Name]
		require.NotNil(t, got, ps.Name)
		assert.Equal(t, ps.Series.Start, got.Start, ps.Name)
		require.Len(t, got.Values, ps.Series.Len(), ps.Name)
		for i, v := range ps.Series.Values {
			if math.IsNaN(v) {
				assert.True(t, math.IsNaN(got.Values[i]))
				continue
			}
			assert.InDelta(t, v, got.Values[i], 1e-12)
		}
	}
}

func TestRoundTrips(t *testing.T) {
	t.Run("csv", func(t *testing.T) { roundTrip(t, CSV, nil) })
	t.Run("csv long", func(t *testing.T) { roundTrip(t, CSV, Options{"layout": "long"}) })
	t.Run("json", func(t *testing.T) { roundTrip(t, JSON, nil) })
	t.Run("json simple", func(t *testing.T) { roundTrip(t, JSON, Options{"format_type": "simple"}) })
	t.Run("xml", func(t *testing.T) { roundTrip(t, XML, nil) })
	t.Run("xml generic", func(t *testing.T) { roundTrip(t, XML, Options{"format_type": "generic"}) })
	t.Run("yaml", func(t *testing.T) { roundTrip(t, YAML, nil) })
	t.Run("excel", func(t *testing.T) { roundTrip(t, Excel, nil) })
}

func datedCSV(start time.Time, n int, next func(time.Time) time.Time) string {
	var b strings.Builder
	b.WriteString("date,visits\n")
	d := start
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%s,%d\n", d.Format("2006-01-02"), i+1)
		d = next(d)
	}
	return b.String()
}

func TestParseCSVAcrossLongYears(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		n     int
		next  func(time.Time) time.Time
		freq  tsdata.Frequency
	}{
		{"daily leap year", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), 366, func(d time.Time) time.Time { return d.AddDate(0, 0, 1) }, tsdata.Daily},
		{"daily from december", time.Date(2019, 12, 1, 0, 0, 0, 0, time.UTC), 500, func(d time.Time) time.Time { return d.AddDate(0, 0, 1) }, tsdata.Daily},
		{"weekly with a 53rd week", time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), 104, func(d time.Time) time.Time { return d.AddDate(0, 0, 7) }, tsdata.Weekly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(CSV, []byte(datedCSV(tt.start, tt.n, tt.next)), nil)
			require.NoError(t, err)
			require.Len(t, got, 1)
			s := got[0].Series
			assert.Equal(t, tt.freq, s.Frequency)
			require.Len(t, s.Values, tt.n)
			for i, v := range s.Values {
				require.Equal(t, float64(i+1), v, "observation %d", i)
			}
			assert.True(t, tt.start.Equal(s.TimeAt(0)))

			data, err := Write(CSV, got, nil)
			require.NoError(t, err)
			back, err := Parse(CSV, data, nil)
			require.NoError(t, err)
			assert.Equal(t, s.Values, back[0].Series.Values)
			assert.Equal(t, s.Start, back[0].Series.Start)
		})
	}
}

func TestParseCSVDailyGap(t *testing.T) {
	got, err := Parse(CSV, []byte("date,v\n2020-02-27,1\n2020-02-28,2\n2020-03-01,4\n2020-03-02,5\n"), nil)
	require.NoError(t, err)
	v := got[0].Series.Values
	require.Len(t, v, 5)
	assert.Equal(t, []float64{1, 2}, v[:2])
	assert.True(t, math.IsNaN(v[2]))
	assert.Equal(t, []float64{4, 5}, v[3:])
}

func TestWriteWideNeedsCommonFrequency(t *testing.T) {
	in := []ParsedSeries{
		{Name: "m", Series: mustSeries(t, []float64{1, 2}, tsdata.Monthly, 2020, 1)},
		{Name: "q", Series: mustSeries(t, []float64{1, 2}, tsdata.Quarterly, 2020, 1)},
	}
	_, err := Write(CSV, in, nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	data, err := Write(CSV, in, Options{"layout": "long"})
	require.NoError(t, err)
	assert.Contains(t, string(data), "2020Q2,q,2")
}

func TestWriteCSVAlignsSeries(t *testing.T) {
	in := []ParsedSeries{
		{Name: "a", Series: mustSeries(t, []float64{1, 2}, tsdata.Quarterly, 2020, 1)},
		{Name: "b", Series: mustSeries(t, []float64{5}, tsdata.Quarterly, 2020, 2)},
	}
	data, err := Write(CSV, in, nil)
	require.NoError(t, err)
	assert.Equal(t, "date,a,b\n2020Q1,1,\n2020Q2,2,5\n", string(data))
}

func TestParseJSONLayouts(t *testing.T) {
	single := `{"name":"gdp","values":[1,2,null],"frequency":"Q","start_period":{"year":2001,"period":2}}`
	got, err := Parse(JSON, []byte(single), nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "gdp", got[0].Name)
	assert.Equal(t, 2001, got[0].Series.Start.Year)
	assert.Equal(t, tsdata.Quarterly, got[0].Series.Start.Frequency)
	assert.True(t, math.IsNaN(got[0].Series.Values[2]))

	list := `[{"values":[1,2]},{"values":[3],"metadata":{"name":"third"}}]`
	got, err = Parse(JSON, []byte(list), nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "series_1", got[0].Name)
	assert.Equal(t, "third", got[1].Name)
	assert.Equal(t, tsdata.Monthly, got[0].Series.Frequency)
	assert.Equal(t, 2020, got[0].Series.Start.Year)

	simple := `{"gdp":{"dates":["2020Q1","2020Q2","2020Q3"],"values":[1,2,3]},"raw":[4,5]}`
	got, err = Parse(JSON, []byte(simple), nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "gdp", got[0].Name)
	assert.Equal(t, tsdata.Quarterly, got[0].Series.Frequency)
	assert.Equal(t, "raw", got[1].Name)
	assert.Equal(t, []float64{4, 5}, got[1].Series.Values)

	_, err = Parse(JSON, []byte(`{"a":{"dates":["2020"],"values":[1,2]}}`), nil)
	assert.ErrorIs(t, err, ErrParse)
	_, err = Parse(JSON, []byte(`"text"`), nil)
	assert.ErrorIs(t, err, ErrParse)
}

func TestWriteJSONOptions(t *testing.T) {
	s := mustSeries(t, []float64{1}, tsdata.Yearly, 2020, 1)
	s.Metadata["unit"] = "EUR"
	in := []ParsedSeries{{Name: "a", Series: s}}

	data, err := Write(JSON, in, Options{"indent": 0.0, "include_metadata": false})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "\n")
	assert.NotContains(t, string(data), "EUR")

	data, err = Write(JSON, in, nil)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"series\"")
	assert.Contains(t, string(data), "EUR")
}

func TestParseXMLGeneric(t *testing.T) {
	data := `<?xml version="1.0"?>
<data>
  <timeseries name="gdp">
    <obs date="2020-01-01" value="1.5"/>
    <obs date="2020-04-01" value="2.5"/>
    <obs date="2020-07-01">3.5</obs>
  </timeseries>
</data>`
	got, err := Parse(XML, []byte(data), nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "gdp", got[0].Name)
	assert.Equal(t, tsdata.Quarterly, got[0].Series.Frequency)
	assert.Equal(t, []float64{1.5, 2.5, 3.5}, got[0].Series.Values)

	flat := `<series><observation>1</observation><observation>2</observation></series>`
	got, err = Parse(XML, []byte(flat), Options{"frequency": "Q", "start_year": 1990.0})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1990, got[0].Series.Start.Year)
	assert.Equal(t, tsdata.Quarterly, got[0].Series.Frequency)

	_, err = Parse(XML, []byte("<unclosed>"), nil)
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseXMLJDemetra(t *testing.T) {
	data := `<jdemetra version="2.0">
  <series_collection>
    <series name="exports" frequency="Q">
      <start year="2018" period="3"/>
      <observations count="3">
        <observation index="0" value="10"/>
        <observation index="1" value=""/>
        <observation index="2" value="12"/>
      </observations>
    </series>
  </series_collection>
</jdemetra>`
	got, err := Parse(XML, []byte(data), nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	s := got[0].Series
	assert.Equal(t, "exports", got[0].Name)
	assert.Equal(t, tsdata.Period{Year: 2018, Period: 3, Frequency: tsdata.Quarterly}, s.Start)
	assert.True(t, math.IsNaN(s.Values[1]))
}

func TestParseYAML(t *testing.T) {
	data := `
series:
  - name: sales
    frequency: quarterly
    start_period: {year: 2019, period: 3}
    values: [1, 2.5, null, 4]
    unit: EUR
  - name: visits
    start: 2021-04-01
    data: [5, 6]
`
	got, err := Parse(YAML, []byte(data), nil)
	require.NoError(t, err)
	require.Len(t, got, 2)

	sales := got[0].Series
	assert.Equal(t, tsdata.Quarterly, sales.Frequency)
	assert.Equal(t, 2019, sales.Start.Year)
	assert.Equal(t, 3, sales.Start.Period)
	assert.True(t, math.IsNaN(sales.Values[2]))
	assert.Equal(t, "EUR", sales.Metadata["unit"])

	visits := got[1].Series
	assert.Equal(t, tsdata.Monthly, visits.Frequency)
	assert.Equal(t, 4, visits.Start.Period)
	assert.Equal(t, []float64{5, 6}, visits.Values)

	got, err = Parse(YAML, []byte("gdp: [1, 2, 3]\n"), nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "gdp", got[0].Name)

	_, err = Parse(YAML, []byte("- 1\n- 2\n"), nil)
	assert.ErrorIs(t, err, ErrParse)
	_, err = Parse(YAML, []byte("name: x\nvalues: 3\n"), nil)
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseExcelRejectsGarbage(t *testing.T) {
	_, err := Parse(Excel, []byte("not a workbook"), nil)
	assert.ErrorIs(t, err, ErrParse)
}

func TestWriteExcelSheetName(t *testing.T) {
	in := []ParsedSeries{{Name: "a", Series: mustSeries(t, []float64{1, 2, 3}, tsdata.Monthly, 2020, 1)}}
	data, err := Write(Excel, in, Options{"sheet_name": "Data", "include_metadata": false})
	require.NoError(t, err)
	got, err := Parse(Excel, data, Options{"sheet": "Data"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Data", got[0].Metadata["sheet"])
	assert.Equal(t, []float64{1, 2, 3}, got[0].Series.Values)

	_, err = Parse(Excel, data, Options{"sheet": 3.0})
	assert.ErrorIs(t, err, ErrParse)
}

func TestValidate(t *testing.T) {
	r := Validate(CSV, []byte("date,a\n2020-01,1\n2020-02,\n2020-03,3\n"), nil)
	assert.False(t, r.Valid)
	assert.Equal(t, 1, r.Series)
	require.NotEmpty(t, r.Errors)
	assert.True(t, strings.HasPrefix(r.Errors[0], "a: "))
	assert.NotEmpty(t, r.Warnings)

	r = Validate(JSON, []byte("{"), nil)
	assert.False(t, r.Valid)
	assert.Len(t, r.Errors, 1)

	var rows strings.Builder
	rows.WriteString("date,a\n")
	for m := 1; m <= 12; m++ {
		fmt.Fprintf(&rows, "2020-%02d,%d\n", m, 10*m)
	}
	r = Validate(CSV, []byte(rows.String()), nil)
	assert.True(t, r.Valid, r.Errors)
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := Parse(Format("parquet"), nil, nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	_, err = Write(Format("parquet"), nil, nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
