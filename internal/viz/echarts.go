package viz

import (
	"bytes"
	"fmt"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// renderHTML draws f as an interactive go-echarts page, one chart per
// panel. Time axes carry unix milliseconds.
func renderHTML(f *figure) ([]byte, error) {
	dims := f.dimensions()
	height := dims.Height
	if len(f.panels) > 1 {
		height = dims.Height / f.rows()
	}
	page := components.NewPage()
	page.PageTitle = pageTitle(f)
	solo := len(f.panels) == 1
	for _, pn := range f.panels {
		page.AddCharts(f.htmlPanel(pn, solo, dims.Width, height))
	}
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return buf.Bytes(), nil
}

func pageTitle(f *figure) string {
	if f.title != "" {
		return f.title
	}
	return "Time series plot"
}

func (f *figure) htmlPanel(pn panel, solo bool, width, height int) *charts.Line {
	title := pn.title
	if solo && title == "" {
		title = f.title
	}
	colours := make([]string, len(f.theme.Palette))
	for i, c := range f.theme.Palette {
		colours[i] = hexOf(c)
	}
	xType := "value"
	if pn.timeAxis {
		xType = "time"
	}
	yType := "value"
	if pn.logY {
		yType = "log"
	}
	xAxis := opts.XAxis{Type: xType, Name: pn.xlabel, NameLocation: "middle", NameGap: 25, SplitLine: &opts.SplitLine{Show: opts.Bool(f.grid)}}
	if pn.xRange != nil {
		xAxis.Min, xAxis.Max = pn.xRange[0], pn.xRange[1]
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: pageTitle(f),
			Theme:     f.theme.ECharts,
			Width:     fmt.Sprintf("%dpx", width),
			Height:    fmt.Sprintf("%dpx", height),
		}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(f.legend), Right: "5%"}),
		charts.WithColorsOpts(opts.Colors(colours)),
		charts.WithXAxisOpts(xAxis),
		charts.WithYAxisOpts(opts.YAxis{Type: yType, Name: pn.ylabel, NameLocation: "middle", NameGap: 40, SplitLine: &opts.SplitLine{Show: opts.Bool(f.grid)}}),
	)

	scale := 1.0
	if pn.timeAxis {
		scale = 1000
	}
	for _, t := range pn.traces {
		col := hexOf(f.colour(t.colour))
		switch t.kind {
		case lineTrace:
			line.AddSeries(t.name, lineData(t.x, t.y, scale),
				charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
				charts.WithLineStyleOpts(opts.LineStyle{Color: col, Width: float32(t.width), Type: lineType(t.dashed)}),
				charts.WithItemStyleOpts(opts.ItemStyle{Color: col}),
			)
		case bandTrace:
			for _, bound := range [][]float64{t.y, t.upper} {
				line.AddSeries(t.name, lineData(t.x, bound, scale),
					charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
					charts.WithLineStyleOpts(opts.LineStyle{Color: col, Width: 1, Type: "dotted"}),
					charts.WithItemStyleOpts(opts.ItemStyle{Color: col}),
				)
			}
		case scatterTrace:
			sc := charts.NewScatter()
			sc.AddSeries(t.name, scatterData(t.x, t.y, scale, nil),
				charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}),
				charts.WithItemStyleOpts(opts.ItemStyle{Color: col}),
			)
			line.Overlap(sc)
		case stemTrace, histTrace:
			bar := charts.NewBar()
			bar.AddSeries(t.name, barData(t.x, t.y, scale), charts.WithItemStyleOpts(opts.ItemStyle{Color: col}))
			line.Overlap(bar)
		}
	}
	for _, r := range pn.refs {
		xs, ys, ok := refSegment(pn, r)
		if !ok {
			continue
		}
		line.AddSeries(r.name, lineData(xs[:], ys[:], scale),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Color: hexOf(f.colour(r.colour)), Width: 1, Type: lineType(r.dotted)}),
		)
	}
	if len(pn.labels) > 0 {
		x := make([]float64, len(pn.labels))
		y := make([]float64, len(pn.labels))
		names := make([]string, len(pn.labels))
		for i, lb := range pn.labels {
			x[i], y[i], names[i] = lb.x, lb.y, lb.text
		}
		sc := charts.NewScatter()
		sc.AddSeries("", scatterData(x, y, scale, names),
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 1}),
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top", Formatter: "{b}"}),
		)
		line.Overlap(sc)
	}
	return line
}

func lineType(dashed bool) string {
	if dashed {
		return "dashed"
	}
	return "solid"
}

// Missing values are dropped; echarts joins across the gap.
func lineData(x, y []float64, scale float64) []opts.LineData {
	out := make([]opts.LineData, 0, len(x))
	for i := range x {
		if finitePair(x[i], y[i]) {
			out = append(out, opts.LineData{Value: []interface{}{x[i] * scale, y[i]}})
		}
	}
	return out
}

func scatterData(x, y []float64, scale float64, names []string) []opts.ScatterData {
	out := make([]opts.ScatterData, 0, len(x))
	for i := range x {
		if !finitePair(x[i], y[i]) {
			continue
		}
		d := opts.ScatterData{Value: []interface{}{x[i] * scale, y[i]}}
		if names != nil {
			d.Name = names[i]
		}
		out = append(out, d)
	}
	return out
}

func barData(x, y []float64, scale float64) []opts.BarData {
	out := make([]opts.BarData, 0, len(x))
	for i := range x {
		if finitePair(x[i], y[i]) {
			out = append(out, opts.BarData{Value: []interface{}{x[i] * scale, y[i]}})
		}
	}
	return out
}
