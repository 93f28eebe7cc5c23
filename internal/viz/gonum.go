package viz

import (
	"bytes"
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/font"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// renderStatic draws f as png, svg or pdf. Panels are tiled with plot.Align
// on a single canvas; a multi-panel figure gets its title across the top.
func renderStatic(f *figure, format Format) ([]byte, error) {
	w := vg.Length(f.width) * vg.Inch
	h := vg.Length(f.height) * vg.Inch

	var c vg.CanvasWriterTo
	if format == PNG {
		c = vgimg.PngCanvas{Canvas: vgimg.NewWith(vgimg.UseWH(w, h), vgimg.UseDPI(f.dpi))}
	} else {
		var err error
		if c, err = draw.NewFormattedCanvas(w, h, string(format)); err != nil {
			return nil, fmt.Errorf("%s canvas: %w", format, err)
		}
	}
	dc := draw.New(c)
	dc.SetColor(f.theme.Background)
	dc.Fill(dc.Rectangle.Path())

	rows := f.rows()
	plots := make([][]*plot.Plot, rows)
	for j := range plots {
		plots[j] = make([]*plot.Plot, f.cols)
	}
	solo := len(f.panels) == 1
	for i, pn := range f.panels {
		p, err := f.staticPanel(pn, solo)
		if err != nil {
			return nil, err
		}
		plots[i/f.cols][i%f.cols] = p
	}

	tiles := draw.Tiles{
		Rows:      rows,
		Cols:      f.cols,
		PadX:      vg.Millimeter * 4,
		PadY:      vg.Millimeter * 4,
		PadTop:    vg.Millimeter * 2,
		PadBottom: vg.Millimeter * 2,
		PadLeft:   vg.Millimeter * 2,
		PadRight:  vg.Millimeter * 4,
	}
	if !solo && f.title != "" {
		tiles.PadTop = vg.Points(28)
		sty := text.Style{
			Color:   f.theme.Foreground,
			Font:    font.From(plot.DefaultFont, vg.Points(15)),
			XAlign:  text.XCenter,
			YAlign:  text.YTop,
			Handler: plot.DefaultTextHandler,
		}
		dc.FillText(sty, vg.Point{X: w / 2, Y: h - vg.Points(6)}, f.title)
	}

	canvases := plot.Align(plots, tiles, dc)
	for j := range plots {
		for i, p := range plots[j] {
			if p != nil {
				p.Draw(canvases[j][i])
			}
		}
	}

	var buf bytes.Buffer
	if _, err := c.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

func (f *figure) colour(i int) color.Color {
	if i == noColour || len(f.theme.Palette) == 0 {
		return f.theme.Foreground
	}
	return f.theme.Palette[i%len(f.theme.Palette)]
}

func (f *figure) staticPanel(pn panel, solo bool) (*plot.Plot, error) {
	th := f.theme
	p := plot.New()
	p.BackgroundColor = th.Background
	p.Title.Text = pn.title
	if solo && pn.title == "" {
		p.Title.Text = f.title
	}
	p.Title.TextStyle.Color = th.Foreground
	p.X.Label.Text = pn.xlabel
	p.Y.Label.Text = pn.ylabel
	for _, ax := range []*plot.Axis{&p.X, &p.Y} {
		ax.LineStyle.Color = th.Foreground
		ax.Label.TextStyle.Color = th.Foreground
		ax.Tick.LineStyle.Color = th.Foreground
		ax.Tick.Label.Color = th.Foreground
	}
	p.Legend.TextStyle.Color = th.Foreground
	p.Legend.Top = true
	p.Legend.XOffs = -vg.Millimeter * 2

	if pn.timeAxis {
		p.X.Tick.Marker = plot.TimeTicks{Format: pn.dateLayout}
	}
	if pn.logY {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	}
	if f.grid {
		g := plotter.NewGrid()
		g.Vertical.Color = th.GridColor
		g.Horizontal.Color = th.GridColor
		p.Add(g)
	}

	for _, t := range pn.traces {
		if err := f.addTrace(p, t); err != nil {
			return nil, err
		}
	}
	for _, r := range pn.refs {
		xs, ys, ok := refSegment(pn, r)
		if !ok {
			continue
		}
		l, err := plotter.NewLine(plotter.XYs{{X: xs[0], Y: ys[0]}, {X: xs[1], Y: ys[1]}})
		if err != nil {
			return nil, err
		}
		l.LineStyle.Color = f.colour(r.colour)
		l.LineStyle.Width = vg.Points(1)
		if r.dotted {
			l.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
		}
		p.Add(l)
		if r.name != "" && f.legend {
			p.Legend.Add(r.name, l)
		}
	}
	if len(pn.labels) > 0 {
		xyl := plotter.XYLabels{XYs: make(plotter.XYs, len(pn.labels)), Labels: make([]string, len(pn.labels))}
		for i, lb := range pn.labels {
			xyl.XYs[i] = plotter.XY{X: lb.x, Y: lb.y}
			xyl.Labels[i] = lb.text
		}
		labels, err := plotter.NewLabels(xyl)
		if err != nil {
			return nil, err
		}
		for i := range labels.TextStyle {
			labels.TextStyle[i].Color = th.Foreground
		}
		labels.Offset = vg.Point{X: vg.Points(5), Y: vg.Points(5)}
		p.Add(labels)
	}
	if pn.xRange != nil {
		p.X.Min, p.X.Max = pn.xRange[0], pn.xRange[1]
	}
	return p, nil
}

func (f *figure) addTrace(p *plot.Plot, t trace) error {
	col := f.colour(t.colour)
	var thumb plot.Thumbnailer
	switch t.kind {
	case lineTrace:
		for _, seg := range segments(t.x, t.y) {
			l, err := plotter.NewLine(seg)
			if err != nil {
				return err
			}
			l.LineStyle.Color = col
			l.LineStyle.Width = vg.Points(math.Max(t.width, 1))
			if t.dashed {
				l.LineStyle.Dashes = []vg.Length{vg.Points(6), vg.Points(3)}
			}
			p.Add(l)
			if thumb == nil {
				thumb = l
			}
		}
	case scatterTrace:
		pts := finiteXYs(t.x, t.y)
		if len(pts) == 0 {
			return nil
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = col
		s.GlyphStyle.Radius = vg.Points(2.5)
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(s)
		thumb = s
	case stemTrace:
		heights := make(plotter.Values, len(t.y))
		for i, v := range t.y {
			if finitePair(v, 0) {
				heights[i] = v
			}
		}
		bars, err := plotter.NewBarChart(heights, vg.Points(2))
		if err != nil {
			return err
		}
		bars.XMin = t.x[0]
		bars.Color = col
		bars.LineStyle.Width = 0
		p.Add(bars)
		thumb = bars
	case histTrace:
		bins := make([]plotter.HistogramBin, len(t.x))
		for i, c := range t.x {
			bins[i] = plotter.HistogramBin{Min: c - t.binWidth/2, Max: c + t.binWidth/2, Weight: t.y[i]}
		}
		hist := &plotter.Histogram{Bins: bins, Width: t.binWidth, FillColor: translucent(col, 0xb0)}
		hist.LineStyle = draw.LineStyle{Color: f.theme.Foreground, Width: vg.Points(0.5)}
		p.Add(hist)
		thumb = hist
	case bandTrace:
		var lower, upper plotter.XYs
		for i, x := range t.x {
			if finitePair(t.y[i], t.upper[i]) {
				lower = append(lower, plotter.XY{X: x, Y: t.y[i]})
				upper = append(upper, plotter.XY{X: x, Y: t.upper[i]})
			}
		}
		if len(lower) == 0 {
			return nil
		}
		ring := append(plotter.XYs{}, lower...)
		for i := len(upper) - 1; i >= 0; i-- {
			ring = append(ring, upper[i])
		}
		poly, err := plotter.NewPolygon(ring)
		if err != nil {
			return err
		}
		poly.Color = translucent(col, 0x40)
		poly.LineStyle.Width = 0
		p.Add(poly)
		thumb = poly
	}
	if t.name != "" && thumb != nil && f.legend {
		p.Legend.Add(t.name, thumb)
	}
	return nil
}

// segments splits a line at missing values; gonum plotters reject NaN.
func segments(x, y []float64) []plotter.XYs {
	var out []plotter.XYs
	var cur plotter.XYs
	for i := range x {
		if !finitePair(x[i], y[i]) {
			if len(cur) > 0 {
				out = append(out, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, plotter.XY{X: x[i], Y: y[i]})
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

func finiteXYs(x, y []float64) plotter.XYs {
	var out plotter.XYs
	for i := range x {
		if finitePair(x[i], y[i]) {
			out = append(out, plotter.XY{X: x[i], Y: y[i]})
		}
	}
	return out
}

func finitePair(a, b float64) bool {
	return !math.IsNaN(a) && !math.IsInf(a, 0) && !math.IsNaN(b) && !math.IsInf(b, 0)
}

func translucent(c color.Color, alpha uint8) color.Color {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	n.A = alpha
	return n
}
