package iofmt

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// node is a generic XML element.
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []node     `xml:",any"`
}

func (n *node) attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if strings.EqualFold(a.Name.Local, name) {
			return a.Value, true
		}
	}
	return "", false
}

func (n *node) child(name string) *node {
	for i := range n.Nodes {
		if strings.EqualFold(n.Nodes[i].XMLName.Local, name) {
			return &n.Nodes[i]
		}
	}
	return nil
}

// find returns the descendants of n named one of names, depth first,
// without descending into matches.
func (n *node) find(names ...string) []*node {
	var out []*node
	for i := range n.Nodes {
		c := &n.Nodes[i]
		matched := false
		for _, name := range names {
			if strings.EqualFold(c.XMLName.Local, name) {
				matched = true
				break
			}
		}
		if matched {
			out = append(out, c)
			continue
		}
		out = append(out, c.find(names...)...)
	}
	return out
}

// field reads name from an attribute or a child element's text.
func (n *node) field(name string) (string, bool) {
	if v, ok := n.attr(name); ok {
		return v, true
	}
	if c := n.child(name); c != nil {
		return strings.TrimSpace(c.Text), true
	}
	return "", false
}

func parseXML(data []byte, opts Options) ([]ParsedSeries, error) {
	var root node
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	kind := opts.String("format", opts.String("format_type", ""))
	if kind == "jdemetra" || strings.EqualFold(root.XMLName.Local, "jdemetra") {
		return jdemetraXML(&root, opts)
	}
	return genericXML(&root, opts)
}

func jdemetraXML(root *node, opts Options) ([]ParsedSeries, error) {
	var out []ParsedSeries
	for i, sn := range root.find("series") {
		name, ok := sn.field("name")
		if !ok || name == "" {
			name = fmt.Sprintf("series_%d", i+1)
		}
		freq := tsdata.Monthly
		if f, ok := sn.field("frequency"); ok && f != "" {
			var err error
			if freq, err = tsdata.ParseFrequency(f); err != nil {
				return nil, fmt.Errorf("series %q: %w", name, err)
			}
		}
		obs := sn.find("observation")
		values := make([]float64, len(obs))
		for k, o := range obs {
			v, ok := o.attr("value")
			if !ok {
				v = o.Text
			}
			values[k] = parseValue(v)
		}

		year, period := 0, 1
		if st := sn.child("start"); st != nil {
			y, _ := st.field("year")
			p, _ := st.field("period")
			year, _ = strconv.Atoi(strings.TrimSpace(y))
			if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
				period = n
			}
		}
		if year == 0 && len(obs) > 0 {
			if d, ok := obs[0].attr("date"); ok {
				t, err := ParseDate(d, opts.String("date_format", ""))
				if err != nil {
					return nil, fmt.Errorf("series %q: %w", name, err)
				}
				p := tsdata.PeriodOf(t, freq)
				year, period = p.Year, p.Period
			}
		}
		if year == 0 {
			year = opts.Int("start_year", 2020)
		}
		s, err := tsdata.NewSeries(values, freq, year, period)
		if err != nil {
			return nil, fmt.Errorf("series %q: %w", name, err)
		}
		out = append(out, newParsed(name, "xml", s))
	}
	return out, nil
}

func genericXML(root *node, opts Options) ([]ParsedSeries, error) {
	seriesNodes := root.find(opts.String("series_tag", "timeseries"))
	if len(seriesNodes) == 0 {
		seriesNodes = []*node{root}
	}
	obsTags := []string{"observation", "obs", "data"}
	if t := opts.String("observation_tag", ""); t != "" {
		obsTags = []string{t}
	}
	dateAttr := opts.String("date_attribute", "date")
	valueAttr := opts.String("value_attribute", "value")
	layout := opts.String("date_format", "")

	var out []ParsedSeries
	for i, sn := range seriesNodes {
		name, ok := sn.attr("name")
		if !ok {
			if name, ok = sn.attr("id"); !ok {
				name = fmt.Sprintf("series_%d", i+1)
			}
		}
		obs := sn.find(obsTags...)
		if len(obs) == 0 {
			continue
		}
		var (
			dates  []time.Time
			values []float64
		)
		for _, o := range obs {
			v, ok := o.field(valueAttr)
			if !ok {
				v = o.Text
			}
			values = append(values, parseValue(v))
			if d, ok := o.field(dateAttr); ok {
				t, err := ParseDate(d, layout)
				if err != nil {
					return nil, fmt.Errorf("series %q: %w", name, err)
				}
				dates = append(dates, t)
			}
		}

		var (
			s   *tsdata.Series
			err error
		)
		freq, err := opts.Frequency("")
		if err != nil {
			return nil, err
		}
		if f, ok := sn.attr("frequency"); ok && freq == "" {
			if freq, err = tsdata.ParseFrequency(f); err != nil {
				return nil, fmt.Errorf("series %q: %w", name, err)
			}
		}
		if len(dates) == len(values) {
			if freq == "" {
				freq = DetectFrequency(sortedDates(dates))
			}
			s, err = seriesFromDates(dates, values, freq)
		} else {
			if freq == "" {
				freq = tsdata.Monthly
			}
			s, err = tsdata.NewSeries(values, freq, opts.Int("start_year", 2020), opts.Int("start_period", 1))
		}
		if err != nil {
			return nil, fmt.Errorf("series %q: %w", name, err)
		}
		out = append(out, newParsed(name, "xml", s))
	}
	return out, nil
}

type xmlObservation struct {
	Index int    `xml:"index,attr"`
	Date  string `xml:"date,attr"`
	Value string `xml:"value,attr"`
}

type xmlStart struct {
	Year   int `xml:"year,attr"`
	Period int `xml:"period,attr"`
}

type xmlObservations struct {
	Count int              `xml:"count,attr"`
	Items []xmlObservation `xml:"observation"`
}

type xmlSeries struct {
	Name         string           `xml:"name,attr"`
	Frequency    string           `xml:"frequency,attr"`
	Start        *xmlStart        `xml:"start,omitempty"`
	Observations *xmlObservations `xml:"observations,omitempty"`
	Flat         []xmlObservation `xml:"observation,omitempty"`
}

type xmlDocument struct {
	XMLName xml.Name
	Version string      `xml:"version,attr,omitempty"`
	Created string      `xml:"metadata>created,omitempty"`
	Count   int         `xml:"metadata>series_count,omitempty"`
	Series  []xmlSeries `xml:"series_collection>series,omitempty"`
	Generic []xmlSeries `xml:"timeseries,omitempty"`
}

func formatXML(series []ParsedSeries, opts Options) ([]byte, error) {
	if len(series) == 0 {
		return nil, ErrNoSeries
	}
	jdemetra := opts.String("format_type", "jdemetra") == "jdemetra"
	layout := opts.String("date_format", "")
	doc := xmlDocument{XMLName: xml.Name{Local: opts.String("root_tag", "data")}}
	if jdemetra {
		doc.XMLName.Local = "jdemetra"
		doc.Version = "2.0"
		doc.Created = time.Now().UTC().Format(time.RFC3339)
		doc.Count = len(series)
	}
	for i, ps := range series {
		xs := xmlSeries{Name: seriesName(ps, i), Frequency: string(ps.Series.Frequency)}
		obs := make([]xmlObservation, ps.Series.Len())
		for k, v := range ps.Series.Values {
			obs[k] = xmlObservation{Index: k, Date: dateLabel(ps.Series.TimeAt(k), ps.Series.Frequency, layout), Value: formatValue(v)}
		}
		if jdemetra {
			xs.Start = &xmlStart{Year: ps.Series.Start.Year, Period: ps.Series.Start.Period}
			xs.Observations = &xmlObservations{Count: len(obs), Items: obs}
			doc.Series = append(doc.Series, xs)
		} else {
			xs.Flat = obs
			doc.Generic = append(doc.Generic, xs)
		}
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
