package viz

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Theme is a named colour scheme shared by the static and html renderers.
type Theme struct {
	Name        string
	Description string
	Background  color.Color
	Foreground  color.Color
	GridColor   color.Color
	Palette     []color.Color
	// ECharts is the go-echarts theme the html renderer starts from.
	ECharts string
}

// DefaultTheme is used when a request names no theme.
const DefaultTheme = "seaborn"

var themes = []Theme{
	{
		Name:        "default",
		Description: "White background with the classic ten-colour palette",
		Background:  color.White,
		Foreground:  color.Black,
		GridColor:   mustHex("#b0b0b0"),
		Palette:     hexes("#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd", "#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf"),
		ECharts:     "white",
	},
	{
		Name:        "seaborn",
		Description: "Muted palette on a light grey grid",
		Background:  mustHex("#eaeaf2"),
		Foreground:  mustHex("#262626"),
		GridColor:   color.White,
		Palette:     hexes("#4c72b0", "#dd8452", "#55a868", "#c44e52", "#8172b3", "#937860", "#da8bc3", "#8c8c8c", "#ccb974", "#64b5cd"),
		ECharts:     "white",
	},
	{
		Name:        "ggplot",
		Description: "ggplot2 look with a grey panel and white grid",
		Background:  mustHex("#e5e5e5"),
		Foreground:  mustHex("#555555"),
		GridColor:   color.White,
		Palette:     hexes("#e24a33", "#348abd", "#988ed5", "#777777", "#fbc15e", "#8eba42", "#ffb5b8"),
		ECharts:     "white",
	},
	{
		Name:        "bmh",
		Description: "Bayesian Methods for Hackers style",
		Background:  mustHex("#eeeeee"),
		Foreground:  mustHex("#262626"),
		GridColor:   mustHex("#b2b2b2"),
		Palette:     hexes("#348abd", "#a60628", "#7a68a6", "#467821", "#d55e00", "#cc79a7", "#56b4e9", "#009e73", "#f0e442", "#0072b2"),
		ECharts:     "white",
	},
	{
		Name:        "dark_background",
		Description: "Light lines on black",
		Background:  color.Black,
		Foreground:  color.White,
		GridColor:   mustHex("#404040"),
		Palette:     hexes("#8dd3c7", "#feffb3", "#bfbbd9", "#fa8174", "#81b1d2", "#fdb462", "#b3de69", "#bc82bd", "#ccebc4", "#ffed6f"),
		ECharts:     "dark",
	},
	{
		Name:        "grayscale",
		Description: "Shades of grey for print",
		Background:  color.White,
		Foreground:  color.Black,
		GridColor:   mustHex("#d0d0d0"),
		Palette:     hexes("#000000", "#404040", "#737373", "#a6a6a6", "#cccccc"),
		ECharts:     "white",
	},
}

// Themes lists the available themes in display order.
func Themes() []Theme {
	out := make([]Theme, len(themes))
	copy(out, themes)
	return out
}

// LookupTheme returns the named theme. An empty name selects DefaultTheme.
func LookupTheme(name string) (Theme, error) {
	if name == "" {
		name = DefaultTheme
	}
	for _, t := range themes {
		if t.Name == name {
			return t, nil
		}
	}
	return Theme{}, fmt.Errorf("%w: unknown theme %q", ErrInvalidRequest, name)
}

// ThemeInfo is the JSON description of a theme.
type ThemeInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsDefault   bool   `json:"is_default"`
}

// ThemesResponse is returned by the themes endpoint.
type ThemesResponse struct {
	Themes         []ThemeInfo `json:"themes"`
	CurrentDefault string      `json:"current_default"`
}

// ListThemes describes the themes, marking def (or DefaultTheme) as default.
func ListThemes(def string) ThemesResponse {
	if def == "" {
		def = DefaultTheme
	}
	resp := ThemesResponse{CurrentDefault: def}
	for _, t := range themes {
		resp.Themes = append(resp.Themes, ThemeInfo{Name: t.Name, Description: t.Description, IsDefault: t.Name == def})
	}
	return resp
}

// palette resolves the colours for a plot: explicit style colours win over
// the theme's palette.
func (t Theme) palette(style Style) ([]color.Color, error) {
	if len(style.Colors) == 0 {
		return t.Palette, nil
	}
	out := make([]color.Color, 0, len(style.Colors))
	for _, s := range style.Colors {
		c, err := parseHex(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// parseHex reads "#rgb", "#rrggbb" or "#rrggbbaa".
func parseHex(s string) (color.NRGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) == 6 {
		h += "ff"
	}
	if len(h) != 8 {
		return color.NRGBA{}, fmt.Errorf("%w: bad colour %q", ErrInvalidRequest, s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: bad colour %q", ErrInvalidRequest, s)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

func mustHex(s string) color.Color {
	c, err := parseHex(s)
	if err != nil {
		panic(err)
	}
	return c
}

func hexes(ss ...string) []color.Color {
	out := make([]color.Color, len(ss))
	for i, s := range ss {
		out[i] = mustHex(s)
	}
	return out
}

// hexOf formats c as "#rrggbb" for the html renderer.
func hexOf(c color.Color) string {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return fmt.Sprintf("#%02x%02x%02x", n.R, n.G, n.B)
}
