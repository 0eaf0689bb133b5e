// Package palette maps arbitrary hex colors onto the fixed set of event
// colors a Google calendar accepts.
package palette

import (
	"math"
	"strconv"
	"strings"
)

// DefaultColorID is returned for input that is not a valid #RRGGBB color.
const DefaultColorID = "1"

// Color is one entry of the event color palette.
type Color struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Hex  string `json:"hex"`
}

// colors is kept in ID order; the first entry with the minimal distance wins.
var colors = []Color{
	{ID: "1", Name: "Lavender", Hex: "#7986CB"},
	{ID: "2", Name: "Sage", Hex: "#33B679"},
	{ID: "3", Name: "Grape", Hex: "#8E24AA"},
	{ID: "4", Name: "Flamingo", Hex: "#E67C73"},
	{ID: "5", Name: "Banana", Hex: "#F6BF26"},
	{ID: "6", Name: "Tangerine", Hex: "#F4511E"},
	{ID: "7", Name: "Peacock", Hex: "#039BE5"},
	{ID: "8", Name: "Graphite", Hex: "#616161"},
	{ID: "9", Name: "Blueberry", Hex: "#3F51B5"},
	{ID: "10", Name: "Basil", Hex: "#0B8043"},
	{ID: "11", Name: "Tomato", Hex: "#D50000"},
}

type rgb struct {
	r, g, b float64
}

// NearestColorID returns the ID of the palette color closest to hex in RGB
// space. The leading '#' is optional and hex digits are case-insensitive.
func NearestColorID(hex string) string {
	target, ok := parseHex(hex)
	if !ok {
		return DefaultColorID
	}

	best := DefaultColorID
	minDistance := math.Inf(1)
	for _, c := range colors {
		candidate, ok := parseHex(c.Hex)
		if !ok {
			continue
		}
		if d := distance(target, candidate); d < minDistance {
			minDistance = d
			best = c.ID
		}
	}
	return best
}

// Colors returns a copy of the palette in canonical order.
func Colors() []Color {
	out := make([]Color, len(colors))
	copy(out, colors)
	return out
}

// ColorByID looks up a palette entry.
func ColorByID(id string) (Color, bool) {
	for _, c := range colors {
		if c.ID == id {
			return c, true
		}
	}
	return Color{}, false
}

// IsHexColor reports whether s is a #RRGGBB color (the '#' is required).
func IsHexColor(s string) bool {
	if !strings.HasPrefix(s, "#") {
		return false
	}
	_, ok := parseHex(s)
	return ok
}

func parseHex(s string) (rgb, bool) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return rgb{}, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return rgb{}, false
	}
	return rgb{
		r: float64((v >> 16) & 0xFF),
		g: float64((v >> 8) & 0xFF),
		b: float64(v & 0xFF),
	}, true
}

func distance(a, b rgb) float64 {
	dr := a.r - b.r
	dg := a.g - b.g
	db := a.b - b.b
	return math.Sqrt(dr*dr + dg*dg + db*db)
}
