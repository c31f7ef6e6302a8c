// Package palette turns a quantized palette into a numbered colour legend
// and reads and writes RIFF PAL files.
package palette

import (
	"cmp"
	"image/color"
	"slices"

	"paintbynum/quantize"

	"github.com/lucasb-eyer/go-colorful"
)

// Namer gives a human readable name for a colour, or "" if it has none.
type Namer interface {
	Name(c color.Color) string
}

type Entry struct {
	Number int      `json:"number"`
	Hex    string   `json:"hex"`
	RGB    [3]uint8 `json:"rgb"`
	Pixels int      `json:"pixels"`
	Share  float64  `json:"share"`
	Name   string   `json:"name,omitempty"`

	lightness float64
}

func (e Entry) Color() color.RGBA {
	return color.RGBA{R: e.RGB[0], G: e.RGB[1], B: e.RGB[2], A: 0xFF}
}

// Legend lists the colours of a quantized image numbered from 1, lightest
// first.
type Legend []Entry

// NewLegend builds the legend of res. Palette entries that ended up with no
// pixels are left out and entries that round to the same 8-bit colour are
// merged. namer may be nil.
func NewLegend(res *quantize.Result, namer Namer) Legend {
	total := res.Grid.Len()
	byRGB := make(map[[3]uint8]int)

	var legend Legend
	for i, c := range res.Palette {
		if res.Counts[i] == 0 {
			continue
		}

		rgb := c.RGB()
		if j, ok := byRGB[rgb]; ok {
			legend[j].Pixels += res.Counts[i]
			continue
		}
		byRGB[rgb] = len(legend)

		cf, _ := colorful.MakeColor(c.Color())
		l, _, _ := cf.OkLab()
		legend = append(legend, Entry{
			RGB:       rgb,
			Hex:       cf.Hex(),
			Pixels:    res.Counts[i],
			lightness: l,
		})
	}

	slices.SortStableFunc(legend, func(a, b Entry) int {
		return cmp.Compare(b.lightness, a.lightness)
	})

	for i := range legend {
		e := &legend[i]
		e.Number = i + 1
		e.Share = float64(e.Pixels) / float64(total)
		if namer != nil {
			e.Name = namer.Name(e.Color())
		}
	}
	return legend
}

// Palette returns the legend colours in legend order.
func (l Legend) Palette() color.Palette {
	pal := make(color.Palette, len(l))
	for i, e := range l {
		pal[i] = e.Color()
	}
	return pal
}

// Hex returns the hex codes in legend order.
func (l Legend) Hex() []string {
	out := make([]string, len(l))
	for i, e := range l {
		out[i] = e.Hex
	}
	return out
}
