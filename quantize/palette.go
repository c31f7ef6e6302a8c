package quantize

import (
	"image/color"
	"math"
	"math/rand/v2"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Centroid is a point in RGB channel space.
type Centroid [3]float64

// RGB rounds the centroid to the nearest 8-bit colour.
func (c Centroid) RGB() [3]uint8 {
	var out [3]uint8
	for i, v := range c {
		out[i] = uint8(min(255, max(0, math.Round(v))))
	}
	return out
}

func (c Centroid) Color() color.RGBA {
	rgb := c.RGB()
	return color.RGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 0xFF}
}

type Palette []Centroid

// Colors returns the rounded palette as a color.Palette.
func (p Palette) Colors() color.Palette {
	pal := make(color.Palette, len(p))
	for i, c := range p {
		pal[i] = c.Color()
	}
	return pal
}

// Histogram holds the distinct colours of a grid, ordered by their packed
// 0xRRGGBB value, and how many pixels carry each of them.
type Histogram struct {
	Colors [][3]uint8
	Counts []uint32
	keys   []uint32
}

func pack(r, g, b uint8) uint32 {
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

func NewHistogram(g *PixelGrid) *Histogram {
	keys := make([]uint32, g.Len())
	for i := range keys {
		keys[i] = pack(g.Pix[i*3], g.Pix[i*3+1], g.Pix[i*3+2])
	}
	slices.Sort(keys)

	h := &Histogram{}
	distinct := keys[:0]
	for i, key := range keys {
		if i > 0 && key == distinct[len(distinct)-1] {
			h.Counts[len(h.Counts)-1]++
			continue
		}
		distinct = append(distinct, key)
		h.Counts = append(h.Counts, 1)
	}
	h.keys = slices.Clip(distinct)

	h.Colors = make([][3]uint8, len(h.keys))
	for i, key := range h.keys {
		h.Colors[i] = [3]uint8{uint8(key >> 16), uint8(key >> 8), uint8(key)}
	}
	return h
}

// Len is the number of distinct colours.
func (h *Histogram) Len() int {
	return len(h.Colors)
}

func (h *Histogram) index(r, g, b uint8) int {
	i, _ := slices.BinarySearch(h.keys, pack(r, g, b))
	return i
}

// seedStream selects the PCG stream used for initialisation.
const seedStream = 0x9e3779b97f4a7c15

// Seed picks k initial centroids with k-means++ over the histogram. The
// first centroid is drawn with probability proportional to pixel count, each
// following one proportional to pixel count times the squared distance to
// the closest centroid picked so far. Random numbers come from a PCG
// generator seeded with (seed, seedStream) and are turned into uniform
// variates in [0, 1) from the top 53 bits of each output, so the result
// depends only on the histogram, k and seed.
//
// Once every distinct colour has been picked, the remaining centroids are
// copies of the first one.
func Seed(h *Histogram, k int, seed uint64) Palette {
	src := rand.NewPCG(seed, seedStream)
	n := h.Len()

	weights := make([]float64, n)
	cum := make([]float64, n)
	for i, c := range h.Counts {
		weights[i] = float64(c)
	}

	pal := make(Palette, 0, k)
	pal = append(pal, centroidOf(h.Colors[draw(weights, cum, src)]))

	dist := make([]float64, n)
	for i, c := range h.Colors {
		dist[i] = sqDist(c, pal[0])
	}

	for len(pal) < k {
		for i, c := range h.Counts {
			weights[i] = float64(c) * dist[i]
		}
		i := draw(weights, cum, src)
		if i < 0 {
			pal = append(pal, pal[0])
			continue
		}

		next := centroidOf(h.Colors[i])
		pal = append(pal, next)
		for i, c := range h.Colors {
			if d := sqDist(c, next); d < dist[i] {
				dist[i] = d
			}
		}
	}
	return pal
}

// draw returns an index with probability proportional to its weight, or -1
// if all weights are zero.
func draw(weights, cum []float64, src rand.Source) int {
	floats.CumSum(cum, weights)
	total := cum[len(cum)-1]
	if total <= 0 {
		return -1
	}

	target := float64(src.Uint64()>>11) * 0x1p-53 * total
	return sort.Search(len(cum), func(i int) bool { return cum[i] > target })
}

func centroidOf(c [3]uint8) Centroid {
	return Centroid{float64(c[0]), float64(c[1]), float64(c[2])}
}

// sqDist is the squared Euclidean distance between c and p. The explicit
// conversions keep the compiler from fusing the multiply-adds, which would
// make results differ between architectures.
func sqDist(c [3]uint8, p Centroid) float64 {
	dr := float64(c[0]) - p[0]
	dg := float64(c[1]) - p[1]
	db := float64(c[2]) - p[2]
	return float64(dr*dr) + float64(dg*dg) + float64(db*db)
}

// nearest returns the index of the closest centroid, the lowest on ties.
func nearest(c [3]uint8, pal Palette) int {
	best, bestDist := 0, math.Inf(1)
	for j, p := range pal {
		if d := sqDist(c, p); d < bestDist {
			best, bestDist = j, d
		}
	}
	return best
}
