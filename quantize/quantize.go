// Package quantize reduces an image to a fixed number of colours with
// k-means clustering in RGB channel space.
//
// Runs are deterministic: the same grid, colour count and seed always give
// a bit-identical result, whatever the number of workers.
package quantize

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"paintbynum/parallel"

	"gonum.org/v1/gonum/floats"
)

var ErrInvalidInput = errors.New("invalid input")

const (
	DefaultColors        = 10
	DefaultSeed          = 42
	DefaultMaxIterations = 300
	DefaultEpsilon       = 1e-4
)

type Options struct {
	// MaxIterations bounds the number of assign/update rounds.
	MaxIterations int
	// Epsilon stops the run once the summed centroid movement of a round
	// falls below it.
	Epsilon float64
	Logger  *slog.Logger
}

type Quantizer struct {
	pool          *parallel.Pool
	maxIterations int
	epsilon       float64
	logger        *slog.Logger
}

// New returns a Quantizer running on pool. A nil pool runs everything on
// the calling goroutine.
func New(pool *parallel.Pool, opts Options) *Quantizer {
	if pool == nil {
		pool = parallel.Start(1)
	}
	if opts.MaxIterations < 1 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = DefaultEpsilon
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Quantizer{
		pool:          pool,
		maxIterations: opts.MaxIterations,
		epsilon:       opts.Epsilon,
		logger:        opts.Logger,
	}
}

type Result struct {
	Grid    *PixelGrid
	Palette Palette
	// Counts holds the number of pixels mapped to each palette entry.
	Counts     []int
	Iterations int
	// Converged is false when the iteration cap ended the run.
	Converged bool

	indices []uint8
}

// Image returns the output as an *image.Paletted when the palette fits in
// 256 entries and as an *image.RGBA otherwise. The paletted image shares
// its pixel indices with the result.
func (r *Result) Image() image.Image {
	if r.indices == nil {
		return r.Grid.Image()
	}
	return &image.Paletted{
		Pix:     r.indices,
		Stride:  r.Grid.Width,
		Rect:    image.Rect(0, 0, r.Grid.Width, r.Grid.Height),
		Palette: r.Palette.Colors(),
	}
}

// Quantize maps every pixel of pixels to one of k colours using the default
// options on the calling goroutine.
func Quantize(pixels *PixelGrid, k int, seed uint64) (*PixelGrid, error) {
	res, err := New(nil, Options{}).Quantize(context.Background(), pixels, k, seed)
	if err != nil {
		return nil, err
	}
	return res.Grid, nil
}

// Quantize clusters the pixels into k colours. It fails with ErrInvalidInput
// when the grid is empty or malformed, or when k is below 1 or above the
// number of pixels. ctx is checked between iterations; a cancelled run
// returns ctx.Err() and no result. pixels is never modified.
func (q *Quantizer) Quantize(ctx context.Context, pixels *PixelGrid, k int, seed uint64) (*Result, error) {
	if err := pixels.validate(); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, fmt.Errorf("%w: color count %d is below 1", ErrInvalidInput, k)
	}
	if k > pixels.Len() {
		return nil, fmt.Errorf("%w: color count %d exceeds pixel count %d", ErrInvalidInput, k, pixels.Len())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hist := NewHistogram(pixels)
	r := newRun(q.pool, hist, Seed(hist, k, seed))
	logger := q.logger.With("pixels", pixels.Len(), "distinct", hist.Len(), "colors", k)
	logger.Debug("clustering")

	res := &Result{}
	stale := true
	for res.Iterations < q.maxIterations {
		if err := ctx.Err(); err != nil {
			logger.Debug("clustering cancelled", "iterations", res.Iterations, "error", err)
			return nil, err
		}

		changed := r.assign()
		res.Iterations++
		if changed == 0 {
			stale = false
			res.Converged = true
			break
		}

		if moved := r.update(); moved < q.epsilon {
			res.Converged = true
			break
		}
	}
	if stale {
		r.assign()
	}

	res.Palette = r.palette
	res.Counts = r.counts()
	res.Grid, res.indices = r.reconstruct(pixels)

	logger.Debug("clustered", "iterations", res.Iterations, "converged", res.Converged)
	return res, nil
}

// run is the state of one clustering. Partial sums are kept per pool part
// as integers, so merging them gives the same totals in any order.
type run struct {
	pool    *parallel.Pool
	hist    *Histogram
	palette Palette
	labels  []int32
	sums    [][]uint64 // per part: r, g, b, count for every centroid
	changed []int
}

func newRun(pool *parallel.Pool, hist *Histogram, palette Palette) *run {
	parts := pool.Parts(hist.Len())
	r := &run{
		pool:    pool,
		hist:    hist,
		palette: palette,
		labels:  make([]int32, hist.Len()),
		sums:    make([][]uint64, parts),
		changed: make([]int, parts),
	}
	for i := range r.labels {
		r.labels[i] = -1
	}
	for i := range r.sums {
		r.sums[i] = make([]uint64, len(palette)*4)
	}
	return r
}

// assign moves every colour to its nearest centroid, accumulates the
// per-centroid sums and returns how many colours changed cluster.
func (r *run) assign() int {
	r.pool.Range(r.hist.Len(), func(part, lo, hi int) {
		acc := r.sums[part]
		clear(acc)

		changed := 0
		for i := lo; i < hi; i++ {
			c := r.hist.Colors[i]
			best := nearest(c, r.palette)
			if int32(best) != r.labels[i] {
				r.labels[i] = int32(best)
				changed++
			}

			w := uint64(r.hist.Counts[i])
			a := acc[best*4 : best*4+4]
			a[0] += w * uint64(c[0])
			a[1] += w * uint64(c[1])
			a[2] += w * uint64(c[2])
			a[3] += w
		}
		r.changed[part] = changed
	})

	total := 0
	for _, n := range r.changed {
		total += n
	}
	return total
}

func (r *run) total(j int) [4]uint64 {
	var s [4]uint64
	for _, acc := range r.sums {
		for c := range s {
			s[c] += acc[j*4+c]
		}
	}
	return s
}

// update moves every centroid to the mean of its colours and returns the
// summed movement. Empty clusters keep their centroid.
func (r *run) update() float64 {
	var moved float64
	for j := range r.palette {
		s := r.total(j)
		if s[3] == 0 {
			continue
		}

		n := float64(s[3])
		next := Centroid{float64(s[0]) / n, float64(s[1]) / n, float64(s[2]) / n}
		moved += floats.Distance(r.palette[j][:], next[:], 2)
		r.palette[j] = next
	}
	return moved
}

func (r *run) counts() []int {
	counts := make([]int, len(r.palette))
	for j := range counts {
		counts[j] = int(r.total(j)[3])
	}
	return counts
}

func (r *run) reconstruct(src *PixelGrid) (*PixelGrid, []uint8) {
	colors := make([][3]uint8, len(r.palette))
	for j, c := range r.palette {
		colors[j] = c.RGB()
	}

	out := NewPixelGrid(src.Width, src.Height)
	var indices []uint8
	if len(r.palette) <= 256 {
		indices = make([]uint8, src.Len())
	}

	r.pool.Range(src.Len(), func(_, lo, hi int) {
		for i := lo; i < hi; i++ {
			p := src.Pix[i*3 : i*3+3]
			label := r.labels[r.hist.index(p[0], p[1], p[2])]
			c := colors[label]
			out.Pix[i*3], out.Pix[i*3+1], out.Pix[i*3+2] = c[0], c[1], c[2]
			if indices != nil {
				indices[i] = uint8(label)
			}
		}
	})
	return out, indices
}
