package quantize

import (
	"context"
	"image"
	"image/color"
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"paintbynum/parallel"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gridOf(w, h int, pixels ...[3]uint8) *PixelGrid {
	g := NewPixelGrid(w, h)
	for i, p := range pixels {
		g.Set(i%w, i/w, p)
	}
	return g
}

// noisyGrid returns a deterministic grid with colours scattered around a
// few base colours.
func noisyGrid(w, h int, seed uint64) *PixelGrid {
	rng := rand.New(rand.NewPCG(seed, 1))
	bases := [][3]uint8{{200, 30, 30}, {20, 180, 40}, {30, 40, 210}, {240, 240, 220}, {10, 10, 10}}
	g := NewPixelGrid(w, h)
	for y := range h {
		for x := range w {
			b := bases[rng.IntN(len(bases))]
			var c [3]uint8
			for i := range c {
				c[i] = uint8(min(255, max(0, int(b[i])+rng.IntN(41)-20)))
			}
			g.Set(x, y, c)
		}
	}
	return g
}

func distinctColors(g *PixelGrid) map[[3]uint8]int {
	seen := map[[3]uint8]int{}
	for y := range g.Height {
		for x := range g.Width {
			seen[g.At(x, y)]++
		}
	}
	return seen
}

func TestQuantizeRejectsInvalidInput(t *testing.T) {
	g := noisyGrid(4, 4, 1)

	for name, tc := range map[string]struct {
		grid *PixelGrid
		k    int
	}{
		"zero colors":      {g, 0},
		"negative colors":  {g, -3},
		"more than pixels": {g, 17},
		"nil grid":         {nil, 1},
		"zero width":       {&PixelGrid{Width: 0, Height: 3}, 1},
		"zero height":      {&PixelGrid{Width: 3, Height: 0}, 1},
		"short pixel data": {&PixelGrid{Width: 2, Height: 2, Pix: make([]uint8, 5)}, 1},
	} {
		t.Run(name, func(t *testing.T) {
			out, err := Quantize(tc.grid, tc.k, DefaultSeed)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Nil(t, out)
		})
	}
}

func TestQuantizePerfectSeparation(t *testing.T) {
	black, white := [3]uint8{0, 0, 0}, [3]uint8{255, 255, 255}
	in := gridOf(2, 2, black, black, white, white)

	out, err := Quantize(in, 2, DefaultSeed)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(in, out))
}

func TestQuantizeSolidColorIsUnchanged(t *testing.T) {
	gray := [3]uint8{128, 128, 128}
	in := NewPixelGrid(4, 4)
	for y := range 4 {
		for x := range 4 {
			in.Set(x, y, gray)
		}
	}

	for k := 1; k <= in.Len(); k++ {
		out, err := Quantize(in, k, DefaultSeed)
		require.NoError(t, err, "k=%d", k)
		assert.Empty(t, cmp.Diff(in, out), "k=%d", k)
	}
}

func TestQuantizeSingleColorIsMean(t *testing.T) {
	in := noisyGrid(13, 7, 3)

	var sum [3]float64
	for i := range in.Len() {
		for c := range 3 {
			sum[c] += float64(in.Pix[i*3+c])
		}
	}
	var mean [3]uint8
	for c := range 3 {
		mean[c] = uint8(math.Round(sum[c] / float64(in.Len())))
	}

	out, err := Quantize(in, 1, DefaultSeed)
	require.NoError(t, err)
	assert.Equal(t, map[[3]uint8]int{mean: in.Len()}, distinctColors(out))
}

func TestQuantizeKeepsDimensionsAndBoundsColors(t *testing.T) {
	in := noisyGrid(31, 17, 5)

	for _, k := range []int{1, 2, 5, 10, 40} {
		out, err := Quantize(in, k, DefaultSeed)
		require.NoError(t, err)
		assert.Equal(t, in.Width, out.Width)
		assert.Equal(t, in.Height, out.Height)
		assert.Len(t, out.Pix, len(in.Pix))
		assert.LessOrEqual(t, len(distinctColors(out)), k, "k=%d", k)
	}
}

func TestQuantizeIsDeterministic(t *testing.T) {
	in := noisyGrid(64, 48, 7)

	want, err := New(nil, Options{}).Quantize(context.Background(), in, 8, 99)
	require.NoError(t, err)

	for _, workers := range []int{1, 2, 3, 8} {
		pool := parallel.Start(workers)
		for range 3 {
			got, err := New(pool, Options{}).Quantize(context.Background(), in, 8, 99)
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(want.Grid, got.Grid), "workers=%d", workers)
			assert.Equal(t, want.Palette, got.Palette, "workers=%d", workers)
			assert.Equal(t, want.Counts, got.Counts, "workers=%d", workers)
		}
		pool.Wait(true)
	}
}

func TestQuantizeDoesNotModifyInput(t *testing.T) {
	in := noisyGrid(20, 20, 11)
	orig := &PixelGrid{Width: in.Width, Height: in.Height, Pix: slices.Clone(in.Pix)}

	_, err := Quantize(in, 4, DefaultSeed)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(orig, in))
}

func TestQuantizeAllDistinctColorsIsLossless(t *testing.T) {
	in := gridOf(3, 2,
		[3]uint8{255, 0, 0}, [3]uint8{0, 255, 0}, [3]uint8{0, 0, 255},
		[3]uint8{0, 255, 0}, [3]uint8{255, 0, 0}, [3]uint8{9, 9, 9},
	)
	require.Len(t, distinctColors(in), 4)

	out, err := Quantize(in, 4, DefaultSeed)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(in, out))
}

func TestQuantizeTwiceIsStable(t *testing.T) {
	in := noisyGrid(40, 30, 13)

	once, err := Quantize(in, 6, DefaultSeed)
	require.NoError(t, err)
	twice, err := Quantize(once, 6, DefaultSeed)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(once, twice))
}

func TestQuantizeResult(t *testing.T) {
	in := noisyGrid(30, 30, 17)

	res, err := New(nil, Options{}).Quantize(context.Background(), in, 5, DefaultSeed)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Positive(t, res.Iterations)
	assert.Len(t, res.Palette, 5)

	total := 0
	for _, n := range res.Counts {
		total += n
	}
	assert.Equal(t, in.Len(), total)

	img, ok := res.Image().(*image.Paletted)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 30, 30), img.Bounds())
	for y := range in.Height {
		for x := range in.Width {
			c := img.At(x, y).(color.RGBA)
			require.Equal(t, res.Grid.At(x, y), [3]uint8{c.R, c.G, c.B})
		}
	}
}

func TestQuantizeIterationCap(t *testing.T) {
	in := noisyGrid(50, 50, 19)

	res, err := New(nil, Options{MaxIterations: 1}).Quantize(context.Background(), in, 10, DefaultSeed)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Iterations)
	assert.False(t, res.Converged)
	assert.LessOrEqual(t, len(distinctColors(res.Grid)), 10)
}

func TestQuantizeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(nil, Options{}).Quantize(ctx, noisyGrid(8, 8, 23), 3, DefaultSeed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestSeedIsReproducible(t *testing.T) {
	h := NewHistogram(noisyGrid(32, 32, 29))

	a := Seed(h, 7, 1234)
	b := Seed(h, 7, 1234)
	assert.Equal(t, a, b)
	assert.Len(t, a, 7)

	for _, c := range a {
		assert.Contains(t, h.Colors, [3]uint8{uint8(c[0]), uint8(c[1]), uint8(c[2])})
	}
}

func TestSeedPicksDistinctColorsFirst(t *testing.T) {
	h := NewHistogram(gridOf(2, 2, [3]uint8{1, 1, 1}, [3]uint8{1, 1, 1}, [3]uint8{2, 2, 2}, [3]uint8{3, 3, 3}))
	require.Equal(t, 3, h.Len())

	pal := Seed(h, 4, 0)
	seen := map[Centroid]bool{}
	for _, c := range pal[:3] {
		seen[c] = true
	}
	assert.Len(t, seen, 3)
	assert.Equal(t, pal[0], pal[3])
}

func TestHistogram(t *testing.T) {
	h := NewHistogram(gridOf(3, 1, [3]uint8{9, 0, 0}, [3]uint8{0, 0, 9}, [3]uint8{9, 0, 0}))
	assert.Equal(t, [][3]uint8{{0, 0, 9}, {9, 0, 0}}, h.Colors)
	assert.Equal(t, []uint32{1, 2}, h.Counts)
	assert.Equal(t, 1, h.index(9, 0, 0))
}

func TestCentroidRGBRoundsAndClamps(t *testing.T) {
	assert.Equal(t, [3]uint8{0, 128, 255}, Centroid{-3, 127.5, 300}.RGB())
	assert.Equal(t, [3]uint8{1, 2, 3}, Centroid{1.49, 2.2, 2.5}.RGB())
}

func TestFromImageRoundTrip(t *testing.T) {
	in := noisyGrid(9, 5, 31)
	assert.Empty(t, cmp.Diff(in, FromImage(in.Image())))

	sub := in.Image().SubImage(image.Rect(2, 1, 6, 4))
	got := FromImage(sub)
	assert.Equal(t, 4, got.Width)
	assert.Equal(t, 3, got.Height)
	assert.Equal(t, in.At(2, 1), got.At(0, 0))
	assert.Equal(t, in.At(5, 3), got.At(3, 2))
}
