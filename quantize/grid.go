package quantize

import (
	"fmt"
	"image"
	"image/color"
)

// PixelGrid is an H×W grid of 8-bit RGB pixels. The pixel at (x, y) starts
// at Pix[(y*Width+x)*3].
type PixelGrid struct {
	Width  int
	Height int
	Pix    []uint8
}

func NewPixelGrid(width, height int) *PixelGrid {
	return &PixelGrid{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*3),
	}
}

// Len is the number of pixels.
func (g *PixelGrid) Len() int {
	return g.Width * g.Height
}

func (g *PixelGrid) At(x, y int) [3]uint8 {
	i := (y*g.Width + x) * 3
	return [3]uint8{g.Pix[i], g.Pix[i+1], g.Pix[i+2]}
}

func (g *PixelGrid) Set(x, y int, c [3]uint8) {
	i := (y*g.Width + x) * 3
	g.Pix[i], g.Pix[i+1], g.Pix[i+2] = c[0], c[1], c[2]
}

func (g *PixelGrid) validate() error {
	switch {
	case g == nil:
		return fmt.Errorf("%w: nil pixel grid", ErrInvalidInput)
	case g.Width < 1 || g.Height < 1:
		return fmt.Errorf("%w: empty pixel grid %dx%d", ErrInvalidInput, g.Width, g.Height)
	case len(g.Pix) != g.Width*g.Height*3:
		return fmt.Errorf("%w: %d bytes of pixel data for a %dx%d grid", ErrInvalidInput, len(g.Pix), g.Width, g.Height)
	}
	return nil
}

// FromImage copies img into a new grid, dropping alpha. Callers that care
// about translucency composite onto a background first.
func FromImage(img image.Image) *PixelGrid {
	b := img.Bounds()
	g := NewPixelGrid(b.Dx(), b.Dy())

	if rgba, ok := img.(*image.RGBA); ok {
		for y := range g.Height {
			off := rgba.PixOffset(b.Min.X, b.Min.Y+y)
			src := rgba.Pix[off : off+g.Width*4]
			dst := g.Pix[y*g.Width*3 : (y+1)*g.Width*3]
			for x := range g.Width {
				dst[x*3], dst[x*3+1], dst[x*3+2] = src[x*4], src[x*4+1], src[x*4+2]
			}
		}
		return g
	}

	for y := range g.Height {
		for x := range g.Width {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			g.Set(x, y, [3]uint8{c.R, c.G, c.B})
		}
	}
	return g
}

// Image returns an opaque RGBA copy of the grid.
func (g *PixelGrid) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, g.Width, g.Height))
	for i := range g.Len() {
		img.Pix[i*4] = g.Pix[i*3]
		img.Pix[i*4+1] = g.Pix[i*3+1]
		img.Pix[i*4+2] = g.Pix[i*3+2]
		img.Pix[i*4+3] = 0xFF
	}
	return img
}
