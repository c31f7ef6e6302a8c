// Package codec converts between encoded image files and pixel grids.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"paintbynum/quantize"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	ErrDecode   = errors.New("could not decode image")
	ErrTooLarge = errors.New("image too large")
)

// DefaultBackground is composited under translucent pixels.
var DefaultBackground color.Color = color.White

type Decoded struct {
	Grid   *quantize.PixelGrid
	Format string
}

// Decode reads an encoded image, applies its EXIF orientation and flattens
// it onto bg (DefaultBackground when nil). Images with more than maxPixels
// pixels fail with ErrTooLarge; 0 means no limit.
func Decode(data []byte, bg color.Color, maxPixels int64) (*Decoded, error) {
	img, format, err := DecodeImage(data, maxPixels)
	if err != nil {
		return nil, err
	}

	return &Decoded{
		Grid:   quantize.FromImage(Flatten(img, bg)),
		Format: format,
	}, nil
}

// DecodeImage decodes data, honouring the EXIF orientation tag. The size
// declared in the header is checked against maxPixels before any pixel
// buffer is allocated.
func DecodeImage(data []byte, maxPixels int64) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty input", ErrDecode)
	}

	conf, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if conf.Width < 1 || conf.Height < 1 {
		return nil, format, fmt.Errorf("%w: empty %s image %dx%d", ErrDecode, format, conf.Width, conf.Height)
	}
	if n := int64(conf.Width) * int64(conf.Height); maxPixels > 0 && n > maxPixels {
		return nil, format, fmt.Errorf("%w: %dx%d is %d pixels, limit is %d", ErrTooLarge, conf.Width, conf.Height, n, maxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, format, fmt.Errorf("%w: %s: %w", ErrDecode, format, err)
	}
	return img, format, nil
}

// Flatten draws img over an opaque bg and returns the result anchored at
// the origin.
func Flatten(img image.Image, bg color.Color) *image.RGBA {
	if bg == nil {
		bg = DefaultBackground
	}
	r, g, b, _ := bg.RGBA()
	opaque := color.RGBA64{R: uint16(r), G: uint16(g), B: uint16(b), A: 0xFFFF}

	sr := img.Bounds()
	dr := image.Rect(0, 0, sr.Dx(), sr.Dy())
	dest := image.NewRGBA(dr)
	draw.Draw(dest, dr, image.NewUniform(opaque), image.Point{}, draw.Src)
	draw.Draw(dest, dr, img, sr.Min, draw.Over)
	return dest
}
