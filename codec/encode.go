package codec

import (
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"slices"
	"sync"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
)

// Formats lists the formats Encode can write.
var Formats = []string{"png", "gif", "jpeg", "bmp", "tiff"}

var mimeTypes = map[string]string{
	"png":  "image/png",
	"gif":  "image/gif",
	"jpeg": "image/jpeg",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
}

// OutputFormat resolves the requested output format. "same" keeps the input
// format when it can be encoded and falls back to png otherwise.
func OutputFormat(requested, input string) string {
	if requested != "same" {
		return requested
	}
	if slices.Contains(Formats, input) {
		return input
	}
	return "png"
}

func MIMEType(format string) string {
	if t, ok := mimeTypes[format]; ok {
		return t
	}
	return "application/octet-stream"
}

func Encode(w io.Writer, img image.Image, format string) error {
	switch format {
	case "gif":
		opts := &gif.Options{NumColors: 256, Quantizer: exactQuantizer{}, Drawer: draw.Src}
		if err := gif.Encode(w, img, opts); err != nil {
			return fmt.Errorf("could not encode GIF: %w", err)
		}
	case "jpeg":
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: 100}); err != nil {
			return fmt.Errorf("could not encode JPEG: %w", err)
		}
	case "png":
		enc := png.Encoder{
			CompressionLevel: png.BestCompression,
			BufferPool:       pngPool,
		}
		if err := enc.Encode(w, img); err != nil {
			return fmt.Errorf("could not encode PNG: %w", err)
		}
	case "bmp":
		if err := bmp.Encode(w, img); err != nil {
			return fmt.Errorf("could not encode BMP: %w", err)
		}
	case "tiff":
		if err := tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
			return fmt.Errorf("could not encode TIFF: %w", err)
		}
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}

	return nil
}

// exactQuantizer implements draw.Quantizer for GIF output. Images that
// already use no more colours than the palette can hold keep their exact
// colours; anything richer falls back to the Plan 9 palette.
type exactQuantizer struct{}

func (exactQuantizer) Quantize(p color.Palette, m image.Image) color.Palette {
	start := len(p)
	seen := make(map[color.RGBA]struct{})
	b := m.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(m.At(x, y)).(color.RGBA)
			if _, ok := seen[c]; ok {
				continue
			}
			if len(p) == cap(p) {
				return append(p[:start], palette.Plan9[:min(len(palette.Plan9), cap(p)-start)]...)
			}
			seen[c] = struct{}{}
			p = append(p, c)
		}
	}
	return p
}

type pngEncoderBufferPool struct {
	pool sync.Pool
}

func (p *pngEncoderBufferPool) Get() *png.EncoderBuffer {
	return p.pool.Get().(*png.EncoderBuffer)
}

func (p *pngEncoderBufferPool) Put(buf *png.EncoderBuffer) {
	p.pool.Put(buf)
}

var pngPool = &pngEncoderBufferPool{
	pool: sync.Pool{
		New: func() any {
			return &png.EncoderBuffer{}
		},
	},
}
