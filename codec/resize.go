package codec

import (
	"image"
	"log/slog"
	"math"

	"golang.org/x/image/draw"
)

// Fit scales img down so it fits in width×height while keeping its aspect
// ratio. A zero dimension is unconstrained. Images that already fit are
// returned as is; Fit never enlarges.
func Fit(logger *slog.Logger, img image.Image, width, height int) image.Image {
	sb := img.Bounds()
	srcW, srcH := float64(sb.Dx()), float64(sb.Dy())

	scale := 1.0
	if width > 0 {
		scale = min(scale, float64(width)/srcW)
	}
	if height > 0 {
		scale = min(scale, float64(height)/srcH)
	}
	if scale >= 1 {
		return img
	}

	dw := max(1, int(math.Round(srcW*scale)))
	dh := max(1, int(math.Round(srcH*scale)))
	logger.Info("resizing", "width", dw, "height", dh)

	dest := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dest, dest.Bounds(), img, sb, draw.Src, nil)
	return dest
}
