package codec

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"testing"

	"paintbynum/quantize"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkerboard(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			if (x+y)%2 == 0 {
				img.SetNRGBA(x, y, color.NRGBA{R: 250, G: 10, B: 10, A: 0xFF})
			} else {
				img.SetNRGBA(x, y, color.NRGBA{R: 10, G: 10, B: 250, A: 0xFF})
			}
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodePNG(t *testing.T) {
	dec, err := Decode(encodePNG(t, checkerboard(5, 3)), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "png", dec.Format)
	assert.Equal(t, 5, dec.Grid.Width)
	assert.Equal(t, 3, dec.Grid.Height)
	assert.Equal(t, [3]uint8{250, 10, 10}, dec.Grid.At(0, 0))
	assert.Equal(t, [3]uint8{10, 10, 250}, dec.Grid.At(1, 0))
}

func TestDecodeFlattensTransparency(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 0xFF})
	img.SetNRGBA(1, 0, color.NRGBA{R: 255, A: 0})

	dec, err := Decode(encodePNG(t, img), color.Black, 0)
	require.NoError(t, err)
	assert.Equal(t, [3]uint8{255, 0, 0}, dec.Grid.At(0, 0))
	assert.Equal(t, [3]uint8{0, 0, 0}, dec.Grid.At(1, 0))

	dec, err = Decode(encodePNG(t, img), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, [3]uint8{255, 255, 255}, dec.Grid.At(1, 0))
}

func TestDecodeErrors(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":     nil,
		"garbage":   []byte("definitely not an image"),
		"truncated": encodePNG(t, checkerboard(8, 8))[:40],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data, nil, 0)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

// pngHeader returns the signature and IHDR chunk of a w×h RGBA PNG with no
// pixel data.
func pngHeader(w, h uint32) []byte {
	ihdr := binary.BigEndian.AppendUint32([]byte("IHDR"), w)
	ihdr = binary.BigEndian.AppendUint32(ihdr, h)
	ihdr = append(ihdr, 8, 6, 0, 0, 0)

	out := []byte("\x89PNG\r\n\x1a\n")
	out = binary.BigEndian.AppendUint32(out, uint32(len(ihdr)-4))
	out = append(out, ihdr...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(ihdr))
}

func TestDecodeRejectsOversizedImages(t *testing.T) {
	_, format, err := DecodeImage(pngHeader(20000, 20000), 40_000_000)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.NotErrorIs(t, err, ErrDecode)
	assert.Equal(t, "png", format)

	data := encodePNG(t, checkerboard(8, 8))
	_, err = Decode(data, nil, 63)
	assert.ErrorIs(t, err, ErrTooLarge)

	dec, err := Decode(data, nil, 64)
	require.NoError(t, err)
	assert.Equal(t, 64, dec.Grid.Len())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	grid := quantize.FromImage(checkerboard(6, 4))

	for _, format := range []string{"png", "gif", "bmp", "tiff"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, grid.Image(), format))

			dec, err := Decode(buf.Bytes(), nil, 0)
			require.NoError(t, err)
			assert.Equal(t, format, dec.Format)
			assert.Empty(t, cmp.Diff(grid, dec.Grid))
		})
	}
}

func TestEncodeJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, checkerboard(16, 16), "jpeg"))

	dec, err := Decode(buf.Bytes(), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", dec.Format)
	assert.Equal(t, 16, dec.Grid.Width)
}

func TestEncodeUnsupported(t *testing.T) {
	err := Encode(&bytes.Buffer{}, checkerboard(1, 1), "webp")
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestOutputFormat(t *testing.T) {
	assert.Equal(t, "png", OutputFormat("png", "jpeg"))
	assert.Equal(t, "jpeg", OutputFormat("same", "jpeg"))
	assert.Equal(t, "png", OutputFormat("same", "webp"))
	assert.Equal(t, "image/png", MIMEType("png"))
	assert.Equal(t, "application/octet-stream", MIMEType("xcf"))
}

func TestFit(t *testing.T) {
	img := checkerboard(400, 200)
	logger := slog.New(slog.DiscardHandler)

	for _, tc := range []struct {
		width, height int
		want          image.Rectangle
	}{
		{0, 0, image.Rect(0, 0, 400, 200)},
		{800, 0, image.Rect(0, 0, 400, 200)},
		{100, 0, image.Rect(0, 0, 100, 50)},
		{0, 100, image.Rect(0, 0, 200, 100)},
		{100, 10, image.Rect(0, 0, 20, 10)},
	} {
		got := Fit(logger, img, tc.width, tc.height)
		assert.Equal(t, tc.want, got.Bounds(), "fit %dx%d", tc.width, tc.height)
	}
}

func TestParseHexColor(t *testing.T) {
	for in, want := range map[string]color.NRGBA{
		"#fff":      {0xFF, 0xFF, 0xFF, 0xFF},
		"#08f":      {0x00, 0x88, 0xFF, 0xFF},
		"#08f8":     {0x00, 0x88, 0xFF, 0x88},
		"#1a2b3c":   {0x1A, 0x2B, 0x3C, 0xFF},
		"#1a2b3c40": {0x1A, 0x2B, 0x3C, 0x40},
	} {
		got, err := ParseHexColor(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "fff", "#ff", "#gggggg", "#12345"} {
		_, err := ParseHexColor(in)
		assert.Error(t, err, in)
	}
}
