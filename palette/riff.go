package palette

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"

	"golang.org/x/image/riff"
)

/*
typedef struct tagLOGPALETTE {
  WORD         palVersion;
  WORD         palNumEntries;
  PALETTEENTRY palPalEntry[1];
} LOGPALETTE;

typedef struct tagPALETTEENTRY {
  BYTE peRed;
  BYTE peGreen;
  BYTE peBlue;
  BYTE peFlags;
} PALETTEENTRY;
*/

var (
	riffType = riff.FourCC{'R', 'I', 'F', 'F'}
	palType  = riff.FourCC{'P', 'A', 'L', ' '}
	dataType = riff.FourCC{'d', 'a', 't', 'a'}
)

const palVersion = 0x0300

// ReadRIFF reads every palette stored in a RIFF PAL stream. Chunks other
// than "data" are skipped.
func ReadRIFF(r io.Reader) ([]color.Palette, error) {
	formType, rd, err := riff.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("could not open RIFF stream: %w", err)
	} else if formType != palType {
		return nil, fmt.Errorf("unsupported RIFF content type: %q", string(formType[:]))
	}

	var res []color.Palette
	for {
		id, size, data, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return res, fmt.Errorf("could not read chunk #%d: %w", len(res), err)
		}
		if id != dataType {
			continue
		}

		pal, err := readPalette(data, size)
		if err != nil {
			return res, fmt.Errorf("chunk #%d: %w", len(res), err)
		}
		res = append(res, pal)
	}

	if len(res) == 0 {
		return nil, fmt.Errorf("no palette data in RIFF stream")
	}
	return res, nil
}

func readPalette(r io.Reader, size uint32) (color.Palette, error) {
	if size < 4 {
		return nil, fmt.Errorf("palette chunk too short: %d bytes", size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("could not read palette: %w", err)
	}

	if ver := binary.BigEndian.Uint16(buf); ver != 3 && ver != palVersion {
		return nil, fmt.Errorf("unsupported palette version: %#x", ver)
	}

	count := int(binary.LittleEndian.Uint16(buf[2:]))
	if want := 4 + count*4; int(size) < want {
		return nil, fmt.Errorf("palette chunk holds %d bytes, %d entries need %d", size, count, want)
	}

	pal := make(color.Palette, count)
	for i := range count {
		e := buf[4+i*4:]
		pal[i] = color.RGBA{R: e[0], G: e[1], B: e[2], A: 0xFF}
	}
	return pal, nil
}

// WriteRIFF writes pal as a single-chunk RIFF PAL file.
func WriteRIFF(w io.Writer, pal color.Palette) error {
	if len(pal) > math.MaxUint16 {
		return fmt.Errorf("too many colors for a PAL file: %d", len(pal))
	}

	dataLen := 4 + len(pal)*4
	buf := make([]byte, 0, 20+dataLen)
	buf = append(buf, riffType[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(4+8+dataLen))
	buf = append(buf, palType[:]...)
	buf = append(buf, dataType[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(dataLen))
	buf = binary.BigEndian.AppendUint16(buf, 3)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(pal)))
	for _, c := range pal {
		rgba := color.RGBAModel.Convert(c).(color.RGBA)
		buf = append(buf, rgba.R, rgba.G, rgba.B, 0)
	}

	if n, err := w.Write(buf); err != nil {
		return fmt.Errorf("could not write palette: %w", err)
	} else if n != len(buf) {
		return fmt.Errorf("wrote only %d/%d bytes", n, len(buf))
	}
	return nil
}
