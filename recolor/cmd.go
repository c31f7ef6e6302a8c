// Package recolor implements the command that turns an image file into its
// paint-by-number version.
package recolor

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"paintbynum/catalog"
	"paintbynum/codec"
	"paintbynum/palette"
	"paintbynum/parallel"
	"paintbynum/quantize"

	"github.com/alecthomas/kong"
)

type CLICmd struct {
	In         string      `arg:"" help:"Image to quantize" type:"existingfile"`
	Out        string      `help:"Destination file. Defaults to <in>.quantized.<format> next to the source" short:"o"`
	Colors     int         `help:"Number of colors" default:"10" short:"k"`
	Seed       uint64      `help:"Seed for the initial palette" default:"42"`
	Iterations int         `help:"Maximum number of clustering rounds" default:"300"`
	Width      int         `help:"Max width, 0 for unconstrained" group:"resize"`
	Height     int         `help:"Max height, 0 for unconstrained" group:"resize"`
	MaxPixels  int64       `help:"Refuse images with more pixels than this, 0 for no limit" default:"0"`
	Format     string      `help:"Output format" enum:"same,png,gif,jpeg,bmp,tiff" default:"png"`
	Background string      `help:"Color transparent pixels are flattened onto" default:"#ffffff"`
	PaletteOut string      `help:"Also write the palette as a RIFF PAL file" type:"path" group:"palette"`
	Legend     bool        `help:"Print the numbered color legend as JSON" group:"palette"`
	Catalog    string      `help:"Name legend colors from this color catalog instead of the CSS names" type:"path" group:"palette"`
	BgColor    color.Color `kong:"-"`
}

func (c *CLICmd) Validate(kctx *kong.Context) error {
	switch {
	case c.Colors < 1:
		return fmt.Errorf("invalid number of colors: %d", c.Colors)
	case c.Iterations < 1:
		return fmt.Errorf("invalid number of iterations: %d", c.Iterations)
	case c.Width < 0:
		return fmt.Errorf("invalid resize width: %d", c.Width)
	case c.Height < 0:
		return fmt.Errorf("invalid resize height: %d", c.Height)
	case c.MaxPixels < 0:
		return fmt.Errorf("invalid pixel limit: %d", c.MaxPixels)
	}

	bg, err := codec.ParseHexColor(c.Background)
	if err != nil {
		return fmt.Errorf("invalid background: %w", err)
	}
	c.BgColor = bg

	if c.Catalog != "" {
		if _, err := os.Stat(c.Catalog); err != nil {
			return fmt.Errorf("invalid catalog path %q: %w", c.Catalog, err)
		}
	}
	return nil
}

func (c *CLICmd) Run(pool *parallel.Pool, logger *slog.Logger) error {
	logger = logger.With("file", c.In)

	data, err := os.ReadFile(c.In)
	if err != nil {
		return fmt.Errorf("could not read image %q: %w", c.In, err)
	}

	img, imgType, err := codec.DecodeImage(data, c.MaxPixels)
	if err != nil {
		return fmt.Errorf("could not decode %q: %w", c.In, err)
	}
	img = codec.Fit(logger, img, c.Width, c.Height)
	grid := quantize.FromImage(codec.Flatten(img, c.BgColor))

	q := quantize.New(pool, quantize.Options{MaxIterations: c.Iterations, Logger: logger})
	start := time.Now()
	res, err := q.Quantize(context.Background(), grid, c.Colors, c.Seed)
	if err != nil {
		return fmt.Errorf("could not quantize %q: %w", c.In, err)
	}
	logger.Info("quantized", "colors", c.Colors, "iterations", res.Iterations, "converged", res.Converged,
		"duration", time.Since(start))

	format := codec.OutputFormat(c.Format, imgType)
	dest := c.Out
	if dest == "" {
		dest = defaultDest(c.In, format)
	}
	if err := save(res.Image(), format, dest); err != nil {
		return err
	}
	logger.Info("saved", "dest", dest, "format", format)

	var namer palette.Namer = catalog.Builtin()
	if c.Catalog != "" {
		store, err := catalog.Open(c.Catalog)
		if err != nil {
			return err
		}
		defer store.Close()

		if namer, err = store.Index(context.Background()); err != nil {
			return err
		}
	}
	legend := palette.NewLegend(res, namer)

	if c.PaletteOut != "" {
		if err := writeFile(c.PaletteOut, func(w io.Writer) error {
			return palette.WriteRIFF(w, legend.Palette())
		}); err != nil {
			return err
		}
		logger.Info("saved palette", "dest", c.PaletteOut, "colors", len(legend))
	}

	if c.Legend {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(legend); err != nil {
			return fmt.Errorf("could not write legend: %w", err)
		}
	}
	return nil
}

func defaultDest(src, format string) string {
	ext := filepath.Ext(src)
	return fmt.Sprintf("%s.quantized.%s", src[:len(src)-len(ext)], format)
}

func save(img image.Image, format, dest string) error {
	if !slices.Contains(codec.Formats, format) {
		return fmt.Errorf("unsupported output format: %s", format)
	}
	return writeFile(dest, func(w io.Writer) error {
		return codec.Encode(w, img, format)
	})
}

// writeFile writes to a temporary file next to dest and renames it into
// place once write succeeded, so dest is never left half written.
func writeFile(dest string, write func(io.Writer) error) (err error) {
	dir, name := filepath.Split(dest)
	if dir == "" {
		dir = "."
	}

	outFile, err := os.CreateTemp(dir, "."+strings.TrimPrefix(name, ".")+".*")
	if err != nil {
		return fmt.Errorf("could not create temporary destination for %q: %w", dest, err)
	}
	canRename := false
	defer func() {
		if defErr := outFile.Sync(); defErr != nil && err == nil {
			err = fmt.Errorf("could not flush temporary destination for %q: %w", dest, defErr)
		}
		if defErr := outFile.Close(); defErr != nil && err == nil {
			err = fmt.Errorf("could not close temporary destination for %q: %w", dest, defErr)
		}

		if canRename && err == nil {
			if defErr := os.Rename(outFile.Name(), dest); defErr != nil {
				err = fmt.Errorf("could not rename destination file %q: %w", dest, defErr)
			}
		}
		if err != nil {
			os.Remove(outFile.Name())
		}
	}()

	if err = write(outFile); err != nil {
		return fmt.Errorf("could not write %q: %w", dest, err)
	}
	canRename = true
	return nil
}
