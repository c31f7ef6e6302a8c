package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/alecthomas/kong"
)

type CLICmd struct {
	Catalog string `help:"Color catalog database" type:"path" default:"colors.db"`

	List struct{} `cmd:"" help:"List the colors in the catalog"`
	Add  struct {
		Name string `arg:"" help:"Color name"`
		Hex  string `arg:"" help:"Color as #RRGGBB"`
	} `cmd:"" help:"Add a named color"`
	Import struct {
		File   string `arg:"" help:"RIFF PAL file" type:"existingfile"`
		Prefix string `help:"Name prefix, defaults to the file name"`
	} `cmd:"" help:"Add every color of a RIFF PAL file"`

	op  string    `kong:"-"`
	out io.Writer `kong:"-"`
}

func (c *CLICmd) Validate(kctx *kong.Context) error {
	c.op = kctx.Selected().Name
	if c.op == "add" {
		if _, err := NormalizeHex(c.Add.Hex); err != nil {
			return err
		}
	}
	if c.op == "import" && c.Import.Prefix == "" {
		base := filepath.Base(c.Import.File)
		c.Import.Prefix = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return nil
}

func (c *CLICmd) Run(logger *slog.Logger) error {
	if c.out == nil {
		c.out = os.Stdout
	}

	s, err := Open(c.Catalog)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Error("could not close color catalog", "path", c.Catalog, "error", err)
		}
	}()

	ctx := context.Background()
	switch c.op {
	case "list":
		colors, err := s.List(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		for _, col := range colors {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", col.ID, col.Name, col.Hex)
		}
		return tw.Flush()
	case "add":
		col, err := s.Add(ctx, c.Add.Name, c.Add.Hex)
		if err != nil {
			return err
		}
		logger.Info("color added", "id", col.ID, "name", col.Name, "hex", col.Hex)
	case "import":
		f, err := os.Open(c.Import.File)
		if err != nil {
			return fmt.Errorf("could not open palette %q: %w", c.Import.File, err)
		}
		defer f.Close()

		added, err := s.ImportRIFF(ctx, f, c.Import.Prefix)
		logger.Info("palette imported", "file", c.Import.File, "added", len(added))
		if err != nil {
			return fmt.Errorf("could not import %q: %w", c.Import.File, err)
		}
	default:
		return fmt.Errorf("unsupported operation %q", c.op)
	}
	return nil
}
