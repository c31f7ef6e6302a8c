package catalog

import (
	"bytes"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"paintbynum/palette"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runOp(t *testing.T, db, op string, edit func(*CLICmd)) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c := &CLICmd{Catalog: db, op: op, out: &out}
	if edit != nil {
		edit(c)
	}
	err := c.Run(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return out.String(), err
}

func TestCLICmd(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "colors.db")

	_, err := runOp(t, db, "add", func(c *CLICmd) {
		c.Add.Name = "moss"
		c.Add.Hex = "#8A9A5B"
	})
	require.NoError(t, err)

	_, err = runOp(t, db, "add", func(c *CLICmd) {
		c.Add.Name = "moss"
		c.Add.Hex = "#000000"
	})
	assert.ErrorIs(t, err, ErrDuplicate)

	pal := filepath.Join(dir, "bw.pal")
	var buf bytes.Buffer
	require.NoError(t, palette.WriteRIFF(&buf, color.Palette{color.Black, color.White}))
	require.NoError(t, os.WriteFile(pal, buf.Bytes(), 0o644))

	_, err = runOp(t, db, "import", func(c *CLICmd) {
		c.Import.File = pal
		c.Import.Prefix = "bw"
	})
	require.NoError(t, err)

	out, err := runOp(t, db, "list", nil)
	require.NoError(t, err)
	assert.Equal(t, "2  bw-1  #000000\n3  bw-2  #ffffff\n1  moss  #8a9a5b\n", out)

	_, err = runOp(t, db, "rename", nil)
	assert.Error(t, err)
}
