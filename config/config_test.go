package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paintbynum.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	conf := Default()
	require.NoError(t, conf.Validate())

	d, err := conf.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)
}

func TestLoadPartialFile(t *testing.T) {
	path := writeFile(t, `
listen = "127.0.0.1:8080"
colors = 6
timeout = "5s"
allowed_origins = ["http://localhost:3000"]
`)

	conf, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.Listen = "127.0.0.1:8080"
	want.Colors = 6
	want.Timeout = "5s"
	want.AllowedOrigins = []string{"http://localhost:3000"}
	assert.Empty(t, cmp.Diff(want, conf))
}

func TestLoadErrors(t *testing.T) {
	for name, content := range map[string]string{
		"syntax":         `listen = `,
		"unknown key":    `colours = 4`,
		"colors too big": "colors = 100\nmax_colors = 10",
		"bad timeout":    `timeout = "soon"`,
		"zero timeout":   `timeout = "0s"`,
		"bad background": `background = "white"`,
		"no workers":     `workers = -1`,
		"no concurrency": `max_concurrent = 0`,
		"no pixels":      `max_pixels = 0`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "does not exist")
}

func TestWriteThenLoad(t *testing.T) {
	conf := Default()
	conf.Seed = 7
	conf.MaxColors = 32
	conf.MaxPixels = 1 << 20

	var buf bytes.Buffer
	require.NoError(t, conf.Write(&buf))
	assert.Contains(t, buf.String(), "max_pixels = 1048576")

	got, err := Load(writeFile(t, buf.String()))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(conf, got))
}
