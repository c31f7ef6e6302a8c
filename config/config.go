// Package config holds the settings of the HTTP service. Settings are read
// from a TOML file once at startup and passed to the server explicitly.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"paintbynum/codec"
	"paintbynum/quantize"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Listen string `toml:"listen"`

	// Colors is the palette size used when a request does not ask for one.
	Colors    int    `toml:"colors"`
	MaxColors int    `toml:"max_colors"`
	Seed      uint64 `toml:"seed"`

	MaxIterations int     `toml:"max_iterations"`
	Epsilon       float64 `toml:"epsilon"`
	// Workers is the size of the clustering pool, 0 for one per CPU.
	Workers int `toml:"workers"`

	MaxUploadBytes int64 `toml:"max_upload_bytes"`
	// MaxPixels bounds width×height of a decoded upload.
	MaxPixels     int64  `toml:"max_pixels"`
	Timeout       string `toml:"timeout"`
	MaxConcurrent int    `toml:"max_concurrent"`

	AllowedOrigins []string `toml:"allowed_origins"`
	Catalog        string   `toml:"catalog"`
	Background     string   `toml:"background"`
}

func Default() *Config {
	return &Config{
		Listen:         ":5000",
		Colors:         quantize.DefaultColors,
		MaxColors:      64,
		Seed:           quantize.DefaultSeed,
		MaxIterations:  quantize.DefaultMaxIterations,
		Epsilon:        quantize.DefaultEpsilon,
		Workers:        0,
		MaxUploadBytes: 16 << 20,
		MaxPixels:      40_000_000,
		Timeout:        "30s",
		MaxConcurrent:  2,
		AllowedOrigins: []string{"*"},
		Catalog:        "colors.db",
		Background:     "#ffffff",
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value, unknown keys are an error.
func Load(path string) (*Config, error) {
	conf := Default()

	md, err := toml.DecodeFile(path, conf)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q does not exist", path)
		}
		return nil, fmt.Errorf("could not read config file %q: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in config file %q: %s", path, strings.Join(keys, ", "))
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %q: %w", path, err)
	}
	return conf, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Listen == "":
		return fmt.Errorf("listen address is empty")
	case c.MaxColors < 1:
		return fmt.Errorf("max_colors must be at least 1, got %d", c.MaxColors)
	case c.Colors < 1 || c.Colors > c.MaxColors:
		return fmt.Errorf("colors must be between 1 and max_colors (%d), got %d", c.MaxColors, c.Colors)
	case c.MaxIterations < 1:
		return fmt.Errorf("max_iterations must be at least 1, got %d", c.MaxIterations)
	case c.Epsilon <= 0:
		return fmt.Errorf("epsilon must be positive, got %g", c.Epsilon)
	case c.Workers < 0:
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	case c.MaxUploadBytes < 1:
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	case c.MaxPixels < 1:
		return fmt.Errorf("max_pixels must be positive, got %d", c.MaxPixels)
	case c.MaxConcurrent < 1:
		return fmt.Errorf("max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}

	if _, err := c.TimeoutDuration(); err != nil {
		return err
	}
	if _, err := codec.ParseHexColor(c.Background); err != nil {
		return fmt.Errorf("invalid background: %w", err)
	}
	return nil
}

func (c *Config) TimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
	} else if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return d, nil
}

// Write encodes conf as TOML.
func (c *Config) Write(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("could not encode config: %w", err)
	}
	return nil
}
