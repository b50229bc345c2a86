// Package config loads user settings for glbinfo from a TOML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/taigrr/glbinfo/pkg/memprof"
	"github.com/taigrr/glbinfo/pkg/report"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "~/.config/glbinfo/config.toml"

// Config holds user-adjustable settings. Command line flags override it.
type Config struct {
	Format           string `toml:"format"`
	MaterialOverhead uint64 `toml:"material_overhead"`
	FPS              int    `toml:"fps"`
	AllScenes        bool   `toml:"all_scenes"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Format:           string(report.FormatText),
		MaterialOverhead: memprof.DefaultMaterialOverhead,
		FPS:              30,
	}
}

// Load reads the config file at path, expanding a leading ~. Unset keys keep
// their defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}
	full, err := homedir.Expand(path)
	if err != nil {
		return cfg, fmt.Errorf("expand config path: %w", err)
	}

	data, err := os.ReadFile(filepath.Clean(full))
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("config: no file, using defaults", "path", full)
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Default(), fmt.Errorf("parse config %s: %w", full, err)
	}
	if err := cfg.Validate(); err != nil {
		return Default(), fmt.Errorf("config %s: %w", full, err)
	}
	return cfg, nil
}

// Validate checks that every setting is usable.
func (c Config) Validate() error {
	if _, err := report.ParseFormat(c.Format); err != nil {
		return err
	}
	if c.MaterialOverhead == 0 {
		return errors.New("material_overhead must be positive")
	}
	if c.FPS < 1 || c.FPS > 240 {
		return fmt.Errorf("fps must be between 1 and 240, got %d", c.FPS)
	}
	return nil
}

// Encode renders c as TOML, in the form Load reads back.
func (c Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

// LogLevel maps the verbosity flags to a slog level. Very verbose wins over
// verbose, which wins over quiet. The default is Warn.
func LogLevel(vv, v, q bool) slog.Level {
	switch {
	case vv:
		return slog.LevelDebug
	case v:
		return slog.LevelInfo
	case q:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
