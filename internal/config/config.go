// Package config loads the recstore command line configuration from a JSON
// with comments file.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/maruel/recstore/internal/jsondoc"
)

// FileName is the configuration file looked up in the working directory when
// none is named explicitly.
const FileName = "recstore.json"

var (
	errPathEmpty    = errors.New("path must not be empty")
	errUnknownLevel = errors.New("log_level must be one of debug, info, warn, error")
)

// Config holds the settings of one record file.
type Config struct {
	// Path is the record file.
	Path string `json:"path"`

	// Version, Title and Description are written to the file metadata.
	Version     string `json:"version"`
	Title       string `json:"title"`
	Description string `json:"description"`

	// UniqueFields lists the fields whose combined values must be unique.
	// Empty means whole records must be unique.
	UniqueFields []string `json:"unique_fields,omitempty"`

	// StableIDs keeps ids after deletions instead of renumbering.
	StableIDs bool `json:"stable_ids,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Path:        "contacts.json",
		Version:     "1.0.0",
		Title:       "Contacts",
		Description: "Contact records",
		LogLevel:    "info",
	}
}

// Load reads the configuration at path on top of the defaults.
//
// A missing file yields the defaults unless explicit is set, in which case it
// is an error.
func Load(path string, explicit bool) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			slog.Debug("No configuration file, using defaults", "path", path)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := parse(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func parse(data []byte, cfg *Config) error {
	std, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("invalid JSONC: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(std))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after configuration")
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Path == "" {
		return errPathEmpty
	}
	meta := c.Metadata()
	if err := meta.Validate(); err != nil {
		return err
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Metadata returns the document metadata described by c.
func (c *Config) Metadata() jsondoc.Metadata {
	return jsondoc.Metadata{Version: c.Version, Title: c.Title, Description: c.Description}
}

// ParseLevel converts a log level name. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w, got %q", errUnknownLevel, s)
	}
}
