package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/playcall/internal/commentary"
)

// ValidProviderNames lists known realtime provider names.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = []string{"gemini-live"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Media
	if cfg.Media.ChunkMS < 0 {
		errs = append(errs, fmt.Errorf("media.chunk_ms %d must not be negative", cfg.Media.ChunkMS))
	}

	// Realtime
	if cfg.Realtime.Provider != "" && !slices.Contains(ValidProviderNames, cfg.Realtime.Provider) {
		slog.Warn("unknown realtime provider name — may be a typo or third-party provider",
			"name", cfg.Realtime.Provider,
			"known", ValidProviderNames,
		)
	}
	if cfg.Realtime.Provider != "" && cfg.Realtime.APIKey == "" {
		slog.Warn("realtime.api_key is empty; the session will fail to connect unless the provider allows anonymous access",
			"provider", cfg.Realtime.Provider,
		)
	}

	// Commentary
	c := cfg.Commentary
	if c.Mode != "" && !c.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("commentary.mode %q is invalid; valid values: periodic, event", c.Mode))
	}
	if c.Style != "" && !c.Style.IsValid() {
		errs = append(errs, fmt.Errorf("commentary.style %q is invalid; valid values: enthusiastic, analytical, casual, roasting", c.Style))
	}
	if c.Level != "" && !c.Level.IsValid() {
		errs = append(errs, fmt.Errorf("commentary.level %q is invalid; valid values: beginner, intermediate, expert", c.Level))
	}
	for _, dur := range []struct {
		key string
		val Duration
	}{
		{"commentary.startup_delay", c.StartupDelay},
		{"commentary.settle_delay", c.SettleDelay},
		{"commentary.interval", c.Interval},
		{"commentary.retry_backoff", c.RetryBackoff},
		{"commentary.cooldown", c.Cooldown},
		{"commentary.debounce_window", c.DebounceWindow},
	} {
		if dur.val.Duration < 0 {
			errs = append(errs, fmt.Errorf("%s %s must not be negative", dur.key, dur.val.Duration))
		}
	}
	if c.FuzzyThreshold < 0 || c.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("commentary.fuzzy_threshold %.2f is out of range [0, 1]", c.FuzzyThreshold))
	}
	if c.Mode == commentary.ModeEvent && c.TriggerLabel == "" {
		slog.Warn("commentary.trigger_label is empty; every non-empty detection batch will qualify as an event")
	}

	// Archive
	if cfg.Archive.PostgresDSN == "" {
		slog.Warn("archive.postgres_dsn is empty; commentary prompts will not be archived")
	}

	return errors.Join(errs...)
}
