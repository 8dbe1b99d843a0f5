// Package config loads the core's YAML configuration. Every field has a
// default; a file only needs the values it changes, and a handful of
// deployment settings can be overridden from the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Freshair129/agentic-agent/internal/fault"
	"github.com/Freshair129/agentic-agent/internal/memory"
	"github.com/Freshair129/agentic-agent/internal/physio"
	"github.com/Freshair129/agentic-agent/internal/resonance"
	"github.com/Freshair129/agentic-agent/internal/retrieval"
	"github.com/Freshair129/agentic-agent/internal/signals"
	"github.com/Freshair129/agentic-agent/internal/turn"
)

// #region types
// Config is the whole core configuration.
type Config struct {
	DB       string `yaml:"db" validate:"required"`
	HTTPAddr string `yaml:"http_addr" validate:"required"`
	GRPCAddr string `yaml:"grpc_addr" validate:"required"`

	Log   LogConfig   `yaml:"log"`
	Audit AuditConfig `yaml:"audit"`

	Physio    physio.Config          `yaml:"physio"`
	Resonance resonance.Config       `yaml:"resonance"`
	Retrieval retrieval.Config       `yaml:"retrieval"`
	Memory    memory.Config          `yaml:"memory"`
	Signals   signals.ProducerConfig `yaml:"signals"`
	Turn      turn.Config            `yaml:"turn"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// AuditConfig sizes the audit sink's buffer.
type AuditConfig struct {
	Buffer int `yaml:"buffer" validate:"gte=1"`
}

// #endregion types

// #region defaults
// Default returns a configuration that runs out of the box.
func Default() Config {
	return Config{
		DB:        "core.db",
		HTTPAddr:  ":8080",
		GRPCAddr:  ":50051",
		Log:       LogConfig{Level: "info", Format: "text"},
		Audit:     AuditConfig{Buffer: 256},
		Physio:    physio.DefaultConfig(),
		Resonance: resonance.DefaultConfig(),
		Retrieval: retrieval.DefaultConfig(),
		Memory:    memory.DefaultConfig(),
		Signals:   signals.DefaultProducerConfig(),
		Turn:      turn.DefaultConfig(),
	}
}

// #endregion defaults

// #region load
// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file. Unknown keys are
// rejected so a typo never silently falls back to a default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fault.Configuration("config.load", err)
		}
		defer f.Close()
		if err := decode(f, &cfg); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// replacedMaps are the map-valued settings a file replaces whole. yaml.v3
// merges into a non-nil map, so without clearing them a file naming only
// some domains or streams would inherit defaults for the rest.
var replacedMaps = []struct {
	path  []string
	clear func(*Config)
}{
	{[]string{"memory", "policies"}, func(c *Config) { c.Memory.Policies = nil }},
	{[]string{"retrieval", "weights"}, func(c *Config) { c.Retrieval.Weights = nil }},
	{[]string{"signals", "intents"}, func(c *Config) { c.Signals.Intents = nil }},
}

func decode(r io.Reader, cfg *Config) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fault.Configuration("config.decode", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fault.Configuration("config.decode", err)
	}
	for _, m := range replacedMaps {
		if hasKey(&doc, m.path...) {
			m.clear(cfg)
		}
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fault.Configuration("config.decode", err)
	}
	return nil
}

// hasKey reports whether the document sets the nested mapping key path.
func hasKey(n *yaml.Node, path ...string) bool {
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) == 0 {
			return false
		}
		n = n.Content[0]
	}
	for _, key := range path {
		if n.Kind != yaml.MappingNode {
			return false
		}
		var next *yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == key {
				next = n.Content[i+1]
				break
			}
		}
		if next == nil {
			return false
		}
		n = next
	}
	return true
}

// applyEnv lets deployments move the database and listeners without a file.
func (c *Config) applyEnv() {
	c.DB = envOr("CORE_DB", c.DB)
	c.HTTPAddr = envOr("CORE_HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = envOr("CORE_GRPC_ADDR", c.GRPCAddr)
	c.Log.Level = strings.ToLower(envOr("CORE_LOG_LEVEL", c.Log.Level))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion load

// #region validate
// Validate runs struct tags first and then each component's cross-field
// rules. Every problem is reported, not just the first.
func (c Config) Validate() error {
	var errs []error
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		errs = append(errs, err)
	}
	for _, err := range []error{
		c.Physio.Validate(),
		c.Resonance.Validate(),
		c.Retrieval.Validate(),
		c.Memory.Validate(),
		c.Signals.Validate(c.Physio.Channels),
		c.Turn.Validate(),
	} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fault.Configuration("config.validate", errors.Join(errs...))
	}
	return nil
}

// #endregion validate

// #region logger
// NewLogger builds the process logger from cfg.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// #endregion logger

// String summarizes the deployment settings for the startup log.
func (c Config) String() string {
	return fmt.Sprintf("db=%s http=%s grpc=%s channels=%d tick=%s sync_timeout=%s",
		c.DB, c.HTTPAddr, c.GRPCAddr, len(c.Physio.Channels), c.Physio.TickInterval, c.Turn.SyncTimeout.Round(time.Millisecond))
}
