package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Freshair129/agentic-agent/internal/fault"
	"github.com/Freshair129/agentic-agent/internal/retrieval"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "core.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().HTTPAddr, cfg.HTTPAddr)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
db: /var/lib/core/core.db
physio:
  tick_interval: 500ms
retrieval:
  cross_stream_bonus: 0.1
turn:
  sync_timeout: 1s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/core/core.db", cfg.DB)
	assert.Equal(t, 500*time.Millisecond, cfg.Physio.TickInterval)
	assert.Equal(t, time.Second, cfg.Turn.SyncTimeout)
	assert.Equal(t, 0.1, cfg.Retrieval.CrossStreamBonus)
	assert.Equal(t, Default().Retrieval.Weights, cfg.Retrieval.Weights, "untouched maps keep their defaults")
	assert.Len(t, cfg.Physio.Channels, len(Default().Physio.Channels))
}

func TestEmptyFileIsDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().GRPCAddr, cfg.GRPCAddr)
}

func TestUnknownKeyRejected(t *testing.T) {
	_, err := Load(writeFile(t, "physio:\n  tick_intervall: 1s\n"))
	assert.ErrorIs(t, err, fault.ErrConfiguration)
}

func TestListedMapsReplaceDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "retrieval:\n  weights:\n    affect: 0.5\n    narrative: 0.4\n"))
	require.NoError(t, err)
	assert.Equal(t, map[retrieval.StreamName]float64{retrieval.StreamAffect: 0.5, retrieval.StreamNarrative: 0.4}, cfg.Retrieval.Weights)

	_, err = Load(writeFile(t, `
memory:
  policies:
    meta:
      corroborations_to_confirm: 1
      corroboration_gain: 0.05
      conflict_step: 0.05
      contestations_to_deprecate: 2
      core_hits: 3
      core_confidence: 0.6
      sphere_hits: 8
      sphere_confidence: 0.85
      demote_after: 2
      severity_weight: 0.4
`))
	assert.ErrorIs(t, err, fault.ErrConfiguration, "a policy per domain is required, none are borrowed from defaults")
}

func TestInvalidValuesRejected(t *testing.T) {
	cases := map[string]string{
		"log level":    "log:\n  level: loud\n",
		"cutoffs":      "resonance:\n  low_cutoff: 0.9\n  high_cutoff: 0.2\n",
		"sync timeout": "turn:\n  sync_timeout: 0s\n",
		"intent":       "signals:\n  intents:\n    panic: {glucose: 3}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, body))
			assert.ErrorIs(t, err, fault.ErrConfiguration)
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, fault.ErrConfiguration)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("CORE_DB", "/tmp/env.db")
	t.Setenv("CORE_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("CORE_LOG_LEVEL", "DEBUG")

	cfg, err := Load(writeFile(t, "db: from-file.db\n"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.DB)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	log.Info("hidden")
	log.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"), out)
	assert.Contains(t, out, `"k":"v"`)
}
