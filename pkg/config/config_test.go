package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
elf: build/demo.elf
log_level: debug
probe:
  addr: 127.0.0.1:2331
  timeout: 500ms
session:
  interval: 25ms
live:
  enabled: true
  advertise: true
capture:
  file: run.pplog
`))
	require.NoError(t, err)

	assert.Equal(t, "build/demo.elf", cfg.ELF)
	assert.Equal(t, "127.0.0.1:2331", cfg.Probe.Addr)
	assert.Equal(t, 500*time.Millisecond, cfg.Probe.Timeout)
	assert.Equal(t, 25*time.Millisecond, cfg.Session.Interval)
	assert.True(t, cfg.Live.Enabled)
	assert.Equal(t, "run.pplog", cfg.Capture.File)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())

	// Untouched fields keep their defaults.
	assert.Equal(t, 1024, cfg.Probe.MaxChunk)
	assert.Equal(t, ":7878", cfg.Live.Addr)
	assert.Equal(t, ".probe_log", cfg.LogSection)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("probe:\n  adress: localhost:3333\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adress")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"probe kind", func(c *Config) { c.Probe.Kind = "jlink" }, "Probe.Kind must be one of"},
		{"gdb needs addr", func(c *Config) { c.Probe.Addr = "" }, "Probe.Addr is required"},
		{"bad addr", func(c *Config) { c.Probe.Addr = "nohostport" }, "Probe.Addr failed hostname_port"},
		{"interval", func(c *Config) { c.Session.Interval = 0 }, "Session.Interval failed gt"},
		{"section", func(c *Config) { c.LogSection = "probe_log" }, "LogSection failed startswith"},
		{"capture ext", func(c *Config) { c.Capture.File = "run.log" }, "Capture.File failed endswith"},
		{"influx", func(c *Config) { c.Influx.Enabled = true }, "Influx.URL is required"},
		{"log level", func(c *Config) { c.LogLevel = "verbose" }, "LogLevel must be one of"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := Default()
	cfg.Probe.Kind = ProbeSim
	cfg.Probe.Addr = ""
	assert.NoError(t, cfg.Validate(), "sim probes need no address")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "probeplot.yaml")

	cfg := Default()
	cfg.ELF = "fw.elf"
	cfg.Metrics.Enabled = true
	data, err := cfg.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("session:\n  queue_size: 0\n"), 0644))
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), path)
}
