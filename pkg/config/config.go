// Package config loads the probeplot configuration file.
//
// The file is YAML. Durations are written as Go duration strings ("10ms",
// "2s"). Fields left out keep the values from Default.
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
)

// Probe kinds.
const (
	ProbeGDB = "gdb"
	ProbeSim = "sim"
)

// ErrInvalid indicates a configuration that failed validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete tool configuration.
type Config struct {
	// ELF is the firmware image to scan.
	ELF string `yaml:"elf"`

	// LogSection is the ELF section holding log frame indices.
	LogSection string `yaml:"log_section" validate:"required,startswith=."`

	// LogLevel is the operational log level.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// Watch re-scans and restarts the session when the ELF changes.
	Watch bool `yaml:"watch"`

	Probe     ProbeConfig     `yaml:"probe"`
	Session   SessionConfig   `yaml:"session"`
	LogStream LogStreamConfig `yaml:"log_stream"`
	Capture   CaptureConfig   `yaml:"capture"`
	Live      LiveConfig      `yaml:"live"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Influx    InfluxConfig    `yaml:"influx"`
}

// ProbeConfig selects and configures the probe connection.
type ProbeConfig struct {
	Kind string `yaml:"kind" validate:"oneof=gdb sim"`

	// Addr is the GDB server address (OpenOCD, probe-rs, pyOCD).
	Addr string `yaml:"addr" validate:"required_if=Kind gdb,omitempty,hostname_port"`

	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	DialTimeout time.Duration `yaml:"dial_timeout" validate:"gt=0"`
	MaxChunk    int           `yaml:"max_chunk" validate:"min=4,max=65536"`

	// RTT enables log channels through the RTT control block.
	RTT       bool   `yaml:"rtt"`
	RTTSymbol string `yaml:"rtt_symbol" validate:"required_if=RTT true"`

	// Reattach retries a faulted session with exponential backoff.
	Reattach bool `yaml:"reattach"`
}

// SessionConfig configures the live loop.
type SessionConfig struct {
	Interval  time.Duration `yaml:"interval" validate:"gt=0"`
	QueueSize int           `yaml:"queue_size" validate:"min=1"`
}

// LogStreamConfig configures the log demultiplexer.
type LogStreamConfig struct {
	BufferSize   int `yaml:"buffer_size" validate:"min=16"`
	MaxPasses    int `yaml:"max_passes" validate:"min=1"`
	MaxFrameSize int `yaml:"max_frame_size" validate:"min=16"`
}

// CaptureConfig configures local event output.
type CaptureConfig struct {
	// File is the capture file path. Empty disables file capture.
	File string `yaml:"file" validate:"omitempty,endswith=.pplog"`

	// Console prints events to standard error.
	Console bool `yaml:"console"`
}

// LiveConfig configures the websocket live stream.
type LiveConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Addr        string  `yaml:"addr" validate:"required_if=Enabled true"`
	MaxClients  int     `yaml:"max_clients" validate:"min=1"`
	UpdateRate  float64 `yaml:"update_rate" validate:"gt=0"`
	UpdateBurst int     `yaml:"update_burst" validate:"min=1"`

	// Advertise publishes the live stream over mDNS.
	Advertise bool   `yaml:"advertise"`
	Instance  string `yaml:"instance" validate:"max=63"`
	Interface string `yaml:"interface"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
}

// InfluxConfig configures the InfluxDB sink.
type InfluxConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url" validate:"required_if=Enabled true,omitempty,url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org" validate:"required_if=Enabled true"`
	Bucket        string        `yaml:"bucket" validate:"required_if=Enabled true"`
	BatchSize     int           `yaml:"batch_size" validate:"min=1"`
	FlushInterval time.Duration `yaml:"flush_interval" validate:"gt=0"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		LogSection: ".probe_log",
		LogLevel:   "info",
		Probe: ProbeConfig{
			Kind:        ProbeGDB,
			Addr:        "localhost:3333",
			Timeout:     2 * time.Second,
			DialTimeout: 5 * time.Second,
			MaxChunk:    1024,
			RTT:         true,
			RTTSymbol:   "_SEGGER_RTT",
		},
		Session: SessionConfig{
			Interval:  10 * time.Millisecond,
			QueueSize: 64,
		},
		LogStream: LogStreamConfig{
			BufferSize:   1024,
			MaxPasses:    64,
			MaxFrameSize: 4096,
		},
		Capture: CaptureConfig{
			Console: true,
		},
		Live: LiveConfig{
			Addr:        ":7878",
			MaxClients:  16,
			UpdateRate:  20,
			UpdateBurst: 5,
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
		},
		Influx: InfluxConfig{
			BatchSize:     500,
			FlushInterval: time.Second,
		},
	}
}

var validate = validator.New()

// Validate checks every field constraint.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required_if":
		return fmt.Sprintf("%s is required when %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// Parse decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// SlogLevel returns the operational log level.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
