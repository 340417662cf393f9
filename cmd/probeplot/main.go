// Command probeplot attaches to a running microcontroller, streams the live
// values and log statements its firmware declares, and lets settings be
// changed while it runs.
//
// Usage:
//
//	probeplot [flags]
//
// Flags:
//
//	-config string     Configuration file path (YAML)
//	-elf string        Firmware ELF image to scan
//	-probe string      Probe kind: gdb, sim (default "gdb")
//	-addr string       GDB server address (default "localhost:3333")
//	-interval duration Poll interval (default 10ms)
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-capture string    Write events to this .pplog file
//	-live              Serve the websocket live stream
//	-metrics           Serve Prometheus metrics
//	-interactive       Start the interactive console
//	-watch             Re-scan and restart when the ELF changes
//
// Examples:
//
//	# Attach through OpenOCD and record a capture
//	probeplot -elf target/firmware.elf -capture run.pplog
//
//	# Run against the built-in demo firmware with a live stream
//	probeplot -probe sim -live -interactive
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/probeplot/probeplot-go/cmd/probeplot/interactive"
	"github.com/probeplot/probeplot-go/pkg/config"
)

// Flags holds the command line. Flags given explicitly override the
// configuration file.
type Flags struct {
	ConfigFile  string
	ELF         string
	Probe       string
	Addr        string
	Interval    time.Duration
	LogLevel    string
	Capture     string
	Live        bool
	Metrics     bool
	Interactive bool
	Watch       bool
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&flags.ELF, "elf", "", "Firmware ELF image to scan")
	flag.StringVar(&flags.Probe, "probe", config.ProbeGDB, "Probe kind: gdb, sim")
	flag.StringVar(&flags.Addr, "addr", "localhost:3333", "GDB server address")
	flag.DurationVar(&flags.Interval, "interval", 10*time.Millisecond, "Poll interval")
	flag.StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.Capture, "capture", "", "Write events to this .pplog file")
	flag.BoolVar(&flags.Live, "live", false, "Serve the websocket live stream")
	flag.BoolVar(&flags.Metrics, "metrics", false, "Serve Prometheus metrics")
	flag.BoolVar(&flags.Interactive, "interactive", false, "Start the interactive console")
	flag.BoolVar(&flags.Watch, "watch", false, "Re-scan and restart when the ELF changes")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probeplot: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var console *interactive.Console
	var logOut io.Writer = os.Stderr
	if flags.Interactive {
		console, err = interactive.New(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "probeplot: %v\n", err)
			os.Exit(1)
		}
		logOut = console.Stderr()
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	app, err := NewApp(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	if console != nil {
		console.SetController(app)
		app.AddSink(console)
	}

	logger.Info("probeplot starting",
		"probe", cfg.Probe.Kind,
		"elf", cfg.ELF,
		"interval", cfg.Session.Interval)

	if err := app.Run(ctx, console, cancel); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("probeplot stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("goodbye")
}

// loadConfig reads the configuration file, if any, and applies the flags
// that were set explicitly.
func loadConfig(f Flags) (*config.Config, error) {
	cfg := config.Default()
	if f.ConfigFile != "" {
		loaded, err := config.Load(f.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "elf":
			cfg.ELF = f.ELF
		case "probe":
			cfg.Probe.Kind = f.Probe
		case "addr":
			cfg.Probe.Addr = f.Addr
		case "interval":
			cfg.Session.Interval = f.Interval
		case "log-level":
			cfg.LogLevel = f.LogLevel
		case "capture":
			cfg.Capture.File = f.Capture
		case "live":
			cfg.Live.Enabled = f.Live
		case "metrics":
			cfg.Metrics.Enabled = f.Metrics
		case "watch":
			cfg.Watch = f.Watch
		}
	})

	if cfg.Probe.Kind == config.ProbeGDB && cfg.ELF == "" {
		return nil, fmt.Errorf("%w: an ELF image is required with the gdb probe", config.ErrInvalid)
	}
	if cfg.Watch && cfg.ELF == "" {
		return nil, fmt.Errorf("%w: watch needs an ELF image", config.ErrInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
