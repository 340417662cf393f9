package main

import (
	"bytes"
	"context"
	"debug/elf"
	"fmt"
	"log/slog"
	"os"

	"github.com/probeplot/probeplot-go/internal/demo"
	"github.com/probeplot/probeplot-go/pkg/config"
	"github.com/probeplot/probeplot-go/pkg/logstream"
	"github.com/probeplot/probeplot-go/pkg/probe"
	"github.com/probeplot/probeplot-go/pkg/probe/gdbremote"
	"github.com/probeplot/probeplot-go/pkg/probe/rtt"
	"github.com/probeplot/probeplot-go/pkg/probe/sim"
	"github.com/probeplot/probeplot-go/pkg/scanner"
)

// simLogEvery is how often, in ticks, the simulated firmware logs.
const simLogEvery = 50

// attachment is a scanned image and the target it runs on.
type attachment struct {
	result *scanner.Result
	target probe.Target
	logs   *logstream.Demux

	// animator drives the simulated firmware. Nil for real targets.
	animator *sim.Animator
}

func (at *attachment) close(logger *slog.Logger) {
	if err := at.target.Close(); err != nil {
		logger.Warn("closing target failed", "error", err)
	}
}

// attach scans the image and connects to the configured probe.
func (a *App) attach(ctx context.Context) (*attachment, error) {
	image, err := a.loadImage()
	if err != nil {
		return nil, err
	}
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scanner.ErrNotELF, err)
	}
	defer f.Close()

	res, err := scanner.ScanFile(f, scanner.Options{
		LogSection: a.cfg.LogSection,
		Logger:     a.logger.With("component", "scanner"),
	})
	if err != nil {
		return nil, err
	}

	locations, err := scanner.LoadLocations(f, a.cfg.LogSection)
	if err != nil {
		a.logger.Warn("log locations unavailable", "error", err)
		locations = nil
	}

	at := &attachment{result: res}
	switch a.cfg.Probe.Kind {
	case config.ProbeSim:
		t, err := sim.LoadELF(f, 1)
		if err != nil {
			return nil, err
		}
		at.target = t
		animCfg := sim.AnimatorConfig{}
		if len(res.LogIndices) > 0 {
			animCfg.LogEvery = simLogEvery
			animCfg.LogIndex = res.LogIndices[0]
		}
		at.animator = sim.NewAnimator(t, res.Registry, animCfg)

	default:
		t, err := a.dialTarget(ctx, res)
		if err != nil {
			return nil, err
		}
		at.target = t
	}

	at.logs = logstream.NewDemux(at.target, logstream.Config{
		BufferSize:   a.cfg.LogStream.BufferSize,
		MaxPasses:    a.cfg.LogStream.MaxPasses,
		MaxFrameSize: a.cfg.LogStream.MaxFrameSize,
		Locations:    locations,
		KnownIndices: res.LogIndices,
		Logger:       a.logger.With("component", "logstream"),
	})
	return at, nil
}

// loadImage reads the configured ELF, or the demo firmware when the
// simulated probe runs without one.
func (a *App) loadImage() ([]byte, error) {
	if a.cfg.ELF == "" {
		if a.cfg.Probe.Kind != config.ProbeSim {
			return nil, fmt.Errorf("%w: no ELF image", config.ErrInvalid)
		}
		a.logger.Info("no ELF image given, using the demo firmware", "log_index", demo.LogIndex)
		return demo.Image()
	}
	image, err := os.ReadFile(a.cfg.ELF)
	if err != nil {
		return nil, fmt.Errorf("read ELF: %w", err)
	}
	return image, nil
}

// dialTarget connects to the GDB server and, if enabled, attaches to the
// RTT control block for log channels.
func (a *App) dialTarget(ctx context.Context, res *scanner.Result) (probe.Target, error) {
	pc := a.cfg.Probe
	client, err := gdbremote.Dial(ctx, pc.Addr, gdbremote.Config{
		Timeout:     pc.Timeout,
		DialTimeout: pc.DialTimeout,
		MaxChunk:    pc.MaxChunk,
		Logger:      a.logger.With("component", "gdbremote"),
	})
	if err != nil {
		return nil, err
	}

	if !pc.RTT {
		return probe.Compose(client, probe.NoChannels{}, client), nil
	}
	addr, ok := res.Symbol(pc.RTTSymbol)
	if !ok {
		a.logger.Warn("RTT control block not found, log channels disabled", "symbol", pc.RTTSymbol)
		return probe.Compose(client, probe.NoChannels{}, client), nil
	}
	channels, err := rtt.Attach(ctx, client, addr)
	if err != nil {
		client.Close()
		return nil, err
	}
	a.logger.Debug("RTT attached", "addr", fmt.Sprintf("%#x", addr), "channels", channels.NumChannels())
	return probe.Compose(client, channels, client), nil
}
