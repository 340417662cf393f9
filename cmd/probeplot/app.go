package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/probeplot/probeplot-go/cmd/probeplot/interactive"
	"github.com/probeplot/probeplot-go/pkg/capture"
	"github.com/probeplot/probeplot-go/pkg/config"
	"github.com/probeplot/probeplot-go/pkg/export"
	"github.com/probeplot/probeplot-go/pkg/livestream"
	"github.com/probeplot/probeplot-go/pkg/registry"
	"github.com/probeplot/probeplot-go/pkg/session"
)

// ErrNoSession indicates a setting request while no session is attached.
var ErrNoSession = errors.New("no session attached")

// App owns the output sinks and the servers, and runs one session after
// another: a session ends when it faults and reattach is enabled, or when
// the ELF image is rebuilt.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	sinks  []capture.Sink
	sink   *capture.MultiSink
	file   *capture.FileSink
	prom   *export.PrometheusSink
	influx *export.InfluxSink
	live   *livestream.Server

	closeInflux func()

	current  atomic.Pointer[session.Session]
	restart  chan struct{}
	sessions atomic.Int64

	mu       sync.Mutex
	settings []registry.SettingState
}

// NewApp creates the sinks and servers the configuration enables.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		cfg:     cfg,
		logger:  logger,
		restart: make(chan struct{}, 1),
	}

	if cfg.Capture.Console {
		a.sinks = append(a.sinks, capture.NewSlogSink(logger.With("component", "capture")))
	}
	if cfg.Capture.File != "" {
		fs, err := capture.NewFileSink(cfg.Capture.File)
		if err != nil {
			return nil, err
		}
		a.file = fs
		a.sinks = append(a.sinks, fs)
	}
	if cfg.Metrics.Enabled {
		a.prom = export.NewPrometheusSink()
		a.sinks = append(a.sinks, a.prom)
	}
	if cfg.Influx.Enabled {
		a.influx, a.closeInflux = export.DialInflux(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket,
			export.InfluxConfig{
				BatchSize:     cfg.Influx.BatchSize,
				FlushInterval: cfg.Influx.FlushInterval,
				Logger:        logger.With("component", "influx"),
			})
		a.sinks = append(a.sinks, a.influx)
	}
	if cfg.Live.Enabled {
		a.live = livestream.NewServer(a, livestream.Config{
			Addr:        cfg.Live.Addr,
			MaxClients:  cfg.Live.MaxClients,
			UpdateRate:  rate.Limit(cfg.Live.UpdateRate),
			UpdateBurst: cfg.Live.UpdateBurst,
			Logger:      logger.With("component", "live"),
		})
		a.sinks = append(a.sinks, a.live)
	}
	a.sink = capture.NewMultiSink(a.sinks...)
	return a, nil
}

// AddSink adds a sink. It must be called before Run.
func (a *App) AddSink(s capture.Sink) {
	a.sinks = append(a.sinks, s)
	a.sink = capture.NewMultiSink(a.sinks...)
}

// RequestSetting forwards a setting update to the attached session.
func (a *App) RequestSetting(name string, value float64) error {
	s := a.current.Load()
	if s == nil {
		return ErrNoSession
	}
	return s.RequestSetting(name, value)
}

// Settings returns the settings read at the last attach.
func (a *App) Settings() []registry.SettingState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]registry.SettingState(nil), a.settings...)
}

// Status describes the attached session.
func (a *App) Status() string {
	s := a.current.Load()
	if s == nil {
		return "no session"
	}
	status := fmt.Sprintf("session %s %s (%d started)", s.ID(), s.State(), a.sessions.Load())
	if a.live != nil {
		status += fmt.Sprintf(", %d live clients", a.live.ClientCount())
	}
	if a.file != nil && a.file.Errors() > 0 {
		status += fmt.Sprintf(", %d capture errors", a.file.Errors())
	}
	if a.influx != nil && a.influx.Dropped() > 0 {
		status += fmt.Sprintf(", %d influx points dropped", a.influx.Dropped())
	}
	return status
}

// Run runs the sessions and every enabled server until ctx ends or the
// session loop returns an error.
func (a *App) Run(ctx context.Context, console *interactive.Console, cancel context.CancelFunc) error {
	defer a.close()

	var ln net.Listener
	if a.live != nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Live.Addr)
		if err != nil {
			return fmt.Errorf("live stream: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.runSessions(ctx)
	})

	if a.live != nil {
		g.Go(func() error {
			return a.live.Serve(ctx, ln)
		})
		if a.cfg.Live.Advertise {
			adv, err := a.advertise(ln.Addr())
			if err != nil {
				a.logger.Warn("mDNS advertisement failed", "error", err)
			} else {
				defer adv.Shutdown()
			}
		}
	}

	if a.prom != nil {
		srv := &http.Server{
			Addr:              a.cfg.Metrics.Addr,
			Handler:           a.metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			return serveHTTP(ctx, srv)
		})
		a.logger.Info("metrics listening", "addr", a.cfg.Metrics.Addr)
	}

	if a.influx != nil {
		g.Go(func() error {
			err := a.influx.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if a.cfg.Watch {
		g.Go(func() error {
			return a.watch(ctx)
		})
	}

	if console != nil {
		go console.Run(ctx, cancel)
	}

	return g.Wait()
}

// runSessions attaches, runs and reattaches sessions until ctx ends.
func (a *App) runSessions(ctx context.Context) error {
	backoff := session.NewBackoff(session.BackoffConfig{})
	for {
		restarted, err := a.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case restarted:
			backoff.Reset()
			a.logger.Info("ELF changed, restarting session")
			continue
		case err == nil:
			return nil
		case !a.cfg.Probe.Reattach:
			return err
		}

		delay := backoff.Next()
		a.logger.Warn("session failed, reattaching",
			"error", err,
			"attempt", backoff.Attempts(),
			"delay", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// runSession scans the image, attaches and runs one session. It reports
// whether the session ended because a restart was requested.
func (a *App) runSession(ctx context.Context) (bool, error) {
	// the scan below already sees the latest image
	select {
	case <-a.restart:
	default:
	}

	at, err := a.attach(ctx)
	if err != nil {
		return false, err
	}
	defer at.close(a.logger)

	s, err := session.New(at.result.Registry, at.target, at.logs, a.sink, session.Config{
		Interval:  a.cfg.Session.Interval,
		QueueSize: a.cfg.Session.QueueSize,
		Logger:    a.logger.With("component", "session"),
	})
	if err != nil {
		return false, err
	}
	a.current.Store(s)
	defer a.current.CompareAndSwap(s, nil)
	a.sessions.Add(1)

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var restarted atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-a.restart:
			restarted.Store(true)
			cancel()
		case <-sctx.Done():
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case settings := <-s.InitialSettings():
			a.publishSettings(settings)
		case <-sctx.Done():
		}
	}()

	if at.animator != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := at.animator.Run(sctx, a.cfg.Session.Interval); err != nil {
				a.logger.Error("simulated firmware stopped", "error", err)
			}
		}()
	}

	a.logger.Info("session starting",
		"session", s.ID(),
		"metrics", len(at.result.Registry.Metrics()),
		"settings", len(at.result.Registry.Settings()),
		"graphs", len(at.result.Registry.Graphs()))

	err = s.Run(sctx)
	cancel()
	wg.Wait()
	return restarted.Load(), err
}

func (a *App) publishSettings(settings []registry.SettingState) {
	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()
	if a.live != nil {
		a.live.SetSettings(settings)
	}
}

// requestRestart asks the running session to end so the next one picks up
// a rebuilt image.
func (a *App) requestRestart() {
	select {
	case a.restart <- struct{}{}:
	default:
	}
}

func (a *App) advertise(addr net.Addr) (*livestream.Advertiser, error) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected listener address %s", addr)
	}
	id := ""
	if s := a.current.Load(); s != nil {
		id = s.ID()
	}
	return livestream.Advertise(livestream.AdvertiseInfo{
		Instance:  a.cfg.Live.Instance,
		Port:      tcp.Port,
		SessionID: id,
		Binary:    filepath.Base(a.cfg.ELF),
		Interface: a.cfg.Live.Interface,
	})
}

func (a *App) metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s := a.current.Load()
		if s == nil || s.State().Terminal() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(s.State().String() + "\n"))
	})
	return mux
}

func (a *App) close() {
	if a.file != nil {
		if err := a.file.Close(); err != nil {
			a.logger.Warn("closing capture file failed", "error", err)
		}
	}
	if a.closeInflux != nil {
		a.closeInflux()
	}
}

// serveHTTP runs srv until ctx ends.
func serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return fmt.Errorf("%s: %w", srv.Addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

var _ interactive.Controller = (*App)(nil)
var _ livestream.SettingRequester = (*App)(nil)
