package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/probeplot/probeplot-go/pkg/logstream"
	"github.com/probeplot/probeplot-go/pkg/registry"
)

// AnimatorConfig configures an Animator.
type AnimatorConfig struct {
	// Step is added to the counter on every tick. Zero means 1.
	Step int64

	// LogEvery emits a log frame every n ticks. Zero disables logging.
	LogEvery int

	// LogChannel and LogIndex address the emitted frames.
	LogChannel int
	LogIndex   uint64
}

// Animator behaves like the demo firmware: it counts upward and stores the
// counter in every metric, saturated to the metric's kind.
type Animator struct {
	target  *Target
	metrics []*registry.Metric
	config  AnimatorConfig
	counter int64
	ticks   int
}

// NewAnimator creates an animator driving the metrics of reg on t.
func NewAnimator(t *Target, reg *registry.Registry, config AnimatorConfig) *Animator {
	if config.Step == 0 {
		config.Step = 1
	}
	return &Animator{target: t, metrics: reg.Metrics(), config: config}
}

// Counter returns the current counter value.
func (a *Animator) Counter() int64 {
	return a.counter
}

// Step advances the animation by one tick.
func (a *Animator) Step() error {
	a.counter += a.config.Step
	a.ticks++
	for _, m := range a.metrics {
		raw := m.Kind().Encode(float64(a.counter))
		if err := a.target.Poke(m.Address, raw); err != nil {
			return fmt.Errorf("animate %s: %w", m.Name(), err)
		}
	}
	if a.config.LogEvery > 0 && a.ticks%a.config.LogEvery == 0 {
		err := a.target.Log(a.config.LogChannel, logstream.Frame{
			Index:  a.config.LogIndex,
			Level:  logstream.LevelInfo,
			Format: "counter at {=i32}",
			Args:   []any{a.counter},
		})
		if err != nil {
			return fmt.Errorf("animate log: %w", err)
		}
	}
	return nil
}

// Run steps every interval until ctx is done.
func (a *Animator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.Step(); err != nil {
				return err
			}
		}
	}
}
