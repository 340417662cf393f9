package interactive

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/probeplot/probeplot-go/pkg/capture"
	"github.com/probeplot/probeplot-go/pkg/numeric"
	"github.com/probeplot/probeplot-go/pkg/registry"
	"github.com/probeplot/probeplot-go/pkg/symbol"
)

type fakeController struct {
	requests map[string]float64
	err      error
	settings []registry.SettingState
}

func (f *fakeController) RequestSetting(name string, value float64) error {
	if f.err != nil {
		return f.err
	}
	f.requests[name] = value
	return nil
}

func (f *fakeController) Settings() []registry.SettingState { return f.settings }

func (f *fakeController) Status() string { return "session abc POLLING" }

func newTestConsole() (*Console, *fakeController, *bytes.Buffer) {
	ctrl := &fakeController{
		requests: make(map[string]float64),
		settings: []registry.SettingState{{
			Name: "GAIN", Kind: numeric.KindI8, Range: symbol.Range{Start: -1, End: 7}, Step: 1, Value: math.NaN(),
		}},
	}
	var out bytes.Buffer
	return newConsole(ctrl, nil, &out), ctrl, &out
}

func TestSetCommand(t *testing.T) {
	c, ctrl, out := newTestConsole()

	assert.True(t, c.Execute("set GAIN 3"))
	assert.Equal(t, 3.0, ctrl.requests["GAIN"])
	assert.Contains(t, out.String(), "GAIN <- 3")

	out.Reset()
	c.Execute("set GAIN 9.6")
	assert.Contains(t, out.String(), "outside the declared range")
	assert.Equal(t, 9.6, ctrl.requests["GAIN"])

	out.Reset()
	c.Execute("set GAIN abc")
	assert.Contains(t, out.String(), "Invalid value")

	out.Reset()
	c.Execute("set GAIN")
	assert.Contains(t, out.String(), "Usage: set")

	ctrl.err = errors.New("unknown setting: FOO")
	out.Reset()
	c.Execute("set FOO 1")
	assert.Contains(t, out.String(), "Error: unknown setting: FOO")
}

func TestSettingsCommand(t *testing.T) {
	c, _, out := newTestConsole()
	c.Execute("settings")
	assert.Contains(t, out.String(), "GAIN")
	assert.Contains(t, out.String(), "[-1, 7] step 1 = ?")
}

func TestWatchAndValues(t *testing.T) {
	c, _, out := newTestConsole()

	c.Emit(capture.Event{Observation: &capture.ObservationEvent{Name: "FOO", Value: 1}})
	assert.Empty(t, out.String(), "unwatched values are not printed")

	c.Execute("watch FOO")
	c.Emit(capture.Event{Observation: &capture.ObservationEvent{Name: "FOO", Value: 2}})
	assert.Contains(t, out.String(), "FOO = 2")

	c.Execute("unwatch FOO")
	out.Reset()
	c.Emit(capture.Event{Observation: &capture.ObservationEvent{Name: "FOO", Value: 3}})
	c.Emit(capture.Event{Observation: &capture.ObservationEvent{Name: "BAR", Value: 7}})
	assert.Empty(t, out.String())

	c.Execute("values")
	assert.Contains(t, out.String(), "BAR")
	assert.Contains(t, out.String(), "FOO                  3")
}

func TestOtherCommands(t *testing.T) {
	c, _, out := newTestConsole()

	assert.True(t, c.Execute(""))
	assert.True(t, c.Execute("status"))
	assert.Contains(t, out.String(), "POLLING")

	assert.True(t, c.Execute("frobnicate"))
	assert.Contains(t, out.String(), "Unknown command: frobnicate")

	assert.False(t, c.Execute("quit"))
	assert.False(t, c.Execute("EXIT"))
}
