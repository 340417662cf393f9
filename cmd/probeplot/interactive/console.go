// Package interactive provides the interactive command line of probeplot.
package interactive

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/probeplot/probeplot-go/pkg/capture"
	"github.com/probeplot/probeplot-go/pkg/registry"
)

// Controller is the part of the running tool the console drives.
type Controller interface {
	// RequestSetting queues a setting update on the current session.
	RequestSetting(name string, value float64) error

	// Settings returns the current setting snapshot.
	Settings() []registry.SettingState

	// Status describes the current session in one line.
	Status() string
}

// Console is a readline prompt for changing settings and watching values.
// It is also a capture.Sink printing watched observations.
type Console struct {
	ctrl Controller
	rl   *readline.Instance
	out  io.Writer

	mu      sync.Mutex
	watched map[string]bool
	latest  map[string]float64
}

// New creates a console. The controller may be set later with
// SetController.
func New(ctrl Controller) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "probeplot> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return newConsole(ctrl, rl, rl.Stdout()), nil
}

func newConsole(ctrl Controller, rl *readline.Instance, out io.Writer) *Console {
	return &Console{
		ctrl:    ctrl,
		rl:      rl,
		out:     out,
		watched: make(map[string]bool),
		latest:  make(map[string]float64),
	}
}

// SetController sets the controller commands act on. It must be called
// before Run.
func (c *Console) SetController(ctrl Controller) {
	c.ctrl = ctrl
}

// Stderr returns a writer that coordinates with the prompt.
// Use it for log output.
func (c *Console) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Emit implements capture.Sink.
func (c *Console) Emit(event capture.Event) {
	o := event.Observation
	if o == nil {
		return
	}
	c.mu.Lock()
	c.latest[o.Name] = o.Value
	watched := c.watched[o.Name]
	c.mu.Unlock()

	if watched {
		fmt.Fprintf(c.out, "%s = %g\n", o.Name, o.Value)
	}
}

// Run reads commands until quit, EOF or ctx ends, then calls cancel.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
		if !c.Execute(line) {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line. It returns false when the console
// should exit.
func (c *Console) Execute(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "set", "s":
		c.cmdSet(args)
	case "settings", "ls":
		c.cmdSettings()
	case "values", "v":
		c.cmdValues()
	case "watch", "w":
		c.cmdWatch(args, true)
	case "unwatch", "uw":
		c.cmdWatch(args, false)
	case "status":
		fmt.Fprintln(c.out, c.ctrl.Status())
	case "quit", "exit", "q":
		return false
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
probeplot commands:
  set <name> <value>  - Write a setting on the next cycle
  settings            - List settings with range, step and value
  values              - Show the latest value of every entry
  watch <name>...     - Print every change of the named entries
  unwatch <name>...   - Stop printing changes
  status              - Show session state
  quit                - Exit`)
}

func (c *Console) cmdSet(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.out, "Usage: set <name> <value>")
		return
	}
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		fmt.Fprintf(c.out, "Invalid value %q: %v\n", args[1], err)
		return
	}
	for _, s := range c.ctrl.Settings() {
		if s.Name == args[0] && !s.Range.Contains(v) {
			fmt.Fprintf(c.out, "Note: %g is outside the declared range [%g, %g]\n", v, s.Range.Start, s.Range.End)
		}
	}
	if err := c.ctrl.RequestSetting(args[0], v); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "%s <- %g\n", args[0], v)
}

func (c *Console) cmdSettings() {
	settings := c.ctrl.Settings()
	if len(settings) == 0 {
		fmt.Fprintln(c.out, "No settings")
		return
	}
	for _, s := range settings {
		value := "?"
		if !math.IsNaN(s.Value) {
			value = strconv.FormatFloat(s.Value, 'g', -1, 64)
		}
		fmt.Fprintf(c.out, "  %-20s %-4s [%g, %g] step %g = %s\n", s.Name, s.Kind, s.Range.Start, s.Range.End, s.Step, value)
	}
}

func (c *Console) cmdValues() {
	c.mu.Lock()
	names := make([]string, 0, len(c.latest))
	for name := range c.latest {
		names = append(names, name)
	}
	sort.Strings(names)
	values := make([]float64, len(names))
	for i, name := range names {
		values[i] = c.latest[name]
	}
	c.mu.Unlock()

	if len(names) == 0 {
		fmt.Fprintln(c.out, "No values yet")
		return
	}
	for i, name := range names {
		fmt.Fprintf(c.out, "  %-20s %g\n", name, values[i])
	}
}

func (c *Console) cmdWatch(args []string, on bool) {
	if len(args) == 0 {
		fmt.Fprintln(c.out, "Usage: watch|unwatch <name>...")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range args {
		if on {
			c.watched[name] = true
		} else {
			delete(c.watched, name)
		}
	}
}

var _ capture.Sink = (*Console)(nil)
