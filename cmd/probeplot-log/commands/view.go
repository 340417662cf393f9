// Package commands implements the probeplot-log CLI commands.
package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/probeplot/probeplot-go/pkg/capture"
	"github.com/probeplot/probeplot-go/pkg/logstream"
)

const timeFormat = "2006-01-02T15:04:05.000000Z"

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Category *capture.Category
	Name     string
	MinLevel *logstream.Level
}

func (f ViewFilter) capture() capture.Filter {
	return capture.Filter{Category: f.Category, Name: f.Name, MinLevel: f.MinLevel}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event capture.Event) {
	ts := event.Timestamp.UTC().Format(timeFormat)
	fmt.Fprintf(w, "%s [session:%s] %s\n", ts, shortenID(event.SessionID), event.Category)

	switch {
	case event.Observation != nil:
		o := event.Observation
		fmt.Fprintf(w, "  %s %s = %s\n", o.Source, o.Name, formatValue(o.Value))
	case event.Log != nil:
		for _, line := range strings.Split(event.Log.Record().String(), "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	case event.StateChange != nil:
		s := event.StateChange
		if s.OldState != "" {
			fmt.Fprintf(w, "  %s -> %s", s.OldState, s.NewState)
		} else {
			fmt.Fprintf(w, "  -> %s", s.NewState)
		}
		if s.Reason != "" {
			fmt.Fprintf(w, " (%s)", s.Reason)
		}
		fmt.Fprintln(w)
	case event.Write != nil:
		wr := event.Write
		fmt.Fprintf(w, "  %s <- %s", wr.Name, formatValue(wr.Written))
		if wr.Requested != wr.Written {
			fmt.Fprintf(w, " (requested %s)", formatValue(wr.Requested))
		}
		fmt.Fprintf(w, " at %#x\n", wr.Address)
	case event.Error != nil:
		e := event.Error
		if e.Entry != "" {
			fmt.Fprintf(w, "  %s phase, %s: %s\n", e.Phase, e.Entry, e.Message)
		} else {
			fmt.Fprintf(w, "  %s phase: %s\n", e.Phase, e.Message)
		}
	}

	fmt.Fprintln(w)
}

// shortenID returns the first 8 characters of a session ID.
func shortenID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (capture.Category, error) {
	c, ok := capture.ParseCategory(strings.ToUpper(s))
	if !ok {
		return 0, fmt.Errorf("invalid category: %s (must be observation, log, state, write or error)", s)
	}
	return c, nil
}

// ParseLevelFlag parses a log level string from command-line flag (case-insensitive).
func ParseLevelFlag(s string) (logstream.Level, error) {
	return logstream.ParseLevel(s)
}

// parseTime parses an RFC3339 time flag. Empty yields nil.
func parseTime(flag, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s format: %w", flag, err)
	}
	return &t, nil
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := capture.NewFilteredReader(path, filter.capture())
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
	return nil
}
