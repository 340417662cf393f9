package commands

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/probeplot/probeplot-go/pkg/capture"
	"github.com/probeplot/probeplot-go/pkg/logstream"
)

// Stats holds aggregate statistics about a capture file.
type Stats struct {
	TotalEvents      int
	EventsByCategory map[capture.Category]int
	LogsByLevel      map[logstream.Level]int
	Series           map[string]*SeriesStats
	Sessions         map[string]*SessionStats
	Writes           int
	Errors           int
	TimeRange        struct {
		Start time.Time
		End   time.Time
	}
}

// SeriesStats summarizes the observations of one name.
type SeriesStats struct {
	Source  capture.Source
	Count   int
	Min     float64
	Max     float64
	Last    float64
	sum     float64
	finite int
}

// Mean returns the mean of the finite observations.
func (s *SeriesStats) Mean() float64 {
	if s.finite == 0 {
		return math.NaN()
	}
	return s.sum / float64(s.finite)
}

func (s *SeriesStats) add(v float64) {
	s.Count++
	s.Last = v
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	if s.finite == 0 || v < s.Min {
		s.Min = v
	}
	if s.finite == 0 || v > s.Max {
		s.Max = v
	}
	s.sum += v
	s.finite++
}

// SessionStats holds statistics for a single session.
type SessionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	LastState string
}

// CollectStats reads the capture file and aggregates its events.
func CollectStats(path string) (*Stats, error) {
	reader, err := capture.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByCategory: make(map[capture.Category]int),
		LogsByLevel:      make(map[logstream.Level]int),
		Series:           make(map[string]*SeriesStats),
		Sessions:         make(map[string]*SessionStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByCategory[event.Category]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		sess, ok := stats.Sessions[event.SessionID]
		if !ok {
			sess = &SessionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
			stats.Sessions[event.SessionID] = sess
		}
		sess.Events++
		if event.Timestamp.After(sess.LastSeen) {
			sess.LastSeen = event.Timestamp
		}

		switch {
		case event.Observation != nil:
			o := event.Observation
			series, ok := stats.Series[o.Name]
			if !ok {
				series = &SeriesStats{Source: o.Source}
				stats.Series[o.Name] = series
			}
			series.add(o.Value)
		case event.Log != nil:
			stats.LogsByLevel[event.Log.Level]++
		case event.StateChange != nil:
			sess.LastState = event.StateChange.NewState
		case event.Write != nil:
			stats.Writes++
		case event.Error != nil:
			stats.Errors++
		}
	}
	return stats, nil
}

// RunStats analyzes the capture file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := CollectStats(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== probeplot Capture Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Millisecond))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for c := capture.CategoryObservation; c <= capture.CategoryError; c++ {
		if count := stats.EventsByCategory[c]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", c.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.LogsByLevel) > 0 {
		fmt.Fprintln(w, "Log Records by Level:")
		for l := logstream.LevelTrace; l <= logstream.LevelError; l++ {
			if count := stats.LogsByLevel[l]; count > 0 {
				fmt.Fprintf(w, "  %-12s %d\n", l.String()+":", count)
			}
		}
		fmt.Fprintln(w)
	}

	if len(stats.Series) > 0 {
		names := make([]string, 0, len(stats.Series))
		for name := range stats.Series {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Fprintln(w, "Series:")
		for _, name := range names {
			s := stats.Series[name]
			fmt.Fprintf(w, "  %-20s %-8s %6d values  min %g  max %g  mean %g  last %g\n",
				name, s.Source, s.Count, s.Min, s.Max, s.Mean(), s.Last)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Sessions: %d\n", len(stats.Sessions))
	if len(stats.Sessions) > 0 {
		type sessionInfo struct {
			id    string
			stats *SessionStats
		}
		sessions := make([]sessionInfo, 0, len(stats.Sessions))
		for id, ss := range stats.Sessions {
			sessions = append(sessions, sessionInfo{id, ss})
		}
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].stats.FirstSeen.Before(sessions[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, s := range sessions {
			duration := s.stats.LastSeen.Sub(s.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s", shortenID(s.id), s.stats.Events, duration)
			if s.stats.LastState != "" {
				fmt.Fprintf(w, ", last state %s", s.stats.LastState)
			}
			fmt.Fprintln(w)
		}
	}

	if stats.Writes > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Setting Writes: %d\n", stats.Writes)
	}
	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
