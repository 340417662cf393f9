package commands

import (
	"fmt"
	"io"

	"github.com/probeplot/probeplot-go/pkg/capture"
)

// FilterOptions specifies filtering criteria for the filter command.
type FilterOptions struct {
	Output    string
	SessionID string
	Name      string
	TimeStart string
	TimeEnd   string
	Category  string
	MinLevel  string
}

// RunFilter filters the capture file and writes matching events to a new file.
// It returns the number of events written.
func RunFilter(path string, opts FilterOptions) (int, error) {
	filter := capture.Filter{
		SessionID: opts.SessionID,
		Name:      opts.Name,
	}

	var err error
	if filter.TimeStart, err = parseTime("time-start", opts.TimeStart); err != nil {
		return 0, err
	}
	if filter.TimeEnd, err = parseTime("time-end", opts.TimeEnd); err != nil {
		return 0, err
	}

	if opts.Category != "" {
		c, err := ParseCategoryFlag(opts.Category)
		if err != nil {
			return 0, err
		}
		filter.Category = &c
	}

	if opts.MinLevel != "" {
		l, err := ParseLevelFlag(opts.MinLevel)
		if err != nil {
			return 0, err
		}
		filter.MinLevel = &l
	}

	reader, err := capture.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	sink, err := capture.NewFileSink(opts.Output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}
	defer sink.Close()

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to read event: %w", err)
		}
		sink.Emit(event)
		count++
	}
	if n := sink.Errors(); n > 0 {
		return count, fmt.Errorf("failed to write %d events", n)
	}
	return count, nil
}
