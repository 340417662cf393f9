package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/probeplot/probeplot-go/pkg/capture"
)

// exportRecord is the JSON form of one event.
type exportRecord struct {
	Time      string   `json:"time"`
	Session   string   `json:"session"`
	Category  string   `json:"category"`
	Name      string   `json:"name,omitempty"`
	Value     *float64 `json:"value,omitempty"`
	NonFinite string   `json:"nonFinite,omitempty"`
	Source    string   `json:"source,omitempty"`
	Level     string   `json:"level,omitempty"`
	Channel   *int     `json:"channel,omitempty"`
	Text      string   `json:"text,omitempty"`
	Location  string   `json:"location,omitempty"`
	State     string   `json:"state,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	Phase     string   `json:"phase,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// setValue stores v, or names it in NonFinite when JSON cannot carry it.
func (r *exportRecord) setValue(v float64) {
	switch {
	case math.IsNaN(v):
		r.NonFinite = "NaN"
	case math.IsInf(v, 0):
		r.NonFinite = strconv.FormatFloat(v, 'g', -1, 64)
	default:
		r.Value = &v
	}
}

func toExportRecord(event capture.Event) exportRecord {
	rec := exportRecord{
		Time:     event.Timestamp.UTC().Format(timeFormat),
		Session:  event.SessionID,
		Category: event.Category.String(),
	}
	switch {
	case event.Observation != nil:
		rec.Name = event.Observation.Name
		rec.setValue(event.Observation.Value)
		rec.Source = event.Observation.Source.String()
	case event.Log != nil:
		r := event.Log.Record()
		ch := r.Channel
		rec.Level = r.Level.String()
		rec.Channel = &ch
		rec.Text = r.Text
		if !r.Host {
			rec.Location = r.Where()
		}
	case event.StateChange != nil:
		rec.State = event.StateChange.NewState
		rec.Reason = event.StateChange.Reason
	case event.Write != nil:
		rec.Name = event.Write.Name
		rec.setValue(event.Write.Written)
	case event.Error != nil:
		rec.Phase = event.Error.Phase
		rec.Name = event.Error.Entry
		rec.Error = event.Error.Message
	}
	return rec
}

// RunExport exports the capture file to the specified format.
func RunExport(path, format, output string) error {
	reader, err := capture.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "jsonl":
		return exportJSONL(reader, w)
	case "csv":
		return exportCSV(reader, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

func exportJSONL(reader *capture.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(toExportRecord(event)); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

// exportCSV writes one row per observation and setting write, the rows a
// plotting tool needs.
func exportCSV(reader *capture.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"timestamp", "session_id", "category", "name", "value", "source"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		var name, source string
		var value float64
		switch {
		case event.Observation != nil:
			name = event.Observation.Name
			value = event.Observation.Value
			source = event.Observation.Source.String()
		case event.Write != nil:
			name = event.Write.Name
			value = event.Write.Written
			source = "write"
		default:
			continue
		}

		row := []string{
			event.Timestamp.UTC().Format(timeFormat),
			event.SessionID,
			event.Category.String(),
			name,
			strconv.FormatFloat(value, 'g', -1, 64),
			source,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	return cw.Error()
}
