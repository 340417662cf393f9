package commands

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/probeplot/probeplot-go/pkg/capture"
	"github.com/probeplot/probeplot-go/pkg/logstream"
)

var testTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func createTestCapture(t *testing.T, events []capture.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pplog")

	sink, err := capture.NewFileSink(path)
	if err != nil {
		t.Fatalf("failed to create sink: %v", err)
	}
	for _, e := range events {
		sink.Emit(e)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("failed to close sink: %v", err)
	}
	return path
}

func sampleEvents() []capture.Event {
	at := func(ms int) time.Time { return testTime.Add(time.Duration(ms) * time.Millisecond) }
	return []capture.Event{
		{Timestamp: at(0), SessionID: "5e55a7c1-0000", Category: capture.CategoryState,
			StateChange: &capture.StateChangeEvent{NewState: "ATTACHED"}},
		{Timestamp: at(10), SessionID: "5e55a7c1-0000", Category: capture.CategoryObservation,
			Observation: &capture.ObservationEvent{Name: "FOO", Value: 42, Source: capture.SourceMetric}},
		{Timestamp: at(20), SessionID: "5e55a7c1-0000", Category: capture.CategoryObservation,
			Observation: &capture.ObservationEvent{Name: "FOO", Value: 44, Source: capture.SourceMetric}},
		{Timestamp: at(20), SessionID: "5e55a7c1-0000", Category: capture.CategoryObservation,
			Observation: &capture.ObservationEvent{Name: "SUM", Value: 1.5, Source: capture.SourceGraph}},
		{Timestamp: at(30), SessionID: "5e55a7c1-0000", Category: capture.CategoryLog,
			Log: &capture.LogEvent{Level: logstream.LevelInfo, Text: "counter at 3", File: "src/main.rs", Line: 24, Module: "demo"}},
		{Timestamp: at(35), SessionID: "5e55a7c1-0000", Category: capture.CategoryLog,
			Log: &capture.LogEvent{Level: logstream.LevelWarn, Text: "overheating"}},
		{Timestamp: at(40), SessionID: "5e55a7c1-0000", Category: capture.CategoryWrite,
			Write: &capture.WriteEvent{Name: "GAIN", Requested: 9.6, Written: 10, Address: 0x20000004}},
		{Timestamp: at(50), SessionID: "5e55a7c1-0000", Category: capture.CategoryError,
			Error: &capture.ErrorEventData{Phase: "read", Entry: "FOO", Message: "timeout"}},
	}
}

func TestViewFormatsEvents(t *testing.T) {
	path := createTestCapture(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"2026-03-14T09:26:53.000000Z [session:5e55a7c1] STATE",
		"-> ATTACHED",
		"METRIC FOO = 42",
		"GRAPH SUM = 1.5",
		"INFO  counter at 3",
		"└─ src/main.rs:24 (demo)",
		"└─ " + logstream.LocationUnavailable,
		"GAIN <- 10 (requested 9.6) at 0x20000004",
		"read phase, FOO: timeout",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestViewFilters(t *testing.T) {
	path := createTestCapture(t, sampleEvents())

	logCat := capture.CategoryLog
	warn := logstream.LevelWarn
	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{Category: &logCat, MinLevel: &warn}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "overheating") {
		t.Error("expected warn record")
	}
	if strings.Contains(out, "counter at") {
		t.Error("info record should be filtered")
	}
	if strings.Contains(out, "FOO") {
		t.Error("observations should be filtered")
	}

	buf.Reset()
	if err := RunView(path, ViewFilter{Name: "FOO"}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	if got := strings.Count(buf.String(), "METRIC FOO"); got != 2 {
		t.Errorf("expected 2 FOO observations, got %d", got)
	}
}

func TestParseFlags(t *testing.T) {
	c, err := ParseCategoryFlag("write")
	if err != nil || c != capture.CategoryWrite {
		t.Errorf("ParseCategoryFlag(write) = %v, %v", c, err)
	}
	if _, err := ParseCategoryFlag("frames"); err == nil {
		t.Error("expected error for unknown category")
	}
	l, err := ParseLevelFlag("Warn")
	if err != nil || l != logstream.LevelWarn {
		t.Errorf("ParseLevelFlag(Warn) = %v, %v", l, err)
	}
}

func TestExportJSONL(t *testing.T) {
	path := createTestCapture(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, "jsonl", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != len(sampleEvents()) {
		t.Fatalf("expected %d lines, got %d", len(sampleEvents()), len(lines))
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if rec["category"] != "OBSERVATION" || rec["name"] != "FOO" || rec["value"] != 42.0 || rec["source"] != "METRIC" {
		t.Errorf("unexpected observation record: %v", rec)
	}

	if err := json.Unmarshal([]byte(lines[4]), &rec); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if rec["location"] != "src/main.rs:24 (demo)" || rec["level"] != "INFO" {
		t.Errorf("unexpected log record: %v", rec)
	}
}

func TestExportJSONLNonFinite(t *testing.T) {
	events := []capture.Event{
		{Timestamp: testTime, Category: capture.CategoryObservation,
			Observation: &capture.ObservationEvent{Name: "RATIO", Value: math.Inf(1), Source: capture.SourceGraph}},
		{Timestamp: testTime, Category: capture.CategoryObservation,
			Observation: &capture.ObservationEvent{Name: "RATIO", Value: math.NaN(), Source: capture.SourceGraph}},
	}
	path := createTestCapture(t, events)
	out := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, "jsonl", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	for i, want := range []string{"+Inf", "NaN"} {
		var rec map[string]any
		if err := json.Unmarshal([]byte(lines[i]), &rec); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if _, ok := rec["value"]; ok || rec["nonFinite"] != want {
			t.Errorf("line %d: unexpected record %v, want nonFinite %s", i, rec, want)
		}
	}
}

func TestExportCSV(t *testing.T) {
	path := createTestCapture(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.csv")

	if err := RunExport(path, "csv", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	// header, three observations, one write
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d:\n%s", len(lines), data)
	}
	if lines[0] != "timestamp,session_id,category,name,value,source" {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.HasSuffix(lines[4], "WRITE,GAIN,10,write") {
		t.Errorf("unexpected write row: %s", lines[4])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestCapture(t, sampleEvents())
	if err := RunExport(path, "xml", filepath.Join(t.TempDir(), "out")); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestFilterWritesMatchingEvents(t *testing.T) {
	path := createTestCapture(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "foo.pplog")

	count, err := RunFilter(path, FilterOptions{Output: out, Name: "FOO"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 events, got %d", count)
	}

	stats, err := CollectStats(out)
	if err != nil {
		t.Fatalf("CollectStats failed: %v", err)
	}
	if stats.TotalEvents != 2 || stats.Series["FOO"] == nil {
		t.Errorf("unexpected filtered contents: %+v", stats)
	}
}

func TestFilterTimeRange(t *testing.T) {
	path := createTestCapture(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "window.pplog")

	count, err := RunFilter(path, FilterOptions{
		Output:    out,
		TimeStart: testTime.Add(20 * time.Millisecond).Format(time.RFC3339Nano),
		TimeEnd:   testTime.Add(40 * time.Millisecond).Format(time.RFC3339Nano),
	})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	// 20ms twice, 30ms and 35ms; the end is exclusive
	if count != 4 {
		t.Errorf("expected 4 events, got %d", count)
	}

	if _, err := RunFilter(path, FilterOptions{Output: out, TimeStart: "yesterday"}); err == nil {
		t.Error("expected error for invalid time")
	}
	if _, err := RunFilter(path, FilterOptions{Output: out, MinLevel: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestStats(t *testing.T) {
	path := createTestCapture(t, sampleEvents())

	stats, err := CollectStats(path)
	if err != nil {
		t.Fatalf("CollectStats failed: %v", err)
	}
	if stats.TotalEvents != 8 {
		t.Errorf("TotalEvents = %d, want 8", stats.TotalEvents)
	}
	foo := stats.Series["FOO"]
	if foo == nil || foo.Count != 2 || foo.Min != 42 || foo.Max != 44 || foo.Mean() != 43 || foo.Last != 44 {
		t.Errorf("unexpected FOO series: %+v", foo)
	}
	if stats.LogsByLevel[logstream.LevelWarn] != 1 || stats.Writes != 1 || stats.Errors != 1 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	if s := stats.Sessions["5e55a7c1-0000"]; s == nil || s.LastState != "ATTACHED" || s.Events != 8 {
		t.Errorf("unexpected session stats: %+v", s)
	}

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Total Events: 8", "OBSERVATION:", "WARN:", "FOO", "[5e55a7c1] 8 events", "Setting Writes: 1", "Errors: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.pplog")
	if err := RunView(missing, ViewFilter{}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := CollectStats(missing); err == nil {
		t.Error("expected error for missing file")
	}
}
