package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{100, "100 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1024 * 1024, "1.00 MB"},
		{256 * 1024 * 1024, "256.00 MB"},
		{1024 * 1024 * 1024, "1.00 GB"},
		{1024 * 1024 * 1024 * 1024, "1.00 TB"},
	}

	for _, tt := range tests {
		result := FormatBytes(tt.input)
		if result != tt.expected {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"100", 100},
		{"100B", 100},
		{"1KB", 1024},
		{"1.5KB", 1536},
		{"256MB", 256 * 1024 * 1024},
		{"256mb", 256 * 1024 * 1024},
		{" 4 MB ", 4 * 1024 * 1024},
		{"1GB", 1024 * 1024 * 1024},
		{"1TB", 1024 * 1024 * 1024 * 1024},
	}

	for _, tt := range tests {
		result, err := ParseBytes(tt.input)
		if err != nil {
			t.Errorf("ParseBytes(%q): %v", tt.input, err)
			continue
		}
		if result != tt.expected {
			t.Errorf("ParseBytes(%q) = %d, want %d", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytesInvalid(t *testing.T) {
	for _, input := range []string{"invalid", "", "-1MB"} {
		if _, err := ParseBytes(input); err == nil {
			t.Errorf("ParseBytes(%q): expected error", input)
		}
	}
}

func TestReporterCounters(t *testing.T) {
	reporter := NewReporter(Options{TotalSegments: 4})

	reporter.ChunkStarted()
	if got := reporter.Snapshot().ChunksInFlight; got != 1 {
		t.Errorf("expected 1 in-flight, got %d", got)
	}

	reporter.ChunkCompleted(256)
	reporter.ChunkStarted()
	reporter.ChunkFailed()
	reporter.BytesFetched(44)
	reporter.SegmentCompleted()
	reporter.SegmentFailed()
	reporter.SegmentSkipped()
	reporter.AddRecords(10)
	reporter.AddDocuments(3)
	reporter.AddUnits(7)

	s := reporter.Snapshot()
	if s.ChunksInFlight != 0 {
		t.Errorf("expected 0 in-flight, got %d", s.ChunksInFlight)
	}
	if s.ChunksFailed != 1 {
		t.Errorf("expected 1 failed chunk, got %d", s.ChunksFailed)
	}
	if s.FetchedBytes != 300 {
		t.Errorf("expected 300 bytes, got %d", s.FetchedBytes)
	}
	if s.SegmentsCompleted != 1 || s.SegmentsFailed != 1 || s.SegmentsSkipped != 1 {
		t.Errorf("unexpected segment counters: %+v", s)
	}
	if s.Records != 10 || s.Documents != 3 || s.Units != 7 {
		t.Errorf("unexpected item counters: %+v", s)
	}
}

// syncBuffer guards a bytes.Buffer shared with the update goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReporterStartStop(t *testing.T) {
	var out syncBuffer
	reporter := NewReporter(Options{
		TotalSegments:  2,
		Concurrency:    8,
		Output:         &out,
		UpdateInterval: 10 * time.Millisecond,
		Dataset:        "mem://bucket/out",
	})

	reporter.Start()
	reporter.ChunkStarted()
	reporter.ChunkCompleted(2048)
	reporter.AddUnits(5)
	reporter.SegmentCompleted()

	time.Sleep(50 * time.Millisecond)

	reporter.Stop()
	reporter.Stop()

	text := out.String()
	for _, want := range []string{
		"[ccsift] Writing: mem://bucket/out",
		"[ccsift] Progress: 50.0%",
		"Units: 5",
		"[ccsift] Segments: 1 completed | 0 failed | 0 skipped",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestReporterStopWithoutStart(t *testing.T) {
	reporter := NewReporter(Options{})
	reporter.Stop()
}
