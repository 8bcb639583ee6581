package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// TotalSegments is the number of segments in the run.
	TotalSegments int

	// Concurrency is the fetch concurrency per segment (for display).
	Concurrency int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 2s
	UpdateInterval time.Duration

	// Dataset is the output location (for display).
	Dataset string
}

// Reporter outputs human-readable progress information.
// All counter methods are safe for concurrent use and may be called on a
// Reporter that was never started.
type Reporter struct {
	opts Options

	fetchedBytes      atomic.Int64
	chunksInFlight    atomic.Int32
	chunksFailed      atomic.Int64
	segmentsCompleted atomic.Int32
	segmentsFailed    atomic.Int32
	segmentsSkipped   atomic.Int32
	records           atomic.Int64
	documents         atomic.Int64
	units             atomic.Int64

	mu        sync.Mutex
	startTime time.Time
	lastTick  time.Time
	lastBytes int64
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	stopped   bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 2 * time.Second
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.startTime = time.Now()
	r.lastTick = r.startTime
	r.started = true
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[ccsift] Writing: %s\n", r.opts.Dataset)
	fmt.Fprintf(r.opts.Output, "[ccsift] Segments: %d | Fetch concurrency: %d\n",
		r.opts.TotalSegments, r.opts.Concurrency)

	go r.updateLoop()
}

// Stop stops the reporter and prints the final summary. It is safe to call
// more than once.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// ChunkStarted marks a range request as in flight.
func (r *Reporter) ChunkStarted() {
	r.chunksInFlight.Add(1)
}

// ChunkCompleted records n fetched bytes for a finished range request.
func (r *Reporter) ChunkCompleted(n int64) {
	r.fetchedBytes.Add(n)
	r.chunksInFlight.Add(-1)
}

// ChunkFailed marks a range request as failed.
func (r *Reporter) ChunkFailed() {
	r.chunksFailed.Add(1)
	r.chunksInFlight.Add(-1)
}

// BytesFetched records bytes read outside the ranged downloader.
func (r *Reporter) BytesFetched(n int64) {
	r.fetchedBytes.Add(n)
}

// SegmentCompleted marks a segment as fully processed.
func (r *Reporter) SegmentCompleted() {
	r.segmentsCompleted.Add(1)
}

// SegmentFailed marks a segment as failed after all attempts.
func (r *Reporter) SegmentFailed() {
	r.segmentsFailed.Add(1)
}

// SegmentSkipped marks a segment completed by an earlier run.
func (r *Reporter) SegmentSkipped() {
	r.segmentsSkipped.Add(1)
}

// AddRecords adds n framed records.
func (r *Reporter) AddRecords(n int64) {
	r.records.Add(n)
}

// AddDocuments adds n decoded HTML documents.
func (r *Reporter) AddDocuments(n int64) {
	r.documents.Add(n)
}

// AddUnits adds n curated units.
func (r *Reporter) AddUnits(n int64) {
	r.units.Add(n)
}

// Snapshot is a point-in-time copy of the reporter's counters.
type Snapshot struct {
	FetchedBytes      int64
	ChunksInFlight    int
	ChunksFailed      int64
	SegmentsCompleted int
	SegmentsFailed    int
	SegmentsSkipped   int
	Records           int64
	Documents         int64
	Units             int64
}

// Snapshot returns the current counter values.
func (r *Reporter) Snapshot() Snapshot {
	return Snapshot{
		FetchedBytes:      r.fetchedBytes.Load(),
		ChunksInFlight:    int(r.chunksInFlight.Load()),
		ChunksFailed:      r.chunksFailed.Load(),
		SegmentsCompleted: int(r.segmentsCompleted.Load()),
		SegmentsFailed:    int(r.segmentsFailed.Load()),
		SegmentsSkipped:   int(r.segmentsSkipped.Load()),
		Records:           r.records.Load(),
		Documents:         r.documents.Load(),
		Units:             r.units.Load(),
	}
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	s := r.Snapshot()
	now := time.Now()

	r.mu.Lock()
	elapsed := now.Sub(r.lastTick).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(s.FetchedBytes-r.lastBytes) / elapsed
	r.lastTick = now
	r.lastBytes = s.FetchedBytes
	r.mu.Unlock()

	done := s.SegmentsCompleted + s.SegmentsFailed + s.SegmentsSkipped
	var percent float64
	if r.opts.TotalSegments > 0 {
		percent = float64(done) / float64(r.opts.TotalSegments) * 100
	}

	fmt.Fprintf(r.opts.Output, "[ccsift] Progress: %.1f%% | Segments: %d/%d (%d failed, %d skipped) | Fetched: %s | Speed: %s/s\n",
		percent,
		done,
		r.opts.TotalSegments,
		s.SegmentsFailed,
		s.SegmentsSkipped,
		formatBytes(s.FetchedBytes),
		formatBytes(int64(speed)),
	)
	fmt.Fprintf(r.opts.Output, "[ccsift] Records: %d | Documents: %d | Units: %d | Chunks: %d in-flight, %d failed\n",
		s.Records,
		s.Documents,
		s.Units,
		s.ChunksInFlight,
		s.ChunksFailed,
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	s := r.Snapshot()

	r.mu.Lock()
	duration := time.Since(r.startTime)
	r.mu.Unlock()

	avgSpeed := float64(s.FetchedBytes) / max(duration.Seconds(), 0.001)

	fmt.Fprintf(r.opts.Output, "[ccsift] Segments: %d completed | %d failed | %d skipped\n",
		s.SegmentsCompleted, s.SegmentsFailed, s.SegmentsSkipped)
	fmt.Fprintf(r.opts.Output, "[ccsift] Records: %d | Documents: %d | Units: %d\n",
		s.Records, s.Documents, s.Units)
	fmt.Fprintf(r.opts.Output, "[ccsift] Total time: %s | Fetched: %s | Average speed: %s/s\n",
		formatDuration(duration),
		formatBytes(s.FetchedBytes),
		formatBytes(int64(avgSpeed)),
	)
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes is exported for use by other packages.
func FormatBytes(b int64) string {
	return formatBytes(b)
}

// ParseBytes parses a human-readable byte string (e.g., "256MB").
// Units are binary: 1KB is 1024 bytes.
func ParseBytes(s string) (int64, error) {
	var multiplier int64 = 1
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)

	switch {
	case strings.HasSuffix(upper, "TB"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "B"):
		s = s[:len(s)-1]
	}

	var value float64
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &value); err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative byte string: %s", s)
	}

	return int64(value * float64(multiplier)), nil
}
