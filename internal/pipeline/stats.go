package pipeline

import (
	"log/slog"
	"sync/atomic"

	"github.com/ligustah/ccsift/internal/curate"
)

// Stats counts what happened to the items of one stream.
type Stats struct {
	Records       atomic.Int64
	Responses     atomic.Int64
	Undecodable   atomic.Int64
	BadEnvelope   atomic.Int64
	BadStatus     atomic.Int64
	NotHTML       atomic.Int64
	Documents     atomic.Int64
	Units         atomic.Int64
	SkippedChunks atomic.Int64

	rejected [curate.RejectedNoUnits + 1]atomic.Int64
}

// Rejected returns the number of documents that ended with reason r.
// Rejected(curate.Accepted) is the number of documents that produced units.
func (s *Stats) Rejected(r curate.Reason) int64 {
	if r < 0 || int(r) >= len(s.rejected) {
		return 0
	}
	return s.rejected[r].Load()
}

func (s *Stats) reject(r curate.Reason) {
	if r >= 0 && int(r) < len(s.rejected) {
		s.rejected[r].Add(1)
	}
}

// LogValue implements slog.LogValuer.
func (s *Stats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("records", s.Records.Load()),
		slog.Int64("responses", s.Responses.Load()),
		slog.Int64("documents", s.Documents.Load()),
		slog.Int64("units", s.Units.Load()),
	}
	for _, n := range []struct {
		key string
		v   int64
	}{
		{"undecodable", s.Undecodable.Load()},
		{"bad_envelope", s.BadEnvelope.Load()},
		{"bad_status", s.BadStatus.Load()},
		{"not_html", s.NotHTML.Load()},
		{"skipped_chunks", s.SkippedChunks.Load()},
	} {
		if n.v > 0 {
			attrs = append(attrs, slog.Int64(n.key, n.v))
		}
	}
	for r := curate.Accepted; r <= curate.RejectedNoUnits; r++ {
		if v := s.Rejected(r); v > 0 {
			attrs = append(attrs, slog.Int64(r.String(), v))
		}
	}
	return slog.GroupValue(attrs...)
}
