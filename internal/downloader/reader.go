package downloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	ccsifthttp "github.com/ligustah/ccsift/internal/http"
)

// Reader exposes an ordered chunk stream as a contiguous byte stream.
type Reader struct {
	ctx    context.Context
	cancel context.CancelFunc
	chunks <-chan Chunk
	strict bool
	logger *slog.Logger
	url    string

	expected int
	seen     int
	cur      []byte
	err      error

	skipped atomic.Int64
}

// Open probes url and starts a ranged download of the whole resource.
// Close must be called to release the download goroutines.
func Open(ctx context.Context, client Client, url string, opts Options) (*Reader, *ccsifthttp.FileInfo, error) {
	info, err := Probe(ctx, client, url)
	if err != nil {
		return nil, nil, err
	}

	opts = opts.withDefaults(info.Size)
	ctx, cancel := context.WithCancel(ctx)

	r := &Reader{
		ctx:      ctx,
		cancel:   cancel,
		chunks:   Download(ctx, client, url, info.Size, opts),
		strict:   opts.Strict,
		logger:   opts.Logger,
		url:      url,
		expected: ChunkCount(info.Size, opts.ChunkSize),
	}
	return r, info, nil
}

// NewReader wraps an ordered chunk channel of expected chunks. Cancel is
// called by Close and may be nil.
func NewReader(chunks <-chan Chunk, expected int, strict bool, cancel context.CancelFunc) *Reader {
	ctx := context.Background()
	if cancel == nil {
		cancel = func() {}
	}
	return &Reader{
		ctx:      ctx,
		cancel:   cancel,
		chunks:   chunks,
		strict:   strict,
		logger:   slog.Default(),
		expected: expected,
	}
}

// Read implements io.Reader. In strict mode it returns the error of the
// first error chunk; otherwise error chunks are skipped. If the chunk
// stream ends before every chunk was seen, Read returns the context error
// or io.ErrUnexpectedEOF.
func (r *Reader) Read(p []byte) (int, error) {
	for len(r.cur) == 0 {
		if r.err != nil {
			return 0, r.err
		}

		c, ok := <-r.chunks
		if !ok {
			switch {
			case r.seen >= r.expected:
				r.err = io.EOF
			case r.ctx.Err() != nil:
				r.err = r.ctx.Err()
			default:
				r.err = fmt.Errorf("downloader: stream ended after %d of %d chunks: %w", r.seen, r.expected, io.ErrUnexpectedEOF)
			}
			continue
		}
		r.seen++

		if c.Err != nil {
			if r.strict {
				r.err = c.Err
				continue
			}
			r.skipped.Add(1)
			r.logger.Warn("skipping failed chunk", "url", r.url, "error", c.Err)
			continue
		}
		r.cur = c.Data
	}

	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}

// Skipped returns the number of error chunks skipped so far.
func (r *Reader) Skipped() int64 {
	return r.skipped.Load()
}

// Close stops the download.
func (r *Reader) Close() error {
	r.cancel()
	return nil
}
