package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	ccsifthttp "github.com/ligustah/ccsift/internal/http"
	"github.com/ligustah/ccsift/internal/progress"
)

// Errors returned by Probe and Open. Both are fatal for the resource.
var (
	ErrRangeNotSupported = errors.New("downloader: server does not support range requests")
	ErrUnknownLength     = errors.New("downloader: resource length unknown")
)

// Fetcher fetches one inclusive byte range of a resource.
type Fetcher interface {
	GetRange(ctx context.Context, url string, start, end int64) (*ccsifthttp.RangeResponse, error)
}

// Prober reports resource metadata.
type Prober interface {
	Head(ctx context.Context, url string) (*ccsifthttp.FileInfo, error)
}

// Client is what Open needs from an HTTP client.
type Client interface {
	Fetcher
	Prober
}

// Options configures the downloader.
type Options struct {
	// ChunkSize is the size of each range request. Zero means one hundredth
	// of the resource.
	ChunkSize int64

	// Concurrency caps chunks that are in flight or waiting for reassembly.
	// Default: 100
	Concurrency int

	// QueueSize is the capacity of the ordered output channel.
	// Default: 10000
	QueueSize int

	// Strict makes Reader fail at the first error chunk. When false, error
	// chunks are logged and skipped.
	Strict bool

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// Logger receives chunk-level diagnostics. Default: slog.Default()
	Logger *slog.Logger
}

func (o Options) withDefaults(totalSize int64) Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize(totalSize)
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 100
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 10000
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Probe fetches resource metadata and checks that it can be range-read.
func Probe(ctx context.Context, p Prober, url string) (*ccsifthttp.FileInfo, error) {
	info, err := p.Head(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", url, err)
	}
	if !info.AcceptsRanges {
		return nil, ErrRangeNotSupported
	}
	if info.Size < 0 {
		return nil, ErrUnknownLength
	}
	return info, nil
}

// Download fetches [0, totalSize-1] in chunks and returns them strictly in
// index order. Each chunk request produces exactly one Chunk, carrying either
// its bytes or its error. The channel is closed after the last chunk, or
// early when ctx is done.
//
// A permit is taken before each fetch and returned only when the chunk has
// been handed to the output channel, so fetched-but-unordered data never
// exceeds Concurrency chunks.
func Download(ctx context.Context, fetcher Fetcher, url string, totalSize int64, opts Options) <-chan Chunk {
	opts = opts.withDefaults(totalSize)

	n := ChunkCount(totalSize, opts.ChunkSize)
	out := make(chan Chunk, opts.QueueSize)
	results := make(chan Chunk, opts.Concurrency)
	sem := semaphore.NewWeighted(int64(opts.Concurrency))

	// Supervisor: walk indices in order, one fetch per permit.
	go func() {
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			close(results)
		}()

		for i := 0; i < n; i++ {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			req := RequestAt(totalSize, opts.ChunkSize, i)

			wg.Add(1)
			go func() {
				defer wg.Done()
				c := fetchChunk(ctx, fetcher, url, req, opts)
				select {
				case results <- c:
				case <-ctx.Done():
				}
			}()
		}
	}()

	// Reassembler: sole owner of the buffer.
	go func() {
		defer close(out)

		buf := NewBuffer()
		for c := range results {
			buf.Put(c)
			for {
				next, ok := buf.Pop()
				if !ok {
					break
				}
				select {
				case out <- next:
					sem.Release(1)
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// fetchChunk performs one range request and reads the whole body.
func fetchChunk(ctx context.Context, fetcher Fetcher, url string, req ChunkRequest, opts Options) Chunk {
	if opts.Progress != nil {
		opts.Progress.ChunkStarted()
	}

	data, err := readRange(ctx, fetcher, url, req)
	if err != nil {
		if opts.Progress != nil {
			opts.Progress.ChunkFailed()
		}
		if ctx.Err() == nil {
			opts.Logger.Debug("chunk failed", "url", url, "chunk", req.Index, "start", req.Start, "end", req.End, "error", err)
		}
		return Chunk{Index: req.Index, Err: fmt.Errorf("chunk %d: %w", req.Index, err)}
	}

	if opts.Progress != nil {
		opts.Progress.ChunkCompleted(int64(len(data)))
	}
	return Chunk{Index: req.Index, Data: data}
}

func readRange(ctx context.Context, fetcher Fetcher, url string, req ChunkRequest) ([]byte, error) {
	resp, err := fetcher.GetRange(ctx, url, req.Start, req.End)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data := make([]byte, req.Length())
	if _, err := io.ReadFull(resp.Body, data); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}
