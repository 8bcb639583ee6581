package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ligustah/ccsift/internal/curate"
	"github.com/ligustah/ccsift/internal/decompress"
	"github.com/ligustah/ccsift/internal/downloader"
	ccsifthttp "github.com/ligustah/ccsift/internal/http"
	"github.com/ligustah/ccsift/internal/payload"
	"github.com/ligustah/ccsift/internal/progress"
	"github.com/ligustah/ccsift/internal/warc"
)

// ErrNoEngine is returned by OpenUnits when Options.Engine is nil.
var ErrNoEngine = errors.New("pipeline: no curation engine")

// Unit is one curated text unit with its provenance.
type Unit struct {
	Segment  string `json:"segment"`
	RecordID string `json:"record_id"`
	URL      string `json:"url"`
	Text     string `json:"text"`
}

// Document is a decoded HTML response with its record identity.
type Document struct {
	*payload.Document
	RecordID string
	URL      string
}

// Options configures a stream.
type Options struct {
	// Segment names the source in Unit provenance and log lines.
	Segment string

	// Ranged selects the ranged downloader in OpenSegment. When false the
	// segment is streamed with a single GET.
	Ranged bool

	// Download configures the ranged downloader.
	Download downloader.Options

	// Spawner starts the decompressor. Default: decompress.Gzip()
	Spawner decompress.Spawner

	// Decompress configures the decompression pipe.
	Decompress decompress.Options

	// QueueSize bounds the channels between stages.
	// Default: 10000
	QueueSize int

	// Decoder decodes response payloads. Default: payload.NewDecoder()
	Decoder *payload.Decoder

	// Engine curates documents. Required by OpenUnits.
	Engine *curate.Engine

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// Logger receives item-level diagnostics. Default: slog.Default()
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Spawner == nil {
		o.Spawner = decompress.Gzip()
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 10000
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Decompress.Logger == nil {
		o.Decompress.Logger = o.Logger
	}
	if o.Download.Logger == nil {
		o.Download.Logger = o.Logger
	}
	if o.Download.Progress == nil {
		o.Download.Progress = o.Progress
	}
	return o
}

// Client is what OpenSegment needs from an HTTP client.
type Client interface {
	downloader.Client
	Get(ctx context.Context, url string) (io.ReadCloser, error)
}

var _ Client = (*ccsifthttp.Client)(nil)

// OpenSegment opens the compressed bytes of the segment at url, either
// through the ranged downloader or as one GET body.
func OpenSegment(ctx context.Context, client Client, url string, opts Options) (io.ReadCloser, error) {
	opts = opts.withDefaults()
	if opts.Ranged {
		r, _, err := downloader.Open(ctx, client, url, opts.Download)
		if err != nil {
			return nil, err
		}
		return r, nil
	}

	body, err := client.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return &countingReader{ReadCloser: body, progress: opts.Progress}, nil
}

// countingReader reports whole-body bytes to the progress reporter.
type countingReader struct {
	io.ReadCloser
	progress *progress.Reporter
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if n > 0 && r.progress != nil {
		r.progress.BytesFetched(int64(n))
	}
	return n, err
}

// OpenRecords decompresses src and frames it into WARC records. The stream
// owns src and closes it on Close.
func OpenRecords(ctx context.Context, src io.ReadCloser, opts Options) (*Stream[*warc.Record], error) {
	r := newRun(ctx, opts)
	records, err := r.records(src)
	if err != nil {
		r.cancel()
		src.Close()
		return nil, err
	}
	return finish(r, records), nil
}

// OpenDocuments yields the decoded HTML responses of src.
func OpenDocuments(ctx context.Context, src io.ReadCloser, opts Options) (*Stream[Document], error) {
	r := newRun(ctx, opts)
	records, err := r.records(src)
	if err != nil {
		r.cancel()
		src.Close()
		return nil, err
	}
	docs, err := r.documents(records)
	if err != nil {
		r.cancel()
		r.g.Wait()
		r.closeAll()
		return nil, err
	}
	return finish(r, docs), nil
}

// OpenUnits yields the curated units of src.
func OpenUnits(ctx context.Context, src io.ReadCloser, opts Options) (*Stream[Unit], error) {
	if opts.Engine == nil {
		src.Close()
		return nil, ErrNoEngine
	}
	r := newRun(ctx, opts)
	records, err := r.records(src)
	if err != nil {
		r.cancel()
		src.Close()
		return nil, err
	}
	docs, err := r.documents(records)
	if err != nil {
		r.cancel()
		r.g.Wait()
		r.closeAll()
		return nil, err
	}
	return finish(r, r.units(docs)), nil
}

// records starts the decompression pipe and the framing stage.
func (r *run) records(src io.ReadCloser) (<-chan *warc.Record, error) {
	r.closers = append(r.closers, src)

	pipe, err := decompress.New(r.ctx, src, r.opts.Spawner, r.opts.Decompress)
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, pipe)

	out := make(chan *warc.Record, r.opts.QueueSize)
	r.g.Go(func() error {
		defer close(out)
		defer r.noteSkipped(src)

		wr := warc.NewReader(pipe)
		for {
			rec, err := wr.Next()
			if err != nil {
				// A killed decompressor looks like a clean end.
				if ctxErr := r.ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				return fmt.Errorf("segment %s: %w", r.opts.Segment, err)
			}

			r.stats.Records.Add(1)
			if r.opts.Progress != nil {
				r.opts.Progress.AddRecords(1)
			}
			if !send(r.ctx, out, rec) {
				return r.ctx.Err()
			}
		}
	})
	return out, nil
}

func (r *run) noteSkipped(src io.Reader) {
	if s, ok := src.(interface{ Skipped() int64 }); ok {
		r.stats.SkippedChunks.Store(s.Skipped())
	}
}

// documents filters responses and decodes their payloads.
func (r *run) documents(in <-chan *warc.Record) (<-chan Document, error) {
	dec := r.opts.Decoder
	if dec == nil {
		var err error
		if dec, err = payload.NewDecoder(); err != nil {
			return nil, err
		}
	}

	out := make(chan Document, r.opts.QueueSize)
	r.g.Go(func() error {
		defer close(out)
		for rec := range in {
			if rec.Type() != warc.TypeResponse {
				continue
			}
			r.stats.Responses.Add(1)

			doc, err := dec.Decode(rec)
			if err != nil {
				r.countDecodeError(err)
				r.opts.Logger.Debug("skipping record",
					"segment", r.opts.Segment,
					"record", rec.ID(),
					"error", err)
				continue
			}
			if !doc.IsHTML() {
				r.stats.NotHTML.Add(1)
				continue
			}

			r.stats.Documents.Add(1)
			if r.opts.Progress != nil {
				r.opts.Progress.AddDocuments(1)
			}
			item := Document{Document: doc, RecordID: rec.ID(), URL: rec.TargetURI()}
			if !send(r.ctx, out, item) {
				return r.ctx.Err()
			}
		}
		return nil
	})
	return out, nil
}

func (r *run) countDecodeError(err error) {
	switch {
	case errors.Is(err, payload.ErrUndecodable):
		r.stats.Undecodable.Add(1)
	case errors.Is(err, payload.ErrStatus):
		r.stats.BadStatus.Add(1)
	default:
		r.stats.BadEnvelope.Add(1)
	}
}

// units curates documents in record order.
func (r *run) units(in <-chan Document) <-chan Unit {
	out := make(chan Unit, r.opts.QueueSize)
	r.g.Go(func() error {
		defer close(out)
		for doc := range in {
			res := r.opts.Engine.Evaluate(doc.Body)
			r.stats.reject(res.Reason)
			if res.Reason != curate.Accepted {
				r.opts.Logger.Debug("document rejected",
					"segment", r.opts.Segment,
					"record", doc.RecordID,
					"reason", res.Reason)
				continue
			}

			for _, text := range res.Units {
				u := Unit{
					Segment:  r.opts.Segment,
					RecordID: doc.RecordID,
					URL:      doc.URL,
					Text:     text,
				}
				if !send(r.ctx, out, u) {
					return r.ctx.Err()
				}
				r.stats.Units.Add(1)
			}
			if r.opts.Progress != nil {
				r.opts.Progress.AddUnits(int64(len(res.Units)))
			}
		}
		return nil
	})
	return out
}
