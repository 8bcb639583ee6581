package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/ccsift/internal/config"
	"github.com/ligustah/ccsift/internal/curate"
	"github.com/ligustah/ccsift/internal/decompress"
	"github.com/ligustah/ccsift/internal/downloader"
	"github.com/ligustah/ccsift/internal/htmltext"
	ccsifthttp "github.com/ligustah/ccsift/internal/http"
	"github.com/ligustah/ccsift/internal/langid"
	"github.com/ligustah/ccsift/internal/morph"
	"github.com/ligustah/ccsift/internal/payload"
	"github.com/ligustah/ccsift/internal/pipeline"
	"github.com/ligustah/ccsift/internal/progress"
	"github.com/ligustah/ccsift/internal/sink"
	"github.com/ligustah/ccsift/pkg/dataset"
)

// runCurate fetches every segment listed in the paths file, curates it and
// stores its units as one dataset part. Completed segments are skipped when
// a run is resumed.
func runCurate(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)

	configPath := fs.String("config", "", "YAML config file")
	paths := fs.String("paths", "", "File listing segment paths, one per line; .gz is decompressed")
	baseURL := fs.String("base-url", "", "Prefix for segment paths (default "+config.DefaultBaseURL+")")
	bucket := fs.String("bucket", "", "Destination bucket URL")
	object := fs.String("object", "", "Destination dataset path")
	language := fs.String("language", "", "Target language tag (default ja)")
	format := fs.String("format", "", "Output format: jsonl or parquet (default jsonl)")
	encodings := fs.String("encodings", "", "Comma separated payload encodings in trial order")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn or error")
	chunkSize := fs.String("chunk-size", "", "Size of each range request (default 1% of the segment)")
	concurrency := fs.Int("concurrency", 0, "Range requests in flight per segment (default 100)")
	wholeBody := fs.Bool("whole-body", false, "Stream each segment with a single GET instead of range requests")
	strict := fs.Bool("strict", false, "Fail a segment at its first failed chunk")
	decompressCmd := fs.String("decompress", "", `External decompressor, e.g. "gzip -dc" (default in-process gzip)`)
	retryAttempts := fs.Int("retry-attempts", 0, "Attempts per segment (default 3)")
	retryBackoff := fs.Duration("retry-backoff", 0, "Initial retry backoff (default 1s)")
	retryMaxBackoff := fs.Duration("retry-max-backoff", 0, "Max retry backoff (default 30s)")
	stateInterval := fs.Int("state-interval", 0, "Persist state every N segments (default 10)")
	postgresDSN := fs.String("postgres", "", "Also copy units into Postgres at this DSN")
	showProgress := fs.Bool("progress", false, "Show progress output")
	force := fs.Bool("force", false, "Force restart, ignoring existing state")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: ccsift run [options]

Fetch crawl segments, curate their HTML responses into text units and store
one dataset part per segment in object storage. Settings come from -config,
then CCSIFT_* environment variables, then flags.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
		cfg = loaded
	}
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	override := config.Config{
		BaseURL:       *baseURL,
		Paths:         *paths,
		Bucket:        *bucket,
		Object:        *object,
		Language:      *language,
		Format:        *format,
		LogLevel:      *logLevel,
		Progress:      *showProgress,
		Force:         *force,
		StateInterval: *stateInterval,
		Download: config.DownloadConfig{
			Concurrency: *concurrency,
			Strict:      *strict,
		},
		Retry: config.RetryConfig{
			Attempts:   *retryAttempts,
			Backoff:    *retryBackoff,
			MaxBackoff: *retryMaxBackoff,
		},
		Postgres: config.PostgresConfig{DSN: *postgresDSN},
	}
	if *chunkSize != "" {
		size, err := progress.ParseBytes(*chunkSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid chunk size: %v\n", err)
			return ExitInvalidArgs
		}
		override.Download.ChunkSize = size
	}
	if *encodings != "" {
		for _, e := range strings.Split(*encodings, ",") {
			if e = strings.TrimSpace(e); e != "" {
				override.Encodings = append(override.Encodings, e)
			}
		}
	}
	if *decompressCmd != "" {
		override.Decompress.Command = strings.Fields(*decompressCmd)
	}

	cfg = cfg.Merge(override)
	if *wholeBody {
		cfg.Download.Ranged = false
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		return ExitInvalidArgs
	}
	level, _ := cfg.Level()
	logger := newLogger(level)

	segments, err := readPaths(cfg.Paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading paths: %v\n", err)
		return ExitSourceNotAccess
	}
	if len(segments) == 0 {
		fmt.Fprintf(os.Stderr, "Error: no segment paths in %s\n", cfg.Paths)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext(true)
	defer cancel()

	bkt, err := blob.OpenBucket(ctx, cfg.Bucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bkt.Close()

	// The analyzer and the language model are loaded once per run.
	cfg.Curation.Logger = logger
	engine, err := newEngine(cfg.Curation)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	c, err := newCurator(cfg, engine, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	if cfg.Postgres.DSN != "" {
		pg, pool, err := sink.OpenPostgres(ctx, cfg.Postgres.DSN, cfg.Postgres.Table)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}
		defer pool.Close()
		c.pg = pg
	}

	return c.run(ctx, bkt, segments)
}

// newEngine builds the curation engine with the HTML converter, whatlanggo
// and the kagome IPA analyzer.
func newEngine(opts curate.Options) (*curate.Engine, error) {
	tok, err := morph.NewKagome()
	if err != nil {
		return nil, err
	}
	pred := langid.NewPredictor(langid.NewWhatlang(), langid.DefaultThreshold)
	return curate.New(htmltext.New(), pred, tok, opts)
}

// curator runs segments through the pipeline into a dataset.
type curator struct {
	cfg      config.Config
	format   sink.Format
	client   pipeline.Client
	opts     pipeline.Options
	pg       *sink.Postgres
	reporter *progress.Reporter
	logger   *slog.Logger
}

func newCurator(cfg config.Config, engine *curate.Engine, logger *slog.Logger) (*curator, error) {
	format, err := sink.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	decoder, err := payload.NewDecoder(cfg.Encodings...)
	if err != nil {
		return nil, err
	}

	spawner := decompress.Gzip()
	if cmd := cfg.Decompress.Command; len(cmd) > 0 {
		spawner = decompress.Command(cmd[0], cmd[1:]...)
	}

	client := ccsifthttp.NewClient(ccsifthttp.Options{
		MaxIdleConnsPerHost: cfg.Download.Concurrency * 2,
		Timeout:             cfg.HTTP.Timeout,
		RetryAttempts:       cfg.HTTP.RetryAttempts,
		RetryBackoff:        cfg.Retry.Backoff,
		RetryMaxBackoff:     cfg.Retry.MaxBackoff,
		RateLimit:           cfg.HTTP.RateLimit,
		RateBurst:           cfg.HTTP.RateBurst,
		UserAgent:           cfg.HTTP.UserAgent,
	})

	return &curator{
		cfg:    cfg,
		format: format,
		client: client,
		opts: pipeline.Options{
			Ranged: cfg.Download.Ranged,
			Download: downloader.Options{
				ChunkSize:   cfg.Download.ChunkSize,
				Concurrency: cfg.Download.Concurrency,
				QueueSize:   cfg.Download.QueueSize,
				Strict:      cfg.Download.Strict,
			},
			Spawner: spawner,
			Decompress: decompress.Options{
				QueueSize: cfg.Download.QueueSize,
			},
			QueueSize: cfg.Download.QueueSize,
			Decoder:   decoder,
			Engine:    engine,
			Logger:    logger,
		},
		logger: logger,
	}, nil
}

// run processes every segment and writes the manifest. Segments are taken
// in order; parallelism lives inside each segment's download.
func (c *curator) run(ctx context.Context, bkt *blob.Bucket, segments []string) int {
	dest := c.cfg.Object
	ds, err := dataset.Write(ctx, bkt, dest,
		dataset.WithExt(c.format.Ext()),
		dataset.WithTotal(len(segments)),
		dataset.WithStateInterval(c.cfg.StateInterval),
		dataset.WithMetadata(map[string]string{
			"language": c.cfg.Language,
			"format":   string(c.format),
			"base_url": c.cfg.BaseURL,
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	if c.cfg.Force {
		if err := ds.Reset(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}
	} else if ds.Resumed() {
		if err := ds.CheckMetadata("language", "format", "base_url"); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintln(os.Stderr, "Use -force to restart from scratch")
			return ExitSourceChanged
		}
		fmt.Fprintf(os.Stderr, "[ccsift] Resuming: %d/%d segments done\n", ds.CompletedCount(), len(segments))
	} else if exists, _ := bkt.Exists(ctx, dest+".manifest.json"); exists {
		fmt.Fprintf(os.Stderr, "[ccsift] Dataset already complete: %s (use -force to rebuild)\n", dest)
		return ExitSuccess
	}

	// Counters are kept even when nothing is printed.
	c.reporter = progress.NewReporter(progress.Options{
		TotalSegments:  len(segments),
		Concurrency:    c.cfg.Download.Concurrency,
		UpdateInterval: 5 * time.Second,
		Dataset:        c.cfg.Bucket + "/" + dest,
	})
	c.opts.Progress = c.reporter
	if c.cfg.Progress {
		c.reporter.Start()
	}
	defer c.reporter.Stop()

	failed := 0
	for {
		part, err := ds.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, dataset.ErrPartFilled) {
			c.reporter.SegmentSkipped()
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return c.interrupted(ds)
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}

		segment := segments[part.Index()]
		err = c.process(ctx, part, segment)
		switch {
		case err == nil:
			if err := part.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: segment %s: %v\n", segment, err)
				c.saveState(ds)
				return ExitStorageError
			}
			c.reporter.SegmentCompleted()
		case ctx.Err() != nil:
			part.Abort()
			return c.interrupted(ds)
		default:
			part.Fail(err)
			failed++
			c.reporter.SegmentFailed()
			c.logger.Error("segment failed", "segment", segment, "error", err)
			fmt.Fprintf(os.Stderr, "[ccsift] Failed: %s: %v\n", segment, err)
		}

		if ds.ShouldSaveState() {
			c.saveState(ds)
		}
	}

	manifest, err := ds.Complete(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Fprintf(os.Stderr, "[ccsift] Run complete: %s/%s (%d units in %d parts)\n",
		c.cfg.Bucket, dest, manifest.TotalUnits, len(manifest.Parts)-manifest.Incomplete())
	fmt.Fprintf(os.Stderr, "[ccsift] Manifest: %s/%s.manifest.json\n", c.cfg.Bucket, dest)
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "[ccsift] %d segments failed; run again to retry them\n", failed)
		return ExitPartial
	}
	return ExitSuccess
}

func (c *curator) interrupted(ds *dataset.File) int {
	c.saveState(ds)
	fmt.Fprintln(os.Stderr, "[ccsift] Run interrupted, state saved for resume")
	return ExitGeneralError
}

// saveState persists state with a fresh context, since the run's context may
// already be cancelled.
func (c *curator) saveState(ds *dataset.File) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ds.SaveState(ctx); err != nil {
		c.logger.Warn("failed to save state", "error", err)
	}
}

// process curates one segment into part, retrying failed attempts with
// backoff. Each retry starts from an empty part.
func (c *curator) process(ctx context.Context, part *dataset.Part, segment string) error {
	part.SetSegment(segment)

	var err error
	for attempt := 1; attempt <= c.cfg.Retry.Attempts; attempt++ {
		if attempt > 1 {
			c.logger.Warn("retrying segment", "segment", segment, "attempt", attempt, "error", err)
			if berr := ccsifthttp.Backoff(ctx, attempt-1, c.cfg.Retry.Backoff, c.cfg.Retry.MaxBackoff); berr != nil {
				return berr
			}
			if terr := part.Truncate(); terr != nil {
				return terr
			}
		}

		var stats *pipeline.Stats
		stats, err = c.attempt(ctx, part, segment)
		if err == nil {
			c.logger.Info("segment completed", "segment", segment, "stats", stats)
			return nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return err
		}
	}
	return err
}

// attempt streams the units of one segment into part and, when configured,
// mirrors them to Postgres.
func (c *curator) attempt(ctx context.Context, part *dataset.Part, segment string) (*pipeline.Stats, error) {
	opts := c.opts
	opts.Segment = segment

	src, err := pipeline.OpenSegment(ctx, c.client, segmentURL(c.cfg.BaseURL, segment), opts)
	if err != nil {
		return nil, err
	}
	stream, err := pipeline.OpenUnits(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	enc, err := sink.NewEncoder(part, c.format)
	if err != nil {
		return stream.Stats(), err
	}

	var n int64
	next := func() (pipeline.Unit, error) {
		u, err := stream.Next(ctx)
		if err != nil {
			return u, err
		}
		if err := enc.Encode(u); err != nil {
			return u, fmt.Errorf("encode unit: %w", err)
		}
		n++
		return u, nil
	}

	if c.pg != nil {
		_, err = c.pg.CopySegment(ctx, segment, next)
	} else {
		for err == nil {
			_, err = next()
		}
		if errors.Is(err, io.EOF) {
			err = nil
		}
	}
	if err != nil {
		enc.Close()
		return stream.Stats(), err
	}
	if err := enc.Close(); err != nil {
		return stream.Stats(), fmt.Errorf("finish part: %w", err)
	}

	part.AddUnits(n)
	return stream.Stats(), nil
}

// retryable reports whether another attempt at a segment can succeed.
func retryable(err error) bool {
	for _, target := range []error{
		downloader.ErrRangeNotSupported,
		downloader.ErrUnknownLength,
		ccsifthttp.ErrNotFound,
		ccsifthttp.ErrForbidden,
		ccsifthttp.ErrUnauthorized,
		pipeline.ErrNoEngine,
	} {
		if errors.Is(err, target) {
			return false
		}
	}
	return true
}

// segmentURL joins base and a segment path. Absolute URLs are used as is.
func segmentURL(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

// readPaths reads one segment path per line, skipping blank lines. A file
// ending in .gz is decompressed, like the published warc.paths.gz lists.
func readPaths(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(name, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		defer zr.Close()
		r = zr
	}

	var paths []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			paths = append(paths, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return paths, nil
}
