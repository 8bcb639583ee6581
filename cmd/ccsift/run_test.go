package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"github.com/klauspost/compress/gzip"
	"gocloud.dev/blob"

	"github.com/ligustah/ccsift/internal/config"
	"github.com/ligustah/ccsift/internal/curate"
	"github.com/ligustah/ccsift/internal/downloader"
	"github.com/ligustah/ccsift/internal/htmltext"
	ccsifthttp "github.com/ligustah/ccsift/internal/http"
	"github.com/ligustah/ccsift/internal/langid"
	"github.com/ligustah/ccsift/internal/morph"
	"github.com/ligustah/ccsift/internal/pipeline"
	"github.com/ligustah/ccsift/internal/warc"
	"github.com/ligustah/ccsift/pkg/dataset"
)

const sentence60 = "私たちは毎朝七時に起きて近くの大きな公園をゆっくり散歩してから、家族と一緒に温かい朝ごはんを食べてから駅へと向かいます。"

const japanesePage = `<html><head><title>日本語のテストページ</title></head>
<body><nav><a href="/">ホーム</a></nav><p>` + sentence60 + `</p></body></html>`

// runeTokenizer emits one token per rune: Han and katakana are nouns,
// hiragana are particles, everything else is a symbol.
type runeTokenizer struct{}

func (runeTokenizer) Tokenize(text string) []morph.Token {
	var toks []morph.Token
	for _, r := range text {
		pos := "記号"
		switch {
		case unicode.Is(unicode.Han, r), unicode.Is(unicode.Katakana, r), unicode.IsDigit(r):
			pos = "名詞"
		case unicode.Is(unicode.Hiragana, r):
			pos = "助詞"
		}
		toks = append(toks, morph.Token{Surface: string(r), POS: pos, Base: string(r)})
	}
	return toks
}

type kanaDetector struct{}

func (kanaDetector) Detect(text string) (string, float64) {
	if strings.IndexFunc(text, func(r rune) bool {
		return unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r)
	}) >= 0 {
		return "ja", 0.99
	}
	return "en", 0.99
}

func response(id, uri, body string) *warc.Record {
	return &warc.Record{
		Header: map[string]string{
			warc.FieldType:      warc.TypeResponse,
			warc.FieldRecordID:  "<urn:uuid:" + id + ">",
			warc.FieldTargetURI: uri,
		},
		Content: []byte("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n" + body),
	}
}

func segment(t *testing.T, recs ...*warc.Record) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, rec := range recs {
		zw := gzip.NewWriter(&buf)
		w := warc.NewWriter(zw)
		if err := w.Write(rec); err != nil {
			t.Fatalf("write record: %v", err)
		}
		if err := w.Flush(); err != nil {
			t.Fatalf("flush: %v", err)
		}
		if err := zw.Close(); err != nil {
			t.Fatalf("close gzip: %v", err)
		}
	}
	return buf.Bytes()
}

// segmentServer serves named segments with range support. Segments can be
// added while it runs.
type segmentServer struct {
	*httptest.Server
	mu    sync.Mutex
	files map[string][]byte
}

func newSegmentServer(t *testing.T) *segmentServer {
	t.Helper()
	s := &segmentServer{files: make(map[string][]byte)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		data, ok := s.files[r.URL.Path]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, r.URL.Path, time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *segmentServer) add(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files["/"+name] = data
}

func newTestCurator(t *testing.T, cfg config.Config) *curator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	opts := curate.DefaultOptions()
	opts.Logger = logger
	engine, err := curate.New(htmltext.New(), langid.NewPredictor(kanaDetector{}, 0), runeTokenizer{}, opts)
	if err != nil {
		t.Fatalf("curate.New: %v", err)
	}
	c, err := newCurator(cfg, engine, logger)
	if err != nil {
		t.Fatalf("newCurator: %v", err)
	}
	return c
}

func testConfig(baseURL string) config.Config {
	cfg := config.Default()
	cfg.BaseURL = baseURL
	cfg.Bucket = "mem://"
	cfg.Object = "ja/units"
	cfg.Download.ChunkSize = 128
	cfg.Download.Concurrency = 4
	cfg.Retry.Attempts = 2
	cfg.Retry.Backoff = time.Millisecond
	cfg.Retry.MaxBackoff = time.Millisecond
	return cfg
}

func openMemBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	bkt, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bkt.Close() })
	return bkt
}

func readManifest(t *testing.T, bkt *blob.Bucket, dest string) *dataset.Manifest {
	t.Helper()
	r, err := dataset.Open(context.Background(), bkt, dest)
	if err != nil {
		t.Fatalf("dataset.Open: %v", err)
	}
	defer r.Close()
	return r.Manifest()
}

func exportUnits(t *testing.T, bkt *blob.Bucket, dest string) []pipeline.Unit {
	t.Helper()
	var buf bytes.Buffer
	n, err := exportDataset(context.Background(), bkt, dest, &buf, true)
	if err != nil {
		t.Fatalf("exportDataset: %v", err)
	}

	var units []pipeline.Unit
	dec := json.NewDecoder(&buf)
	for {
		var u pipeline.Unit
		if err := dec.Decode(&u); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("decode export: %v", err)
		}
		units = append(units, u)
	}
	if int64(len(units)) != n {
		t.Errorf("exportDataset counted %d units, wrote %d", n, len(units))
	}
	return units
}

func TestCuratorRunAndResume(t *testing.T) {
	ctx := context.Background()
	server := newSegmentServer(t)
	server.add("crawl/seg-0.warc.gz", segment(t,
		response("1", "https://example.jp/a", japanesePage),
		response("2", "https://example.jp/b", "<html><body>short</body></html>"),
	))
	bkt := openMemBucket(t)
	segments := []string{"crawl/seg-0.warc.gz", "crawl/seg-1.warc.gz"}

	c := newTestCurator(t, testConfig(server.URL))
	if code := c.run(ctx, bkt, segments); code != ExitPartial {
		t.Fatalf("first run exit code = %d, want %d", code, ExitPartial)
	}

	manifest := readManifest(t, bkt, "ja/units")
	if len(manifest.Parts) != 2 || manifest.Incomplete() != 1 {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}
	if p := manifest.Parts[0]; p.Units != 1 || p.Segment != "crawl/seg-0.warc.gz" {
		t.Errorf("unexpected part 0: %+v", p)
	}
	if p := manifest.Parts[1]; p.Object != "" || !strings.Contains(p.Error, "not found") {
		t.Errorf("expected failed part 1, got %+v", p)
	}
	if manifest.Metadata["language"] != "ja" || manifest.Metadata["format"] != "jsonl" {
		t.Errorf("unexpected metadata: %v", manifest.Metadata)
	}

	units := exportUnits(t, bkt, "ja/units")
	want := pipeline.Unit{Segment: "crawl/seg-0.warc.gz", RecordID: "urn:uuid:1", URL: "https://example.jp/a", Text: sentence60}
	if len(units) != 1 || units[0] != want {
		t.Fatalf("exported units = %+v", units)
	}

	// The missing segment appears; only it is fetched again.
	server.add("crawl/seg-1.warc.gz", segment(t,
		response("3", "https://example.jp/c", japanesePage),
	))
	c = newTestCurator(t, testConfig(server.URL))
	if code := c.run(ctx, bkt, segments); code != ExitSuccess {
		t.Fatalf("second run exit code = %d, want %d", code, ExitSuccess)
	}
	if snap := c.reporter.Snapshot(); snap.SegmentsSkipped != 1 || snap.SegmentsCompleted != 1 {
		t.Errorf("unexpected progress: %+v", snap)
	}

	manifest = readManifest(t, bkt, "ja/units")
	if manifest.Incomplete() != 0 || manifest.TotalUnits != 2 {
		t.Errorf("unexpected manifest after resume: %+v", manifest)
	}
	if got := exportUnits(t, bkt, "ja/units"); len(got) != 2 || got[1].RecordID != "urn:uuid:3" {
		t.Errorf("exported units after resume = %+v", got)
	}

	// A finished dataset is left alone.
	c = newTestCurator(t, testConfig(server.URL))
	if code := c.run(ctx, bkt, segments); code != ExitSuccess {
		t.Errorf("third run exit code = %d", code)
	}
}

func TestCuratorRunParquetWholeBody(t *testing.T) {
	ctx := context.Background()
	server := newSegmentServer(t)
	server.add("seg-0.warc.gz", segment(t, response("1", "https://example.jp/a", japanesePage)))
	bkt := openMemBucket(t)

	cfg := testConfig(server.URL)
	cfg.Format = "parquet"
	cfg.Download.Ranged = false
	c := newTestCurator(t, cfg)
	if code := c.run(ctx, bkt, []string{"seg-0.warc.gz"}); code != ExitSuccess {
		t.Fatalf("exit code = %d", code)
	}

	manifest := readManifest(t, bkt, "ja/units")
	if !strings.HasSuffix(manifest.Parts[0].Object, ".parquet") {
		t.Errorf("unexpected part object %q", manifest.Parts[0].Object)
	}
	units := exportUnits(t, bkt, "ja/units")
	if len(units) != 1 || units[0].Text != sentence60 {
		t.Errorf("exported units = %+v", units)
	}
}

func TestCuratorMetadataChanged(t *testing.T) {
	ctx := context.Background()
	server := newSegmentServer(t)
	bkt := openMemBucket(t)

	// Leave state behind with a failed segment.
	c := newTestCurator(t, testConfig(server.URL))
	if code := c.run(ctx, bkt, []string{"missing.warc.gz"}); code != ExitPartial {
		t.Fatalf("exit code = %d, want %d", code, ExitPartial)
	}

	cfg := testConfig(server.URL)
	cfg.Format = "parquet"
	c = newTestCurator(t, cfg)
	if code := c.run(ctx, bkt, []string{"missing.warc.gz"}); code != ExitSourceChanged {
		t.Errorf("exit code = %d, want %d", code, ExitSourceChanged)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{downloader.ErrRangeNotSupported, false},
		{ccsifthttp.ErrNotFound, false},
		{warc.ErrTruncated, true},
		{ccsifthttp.ErrServerError, true},
	}
	for _, tt := range tests {
		if got := retryable(tt.err); got != tt.want {
			t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestSegmentURL(t *testing.T) {
	tests := map[[2]string]string{
		{"https://data.commoncrawl.org/", "crawl-data/a.warc.gz"}: "https://data.commoncrawl.org/crawl-data/a.warc.gz",
		{"https://data.commoncrawl.org", "/crawl-data/a.warc.gz"}: "https://data.commoncrawl.org/crawl-data/a.warc.gz",
		{"https://ignored/", "http://mirror/a.warc.gz"}:           "http://mirror/a.warc.gz",
	}
	for in, want := range tests {
		if got := segmentURL(in[0], in[1]); got != want {
			t.Errorf("segmentURL(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}

func TestReadPaths(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "warc.paths")
	if err := os.WriteFile(plain, []byte("a.warc.gz\n\n  b.warc.gz  \n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := readPaths(plain)
	if err != nil || strings.Join(got, ",") != "a.warc.gz,b.warc.gz" {
		t.Errorf("readPaths = %q, %v", got, err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte("c.warc.gz\n"))
	zw.Close()
	gz := filepath.Join(dir, "warc.paths.gz")
	if err := os.WriteFile(gz, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = readPaths(gz)
	if err != nil || len(got) != 1 || got[0] != "c.warc.gz" {
		t.Errorf("readPaths(gz) = %q, %v", got, err)
	}

	if _, err := readPaths(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRunInvalidArgs(t *testing.T) {
	if code := run(nil); code != ExitInvalidArgs {
		t.Errorf("run(nil) = %d", code)
	}
	if code := run([]string{"bogus"}); code != ExitInvalidArgs {
		t.Errorf("unknown command = %d", code)
	}
	if code := runValidate([]string{"-bucket", "mem://"}); code != ExitInvalidArgs {
		t.Errorf("validate without object = %d", code)
	}
	if code := runExport(nil); code != ExitInvalidArgs {
		t.Errorf("export without flags = %d", code)
	}
	t.Setenv("CCSIFT_PATHS", "")
	if code := runCurate([]string{"-bucket", "mem://"}); code != ExitInvalidArgs {
		t.Errorf("run without paths = %d", code)
	}
}
