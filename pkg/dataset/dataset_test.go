package dataset

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"
)

func openBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

// writePart writes data into the next part and closes it.
func writePart(t *testing.T, f *File, segment, data string, units int64) *Part {
	t.Helper()
	p, err := f.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	p.SetSegment(segment)
	if _, err := p.Write([]byte(data)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	p.AddUnits(units)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return p
}

func TestWriteAndRead(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	f, err := Write(ctx, bucket, "ja/out",
		WithTotal(3),
		WithMetadata(map[string]string{"language": "ja"}),
	)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	writePart(t, f, "seg-0", "alpha\n", 1)
	writePart(t, f, "seg-1", "beta\ngamma\n", 2)
	writePart(t, f, "seg-2", "delta\n", 1)

	if _, err := f.Next(ctx); err != io.EOF {
		t.Fatalf("expected io.EOF after all parts, got %v", err)
	}

	manifest, err := f.Complete(ctx)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if manifest.TotalUnits != 4 || len(manifest.Parts) != 3 {
		t.Errorf("unexpected manifest: %+v", manifest)
	}
	if manifest.RunID == "" {
		t.Error("expected a run id")
	}
	if manifest.Parts[1].Object != "part-000001.jsonl.zst" || manifest.Parts[1].Segment != "seg-1" {
		t.Errorf("unexpected part 1: %+v", manifest.Parts[1])
	}

	if exists, _ := bucket.Exists(ctx, "ja/out.parts/state.json"); exists {
		t.Error("state file should be removed on completion")
	}

	r, err := Open(ctx, bucket, "ja/out", WithVerifyChecksum(true))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "alpha\nbeta\ngamma\ndelta\n" {
		t.Errorf("read %q", got)
	}
	if r.Manifest().Metadata["language"] != "ja" {
		t.Errorf("unexpected metadata: %v", r.Manifest().Metadata)
	}
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	f1, err := Write(ctx, bucket, "out", WithTotal(3))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	writePart(t, f1, "seg-0", "zero\n", 1)
	writePart(t, f1, "seg-1", "one\n", 1)

	// Interrupted while writing part 2.
	p, err := f1.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	p.Write([]byte("partial"))
	if err := f1.SaveState(ctx); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	runID := f1.RunID()

	f2, err := Write(ctx, bucket, "out", WithTotal(3))
	if err != nil {
		t.Fatalf("Write (resume): %v", err)
	}
	if f2.CompletedCount() != 2 || f2.CompletedUnits() != 2 {
		t.Errorf("expected 2 completed parts, got %d (%d units)", f2.CompletedCount(), f2.CompletedUnits())
	}
	if f2.RunID() != runID {
		t.Errorf("run id changed on resume: %s -> %s", runID, f2.RunID())
	}

	for i := 0; i < 2; i++ {
		p, err := f2.Next(ctx)
		if !errors.Is(err, ErrPartFilled) {
			t.Fatalf("part %d: expected ErrPartFilled, got %v", i, err)
		}
		if p.Info() == nil || p.Info().Units != 1 {
			t.Errorf("part %d: expected stored info, got %+v", i, p.Info())
		}
	}
	writePart(t, f2, "seg-2", "two\n", 1)

	if _, err := f2.Complete(ctx); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	r, err := Open(ctx, bucket, "out")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	got, _ := io.ReadAll(r)
	if string(got) != "zero\none\ntwo\n" {
		t.Errorf("read %q", got)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	f1, _ := Write(ctx, bucket, "out", WithTotal(2))
	writePart(t, f1, "seg-0", "old\n", 1)
	f1.SaveState(ctx)

	f2, err := Write(ctx, bucket, "out", WithTotal(2))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	oldRun := f2.RunID()
	if err := f2.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if f2.CompletedCount() != 0 {
		t.Errorf("expected no completed parts after reset, got %d", f2.CompletedCount())
	}
	if f2.RunID() == oldRun {
		t.Error("expected a new run id after reset")
	}
	if exists, _ := bucket.Exists(ctx, "out.parts/part-000000.jsonl.zst"); exists {
		t.Error("expected old part to be deleted")
	}

	p, err := f2.Next(ctx)
	if err != nil {
		t.Fatalf("Next after reset: %v", err)
	}
	if p.Index() != 0 {
		t.Errorf("expected index 0, got %d", p.Index())
	}
}

func TestCheckMetadata(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	f1, _ := Write(ctx, bucket, "out", WithMetadata(map[string]string{"language": "ja", "format": "jsonl"}))
	f1.SaveState(ctx)

	same, _ := Write(ctx, bucket, "out", WithMetadata(map[string]string{"language": "ja", "format": "jsonl"}))
	if err := same.CheckMetadata("language", "format"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	changed, _ := Write(ctx, bucket, "out", WithMetadata(map[string]string{"language": "ko", "format": "jsonl"}))
	if err := changed.CheckMetadata("language", "format"); !errors.Is(err, ErrSourceChanged) {
		t.Errorf("expected ErrSourceChanged, got %v", err)
	}
}

func TestTruncate(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	f, _ := Write(ctx, bucket, "out", WithTotal(1))
	p, _ := f.Next(ctx)
	p.Write([]byte("first attempt"))
	p.AddUnits(5)
	if err := p.Truncate(); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	p.Write([]byte("second"))
	p.AddUnits(1)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	manifest, err := f.Complete(ctx)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if manifest.Parts[0].Size != 6 || manifest.Parts[0].Units != 1 {
		t.Errorf("unexpected part: %+v", manifest.Parts[0])
	}
	data, _ := bucket.ReadAll(ctx, "out.parts/part-000000.jsonl.zst")
	if string(data) != "second" {
		t.Errorf("part content = %q", data)
	}
}

func TestFailAndEmptyParts(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	f, _ := Write(ctx, bucket, "out", WithTotal(3))

	p0, _ := f.Next(ctx)
	p0.SetSegment("seg-0")
	p0.Write([]byte("lost"))
	p0.Fail(errors.New("warc: truncated record"))

	p1, _ := f.Next(ctx)
	if err := p1.Close(); err != nil {
		t.Fatalf("Close empty part: %v", err)
	}

	writePart(t, f, "seg-2", "kept\n", 1)

	manifest, err := f.Complete(ctx)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if manifest.Parts[0].Object != "" || !strings.Contains(manifest.Parts[0].Error, "truncated") {
		t.Errorf("expected failed part 0, got %+v", manifest.Parts[0])
	}
	if manifest.Parts[0].Segment != "seg-0" {
		t.Errorf("expected failed part to keep its segment, got %+v", manifest.Parts[0])
	}
	if manifest.Parts[1].Object == "" || manifest.Parts[1].Size != 0 {
		t.Errorf("expected empty completed part 1, got %+v", manifest.Parts[1])
	}
	if exists, _ := bucket.Exists(ctx, "out.parts/part-000000.jsonl.zst"); exists {
		t.Error("failed part should not leave an object")
	}
	if manifest.Incomplete() != 1 {
		t.Errorf("Incomplete = %d, want 1", manifest.Incomplete())
	}
	if exists, _ := bucket.Exists(ctx, "out.parts/state.json"); !exists {
		t.Error("state should be kept while a part is missing")
	}

	r, _ := Open(ctx, bucket, "out", WithVerifyChecksum(true))
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "kept\n" {
		t.Errorf("read %q", got)
	}

	res, err := Validate(ctx, bucket, "out", true)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Valid || res.FailedParts != 1 {
		t.Errorf("unexpected validation: %+v", res)
	}
}

func TestFailedPartRetriedOnResume(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	f1, _ := Write(ctx, bucket, "out", WithTotal(1))
	p, _ := f1.Next(ctx)
	p.Fail(errors.New("boom"))
	f1.SaveState(ctx)

	f2, _ := Write(ctx, bucket, "out", WithTotal(1))
	if _, err := f2.Next(ctx); err != nil {
		t.Errorf("expected failed part to be retried, got %v", err)
	}
}

func TestRetryAfterIncompleteRun(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	f1, _ := Write(ctx, bucket, "out", WithTotal(2))
	writePart(t, f1, "seg-0", "a\n", 1)
	p, _ := f1.Next(ctx)
	p.SetSegment("seg-1")
	p.Fail(errors.New("boom"))
	if _, err := f1.Complete(ctx); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	f2, _ := Write(ctx, bucket, "out", WithTotal(2))
	if !f2.Resumed() {
		t.Error("expected the kept state to be loaded")
	}
	if _, err := f2.Next(ctx); !errors.Is(err, ErrPartFilled) {
		t.Fatalf("expected part 0 to be filled, got %v", err)
	}
	p, err := f2.Next(ctx)
	if err != nil {
		t.Fatalf("expected part 1 to be retried, got %v", err)
	}
	p.SetSegment("seg-1")
	p.Write([]byte("b\n"))
	p.AddUnits(1)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	manifest, err := f2.Complete(ctx)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if manifest.Incomplete() != 0 || manifest.TotalUnits != 2 {
		t.Errorf("unexpected manifest: %+v", manifest)
	}
	if exists, _ := bucket.Exists(ctx, "out.parts/state.json"); exists {
		t.Error("state should be removed once every part is complete")
	}
}

func TestReaderChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	f, _ := Write(ctx, bucket, "out", WithTotal(1))
	writePart(t, f, "seg-0", "original", 1)
	f.Complete(ctx)

	bucket.WriteAll(ctx, "out.parts/part-000000.jsonl.zst", []byte("tampered"), nil)

	r, _ := Open(ctx, bucket, "out", WithVerifyChecksum(true))
	defer r.Close()
	if _, err := io.ReadAll(r); err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Errorf("expected checksum mismatch, got %v", err)
	}

	res, err := Validate(ctx, bucket, "out", true)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Valid || res.ChecksumMismatches != 1 {
		t.Errorf("expected checksum mismatch, got %+v", res)
	}

	// Same size, so a metadata-only validation passes.
	res, _ = Validate(ctx, bucket, "out", false)
	if !res.Valid {
		t.Errorf("expected valid without checksums, got %+v", res)
	}
}

func TestWriteWithoutChecksum(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	f, _ := Write(ctx, bucket, "out", WithTotal(1), WithChecksum(false))
	writePart(t, f, "seg-0", "data", 1)
	manifest, _ := f.Complete(ctx)
	if manifest.Parts[0].Checksum != "" {
		t.Errorf("expected no checksum, got %q", manifest.Parts[0].Checksum)
	}

	r, _ := Open(ctx, bucket, "out", WithVerifyChecksum(true))
	defer r.Close()
	if got, err := io.ReadAll(r); err != nil || !bytes.Equal(got, []byte("data")) {
		t.Errorf("ReadAll = %q, %v", got, err)
	}
}

func TestShouldSaveState(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	f, _ := Write(ctx, bucket, "out", WithStateInterval(2))
	writePart(t, f, "seg-0", "a", 1)
	if f.ShouldSaveState() {
		t.Error("should not save after one part")
	}
	writePart(t, f, "seg-1", "b", 1)
	if !f.ShouldSaveState() {
		t.Error("should save after two parts")
	}
	f.SaveState(ctx)
	if f.ShouldSaveState() {
		t.Error("counter should reset after SaveState")
	}
}

func TestOpenPart(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	f, _ := Write(ctx, bucket, "out", WithTotal(2), WithExt(".parquet"))
	writePart(t, f, "seg-0", "zero", 1)
	writePart(t, f, "seg-1", "one", 1)
	manifest, _ := f.Complete(ctx)

	h, err := OpenPart(ctx, bucket, manifest, 1)
	if err != nil {
		t.Fatalf("OpenPart: %v", err)
	}
	defer h.Close()
	got, _ := io.ReadAll(h)
	if string(got) != "one" || h.Object != "part-000001.parquet" {
		t.Errorf("part 1 = %q (%s)", got, h.Object)
	}

	if _, err := OpenPart(ctx, bucket, manifest, 2); err == nil {
		t.Error("expected out of range error")
	}
}
