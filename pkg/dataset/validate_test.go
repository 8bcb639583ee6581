package dataset

import (
	"context"
	"testing"
)

func TestValidate(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	f, _ := Write(ctx, bucket, "out", WithTotal(2))
	writePart(t, f, "seg-0", "aaaa", 2)
	writePart(t, f, "seg-1", "bb", 1)
	f.Complete(ctx)

	res, err := Validate(ctx, bucket, "out", true)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Valid || res.PartCount != 2 || res.TotalUnits != 3 || res.TotalSize != 6 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestValidateMissingPart(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	f, _ := Write(ctx, bucket, "out", WithTotal(2))
	writePart(t, f, "seg-0", "aaaa", 2)
	writePart(t, f, "seg-1", "bb", 1)
	f.Complete(ctx)

	bucket.Delete(ctx, "out.parts/part-000001.jsonl.zst")

	res, err := Validate(ctx, bucket, "out", false)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Valid || res.MissingParts != 1 || len(res.Errors) != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestValidateSizeMismatch(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	f, _ := Write(ctx, bucket, "out", WithTotal(1))
	writePart(t, f, "seg-0", "aaaa", 2)
	f.Complete(ctx)

	bucket.WriteAll(ctx, "out.parts/part-000000.jsonl.zst", []byte("a"), nil)

	res, err := Validate(ctx, bucket, "out", true)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Valid || res.SizeMismatches != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestValidateNonExistent(t *testing.T) {
	bucket := openBucket(t)
	if _, err := Validate(context.Background(), bucket, "missing", false); err == nil {
		t.Error("expected error for missing manifest")
	}
}
