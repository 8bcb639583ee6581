package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"gocloud.dev/blob"
)

// ValidationResult contains the results of validating a dataset.
type ValidationResult struct {
	Valid              bool     // true if all parts exist with matching sizes (and checksums when verified)
	TotalUnits         int64    // total units from manifest
	TotalSize          int64    // total size from manifest
	PartCount          int      // number of parts in manifest
	FailedParts        int      // parts whose segment failed during the run
	MissingParts       int      // parts that don't exist
	SizeMismatches     int      // parts with wrong size
	ChecksumMismatches int      // parts whose content hash differs
	Errors             []string // detailed error messages
}

// Validate checks that every completed part of a dataset exists with the
// recorded size. With verifyChecksums it also downloads each part and
// compares its SHA-256. Failed segments are counted but do not make the
// dataset invalid.
//
// Missing parts and mismatches are reported in the result, not as errors.
func Validate(ctx context.Context, bucket *blob.Bucket, dest string, verifyChecksums bool) (*ValidationResult, error) {
	manifest, err := readManifest(ctx, bucket, dest)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{
		Valid:      true,
		TotalUnits: manifest.TotalUnits,
		TotalSize:  manifest.TotalSize,
		PartCount:  len(manifest.Parts),
		Errors:     make([]string, 0),
	}

	for i, part := range manifest.Parts {
		if part.Object == "" {
			result.FailedParts++
			continue
		}
		path := manifest.PartsPrefix + part.Object

		attrs, err := bucket.Attributes(ctx, path)
		if err != nil {
			if isNotExist(err) {
				result.Valid = false
				result.MissingParts++
				result.Errors = append(result.Errors, fmt.Sprintf("part %d missing: %s", i, path))
				continue
			}
			return nil, fmt.Errorf("dataset: check part %d: %w", i, err)
		}

		if attrs.Size != part.Size {
			result.Valid = false
			result.SizeMismatches++
			result.Errors = append(result.Errors,
				fmt.Sprintf("part %d size mismatch: expected %d, got %d", i, part.Size, attrs.Size))
			continue
		}

		if verifyChecksums && part.Checksum != "" {
			actual, err := checksum(ctx, bucket, manifest, i)
			if err != nil {
				return nil, err
			}
			if actual != part.Checksum {
				result.Valid = false
				result.ChecksumMismatches++
				result.Errors = append(result.Errors,
					fmt.Sprintf("part %d checksum mismatch: expected %s, got %s", i, part.Checksum, actual))
			}
		}
	}

	return result, nil
}

func checksum(ctx context.Context, bucket *blob.Bucket, manifest *Manifest, idx int) (string, error) {
	h, err := OpenPart(ctx, bucket, manifest, idx)
	if err != nil {
		return "", err
	}
	defer h.Close()

	sum := sha256.New()
	if _, err := io.Copy(sum, h); err != nil {
		return "", fmt.Errorf("dataset: read part %d: %w", idx, err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}
