package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"gocloud.dev/blob"
)

// Reader streams the parts of a completed dataset in order, skipping parts
// of failed segments. Parts are concatenated byte for byte; zstd JSON lines
// parts decode as one stream.
type Reader struct {
	ctx      context.Context
	bucket   *blob.Bucket
	manifest *Manifest
	opts     Options

	next     int
	current  io.ReadCloser
	hash     hash.Hash
	checksum string
	closed   bool
}

// Open opens a completed dataset for reading. The bucket stays owned by the
// caller.
func Open(ctx context.Context, bucket *blob.Bucket, dest string, options ...Option) (*Reader, error) {
	opts := Options{}
	for _, opt := range options {
		opt(&opts)
	}

	manifest, err := readManifest(ctx, bucket, dest)
	if err != nil {
		return nil, err
	}
	return &Reader{
		ctx:      ctx,
		bucket:   bucket,
		manifest: manifest,
		opts:     opts,
	}, nil
}

// Read reads data from the dataset.
func (r *Reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, io.ErrClosedPipe
	}

	for {
		if r.current != nil {
			n, err := r.current.Read(p)
			if n > 0 && r.hash != nil {
				r.hash.Write(p[:n])
			}
			if err == io.EOF {
				if r.hash != nil {
					if actual := hex.EncodeToString(r.hash.Sum(nil)); actual != r.checksum {
						return 0, fmt.Errorf("dataset: checksum mismatch for part %d: expected %s, got %s",
							r.next-1, r.checksum, actual)
					}
				}
				r.current.Close()
				r.current = nil
				r.hash = nil
				if n > 0 {
					return n, nil
				}
				continue
			}
			return n, err
		}

		if err := r.openNext(); err != nil {
			return 0, err
		}
	}
}

// openNext opens the next part that has an object.
func (r *Reader) openNext() error {
	for r.next < len(r.manifest.Parts) {
		idx := r.next
		r.next++

		part := r.manifest.Parts[idx]
		if part.Object == "" {
			continue
		}
		reader, err := r.bucket.NewReader(r.ctx, r.manifest.PartsPrefix+part.Object, nil)
		if err != nil {
			return fmt.Errorf("dataset: open part %d: %w", idx, err)
		}
		r.current = reader
		if r.opts.VerifyChecksum && part.Checksum != "" {
			r.hash = sha256.New()
			r.checksum = part.Checksum
		}
		return nil
	}
	return io.EOF
}

// Close releases the current part reader.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.current != nil {
		r.current.Close()
		r.current = nil
	}
	return nil
}

// Manifest returns the dataset manifest.
func (r *Reader) Manifest() *Manifest {
	return r.manifest
}

// PartHandle is one open part with its manifest entry.
type PartHandle struct {
	Index int
	PartInfo
	io.ReadCloser
}

// OpenPart opens a single part of a completed dataset by index.
func OpenPart(ctx context.Context, bucket *blob.Bucket, manifest *Manifest, idx int) (*PartHandle, error) {
	if idx < 0 || idx >= len(manifest.Parts) {
		return nil, fmt.Errorf("dataset: part index %d out of range [0, %d)", idx, len(manifest.Parts))
	}
	part := manifest.Parts[idx]
	if part.Object == "" {
		return nil, fmt.Errorf("dataset: part %d has no object: %s", idx, part.Error)
	}
	reader, err := bucket.NewReader(ctx, manifest.PartsPrefix+part.Object, nil)
	if err != nil {
		return nil, fmt.Errorf("dataset: open part %d: %w", idx, err)
	}
	return &PartHandle{Index: idx, PartInfo: part, ReadCloser: reader}, nil
}
