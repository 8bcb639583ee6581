package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"gocloud.dev/blob"

	"github.com/ligustah/ccsift/internal/pipeline"
	"github.com/ligustah/ccsift/internal/sink"
	"github.com/ligustah/ccsift/pkg/dataset"
)

// runExport streams every unit of a dataset as plain JSON lines to a local
// file or stdout.
func runExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ExitOnError)

	bucket := fs.String("bucket", "", "Source bucket URL (required)")
	object := fs.String("object", "", "Dataset path (required)")
	output := fs.String("output", "-", "Output file path, - for stdout")
	verify := fs.Bool("verify", false, "Verify part checksums while reading")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: ccsift export [options]

Read a completed dataset from object storage and write its units as JSON
lines. Parts of failed segments are skipped.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *bucket == "" || *object == "" {
		fmt.Fprintln(os.Stderr, "Error: -bucket and -object are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext(true)
	defer cancel()

	bkt, err := blob.OpenBucket(ctx, *bucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bkt.Close()

	var out io.Writer = os.Stdout
	if *output != "-" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening file: %v\n", err)
			return ExitGeneralError
		}
		defer f.Close()
		out = f
	}

	bw := bufio.NewWriter(out)
	n, err := exportDataset(ctx, bkt, *object, bw, *verify)
	if ferr := bw.Flush(); err == nil {
		err = ferr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if ctx.Err() != nil {
			return ExitGeneralError
		}
		return ExitStorageError
	}

	fmt.Fprintf(os.Stderr, "[ccsift] Exported %d units from %s/%s\n", n, *bucket, *object)
	return ExitSuccess
}

// exportDataset writes each unit of the dataset at dest to w as one JSON
// line and returns the number of units.
func exportDataset(ctx context.Context, bkt *blob.Bucket, dest string, w io.Writer, verify bool) (int64, error) {
	r, err := dataset.Open(ctx, bkt, dest, dataset.WithVerifyChecksum(verify))
	if err != nil {
		return 0, err
	}
	defer r.Close()

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	manifest := r.Manifest()
	format, err := sink.ParseFormat(manifest.Metadata["format"])
	if err != nil {
		return 0, err
	}

	var n int64
	switch format {
	case sink.FormatParquet:
		// Parquet parts are self-contained files and cannot be concatenated.
		for i, part := range manifest.Parts {
			if part.Object == "" {
				continue
			}
			units, err := readParquetPart(ctx, bkt, manifest, i)
			if err != nil {
				return n, err
			}
			for _, u := range units {
				if err := enc.Encode(u); err != nil {
					return n, err
				}
				n++
			}
		}
	default:
		dec, err := sink.NewJSONLDecoder(r)
		if err != nil {
			return 0, err
		}
		defer dec.Close()
		for {
			u, err := dec.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return n, err
			}
			if err := enc.Encode(u); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func readParquetPart(ctx context.Context, bkt *blob.Bucket, manifest *dataset.Manifest, idx int) ([]pipeline.Unit, error) {
	h, err := dataset.OpenPart(ctx, bkt, manifest, idx)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	data, err := io.ReadAll(h)
	if err != nil {
		return nil, fmt.Errorf("read part %d: %w", idx, err)
	}
	return sink.ReadParquet(data)
}
