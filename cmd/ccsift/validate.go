package main

import (
	"flag"
	"fmt"
	"os"

	"gocloud.dev/blob"

	"github.com/ligustah/ccsift/pkg/dataset"
)

// runValidate checks that a dataset is complete and all parts exist with
// correct sizes. Reports validation status without downloading data unless
// checksums are requested.
func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)

	bucket := fs.String("bucket", "", "Bucket URL (required)")
	object := fs.String("object", "", "Dataset path (required)")
	checksums := fs.Bool("checksums", false, "Also read every part and verify its checksum")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: ccsift validate [options]

Verify that a dataset is complete and all parts exist with correct sizes.

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

	ctx, cancel := signalContext(false)
	defer cancel()

	bkt, err := blob.OpenBucket(ctx, *bucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bkt.Close()

	result, err := dataset.Validate(ctx, bkt, *object, *checksums)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Printf("Dataset: %s\n", *object)
	fmt.Printf("Total units: %d\n", result.TotalUnits)
	fmt.Printf("Total size: %d bytes\n", result.TotalSize)
	fmt.Printf("Parts: %d\n", result.PartCount)
	if result.FailedParts > 0 {
		fmt.Printf("Failed segments: %d\n", result.FailedParts)
	}

	if result.Valid {
		fmt.Println("Status: VALID")
		return ExitSuccess
	}

	fmt.Println("Status: INVALID")
	fmt.Printf("Missing parts: %d\n", result.MissingParts)
	fmt.Printf("Size mismatches: %d\n", result.SizeMismatches)
	if *checksums {
		fmt.Printf("Checksum mismatches: %d\n", result.ChecksumMismatches)
	}

	if len(result.Errors) > 0 {
		fmt.Println("\nErrors:")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}

	return ExitValidationFailed
}
