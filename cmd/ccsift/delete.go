package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"gocloud.dev/blob"

	"github.com/ligustah/ccsift/pkg/dataset"
)

// runDelete removes a dataset and all its parts from object storage.
// By default prompts for confirmation unless -force is specified.
func runDelete(args []string) int {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)

	bucket := fs.String("bucket", "", "Bucket URL (required)")
	object := fs.String("object", "", "Dataset path (required)")
	force := fs.Bool("force", false, "Skip confirmation prompt")
	partial := fs.Bool("partial", false, "Delete an incomplete run and its state")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: ccsift delete [options]

Remove a dataset and all its parts from object storage.

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

	if !*force {
		fmt.Printf("Delete dataset %s from %s? [y/N]: ", *object, *bucket)
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(os.Stderr, "Cancelled")
			return ExitSuccess
		}
	}

	ctx, cancel := signalContext(false)
	defer cancel()

	bkt, err := blob.OpenBucket(ctx, *bucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bkt.Close()

	if *partial {
		err = dataset.DeletePartial(ctx, bkt, *object)
	} else {
		err = dataset.Delete(ctx, bkt, *object)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Fprintf(os.Stderr, "[ccsift] Deleted: %s/%s\n", *bucket, *object)
	return ExitSuccess
}
