// Package progress provides progress reporting for curation runs.
//
// This package writes periodic human-readable status lines to stderr:
// segments processed, bytes fetched, and the number of records, documents
// and curated units seen so far.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalSegments: len(paths),
//	    Concurrency:   100,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	// Update as work completes
//	reporter.ChunkCompleted(n)
//	reporter.AddUnits(int64(len(units)))
//
// # Output Format
//
//	[ccsift] Writing: gs://bucket/ja/cc-main
//	[ccsift] Segments: 80000 | Fetch concurrency: 100
//	[ccsift] Progress: 12.5% | Segments: 10000/80000 (3 failed, 0 skipped) | Fetched: 9.21 TB | Speed: 1.20 GB/s
//	[ccsift] Records: 412345678 | Documents: 13456789 | Units: 56789012 | Chunks: 100 in-flight, 4 failed
package progress
