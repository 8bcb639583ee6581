// Package dataset stores curated output in blob storage as one part object
// per source segment, with resumable state and a manifest.
//
// The package is storage-agnostic via gocloud.dev/blob.
//
// # Writing
//
// Use [Write] to create or resume a dataset, call [File.Next] for each
// segment, write encoded units to the returned [Part] and Close it. Call
// [File.Complete] to write the manifest.
//
// Options:
//   - [WithExt]: object suffix of parts, e.g. ".jsonl.zst"
//   - [WithTotal]: number of parts, enables io.EOF from Next
//   - [WithMetadata]: caller-defined metadata stored in state and manifest
//
// # Resume
//
// If state exists from an earlier run, [File.Next] returns [ErrPartFilled]
// for parts that were completed. Interrupted and failed parts are retried.
// [File.CheckMetadata] guards against resuming with different settings and
// [File.Reset] discards everything and starts over.
//
// # Retries
//
// A failed attempt at a segment calls [Part.Truncate] and writes again into
// the same part. After the last attempt [Part.Fail] records the error; the
// manifest lists the part without an object. While any part is missing,
// [File.Complete] keeps the state next to the manifest so the next run
// retries only those parts.
//
// # Storage Layout
//
//	{bucket}/{dest}.parts/part-000000.jsonl.zst
//	{bucket}/{dest}.parts/part-000001.jsonl.zst
//	{bucket}/{dest}.parts/state.json     (until every part is complete)
//	{bucket}/{dest}.manifest.json        (on completion)
//
// # Manifest Format
//
//	{
//	  "run_id": "6f1c...",
//	  "parts_prefix": "ja/cc-main.parts/",
//	  "total_units": 120345,
//	  "total_size": 73400320,
//	  "parts": [
//	    {"object": "part-000000.jsonl.zst", "segment": "crawl-data/...warc.gz", "units": 812, "size": 401223, "checksum": "..."},
//	    {"segment": "crawl-data/...warc.gz", "units": 0, "size": 0, "error": "segment ...: warc: truncated record"},
//	    ...
//	  ],
//	  "metadata": {"language": "ja", "format": "jsonl", "base_url": "https://data.commoncrawl.org/"},
//	  "started_at": "2025-01-15T09:00:00Z",
//	  "completed_at": "2025-01-15T10:30:00Z"
//	}
package dataset
