// Package sink serializes curated units: zstd-compressed JSON lines or
// Parquet for dataset parts, and COPY into Postgres for an optional mirror.
package sink
