// Package http provides the HTTP client used to stream and range-read
// archive segments.
//
// This package handles:
//   - Connection pooling for high parallelism
//   - HEAD requests to get file metadata
//   - Strict range requests (only 206 for the exact range is success)
//   - Optional retry with exponential backoff
//   - Optional request rate limiting
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	// Get file info
//	info, err := client.Head(ctx, url)
//	// info.Size, info.ETag, info.AcceptsRanges
//
//	// Download a range
//	resp, err := client.GetRange(ctx, url, startByte, endByte)
//	defer resp.Body.Close()
package http
