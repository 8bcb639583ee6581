// Package downloader turns one HTTP resource into an in-order byte stream
// assembled from parallel range requests.
//
// # Usage
//
//	r, info, err := downloader.Open(ctx, client, url, downloader.Options{
//	    Concurrency: 100,
//	})
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//	io.Copy(dst, r)
//
// # Ordering
//
// Chunks complete in any order. A single goroutine owns a reorder Buffer
// and forwards chunk i only after chunks 0..i-1 have been forwarded. A
// failed chunk is forwarded as an error item so the stream never stalls
// behind it.
//
// # Memory
//
// A semaphore permit is held from the start of a fetch until the chunk
// leaves the reorder Buffer. At most Concurrency chunks are fetched or
// buffered at once, plus whatever sits in the output channel.
package downloader
