// Package decompress streams compressed bytes through a decompressor
// process and re-exposes the output as an io.Reader.
//
// The process is anything implementing Process: an external program
// started with Command (for example "gzip -dc") or the in-process gzip
// decoder returned by Gzip.
//
//	p, err := decompress.New(ctx, body, decompress.Gzip(), decompress.Options{})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//	records := warc.NewReader(p)
//
// Backpressure runs end to end: a full output queue blocks the output
// pump, which blocks the process's stdout, which stops it reading stdin,
// which blocks the input pump.
package decompress
