// Package warc reads and writes WARC/1.0 record framing: a marker line,
// header lines up to a blank line, content-length payload bytes and a
// two-byte trailer.
//
//	r := warc.NewReader(stream)
//	for {
//	    rec, err := r.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err // warc.ErrTruncated
//	    }
//	    if rec.Type() != warc.TypeResponse {
//	        continue
//	    }
//	    ...
//	}
package warc
