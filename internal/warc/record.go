package warc

import (
	"strconv"
)

// Header field names used by the pipeline. Keys in Record.Header are
// always lowercase.
const (
	FieldType          = "warc-type"
	FieldTargetURI     = "warc-target-uri"
	FieldRecordID      = "warc-record-id"
	FieldContentLength = "content-length"
	FieldContentType   = "content-type"
)

// TypeResponse is the warc-type of records carrying an HTTP response.
const TypeResponse = "response"

// Record is one archive record.
type Record struct {
	Header  map[string]string
	Content []byte
}

// Type returns the warc-type field.
func (r *Record) Type() string { return r.Header[FieldType] }

// TargetURI returns the warc-target-uri field.
func (r *Record) TargetURI() string { return r.Header[FieldTargetURI] }

// ID returns the warc-record-id field without its angle brackets.
func (r *Record) ID() string {
	id := r.Header[FieldRecordID]
	if len(id) >= 2 && id[0] == '<' && id[len(id)-1] == '>' {
		return id[1 : len(id)-1]
	}
	return id
}

// ContentLength returns the parsed content-length, or 0 when the field is
// absent or not an unsigned integer.
func (r *Record) ContentLength() int64 {
	return parseLength(r.Header[FieldContentLength])
}

func parseLength(s string) int64 {
	n, err := strconv.ParseUint(s, 10, 63)
	if err != nil {
		return 0
	}
	return int64(n)
}
