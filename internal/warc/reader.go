package warc

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Marker is the line that starts every record.
const Marker = "WARC/1.0"

// ErrTruncated is returned when the stream ends inside a record. It is
// fatal: the reader cannot resynchronise after it.
var ErrTruncated = fmt.Errorf("warc: truncated record: %w", io.ErrUnexpectedEOF)

// Reader parses records from a decompressed WARC stream. It holds no
// look-ahead beyond the record being parsed.
type Reader struct {
	br  *bufio.Reader
	err error
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next record. It returns io.EOF when the stream ends
// between records, and an error wrapping ErrTruncated when it ends inside
// one. Once Next fails it keeps returning the same error.
func (r *Reader) Next() (*Record, error) {
	if r.err != nil {
		return nil, r.err
	}
	rec, err := r.next()
	if err != nil {
		r.err = err
		return nil, err
	}
	return rec, nil
}

func (r *Reader) next() (*Record, error) {
	if err := r.seekMarker(); err != nil {
		return nil, err
	}

	header, eof, err := r.readHeaders()
	if err != nil {
		return nil, err
	}

	rec := &Record{Header: header}
	n := rec.ContentLength()
	if eof {
		return nil, fmt.Errorf("%w: end of stream in header block", ErrTruncated)
	}

	// Grow with the bytes present; the declared length may be corrupt.
	var content bytes.Buffer
	if _, err := io.CopyN(&content, r.br, n); err != nil {
		return nil, r.truncated("payload", err)
	}
	rec.Content = content.Bytes()

	var trailer [2]byte
	if _, err := io.ReadFull(r.br, trailer[:]); err != nil {
		return nil, r.truncated("trailer", err)
	}

	return rec, nil
}

// seekMarker discards lines until one equals Marker after trimming.
func (r *Reader) seekMarker() error {
	for {
		line, err := r.br.ReadBytes('\n')
		if len(line) > 0 && string(bytes.TrimSpace(line)) == Marker {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return fmt.Errorf("warc: seek marker: %w", err)
		}
	}
}

// readHeaders reads header lines up to the first blank line. eof reports
// that the stream ended before the blank line.
func (r *Reader) readHeaders() (header map[string]string, eof bool, err error) {
	header = make(map[string]string)
	for {
		line, err := r.br.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, false, fmt.Errorf("warc: read header: %w", err)
			}
			return header, err != nil, nil
		}

		if name, value, ok := strings.Cut(trimmed, ":"); ok {
			header[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return header, true, nil
			}
			return nil, false, fmt.Errorf("warc: read header: %w", err)
		}
	}
}

func (r *Reader) truncated(part string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: short %s", ErrTruncated, part)
	}
	return fmt.Errorf("warc: read %s: %w", part, err)
}
