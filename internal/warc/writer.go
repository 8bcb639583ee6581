package warc

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strconv"
)

// Writer writes records in the framing Reader parses.
type Writer struct {
	bw *bufio.Writer
}

// NewWriter returns a Writer to w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriter(w)}
}

// Write writes rec. Header fields are written in sorted order and
// content-length is always set from len(rec.Content).
func (w *Writer) Write(rec *Record) error {
	keys := make([]string, 0, len(rec.Header))
	for k := range rec.Header {
		if k != FieldContentLength {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	if _, err := fmt.Fprintf(w.bw, "%s\r\n", Marker); err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := fmt.Fprintf(w.bw, "%s: %s\r\n", k, rec.Header[k]); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w.bw, "%s: %s\r\n\r\n", FieldContentLength, strconv.Itoa(len(rec.Content))); err != nil {
		return err
	}
	if _, err := w.bw.Write(rec.Content); err != nil {
		return err
	}
	_, err := w.bw.WriteString("\r\n\r\n")
	return err
}

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.bw.Flush()
}
