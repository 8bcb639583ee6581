package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/ligustah/ccsift/internal/pipeline"
)

// ErrUnknownFormat is returned for an unsupported output format name.
var ErrUnknownFormat = errors.New("sink: unknown format")

// Format is an output encoding for curated units.
type Format string

const (
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSONL, FormatParquet:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Ext returns the object name suffix for parts in this format.
func (f Format) Ext() string {
	if f == FormatParquet {
		return ".parquet"
	}
	return ".jsonl.zst"
}

// Encoder writes units to an underlying writer. Close flushes buffered
// output but does not close the writer.
type Encoder interface {
	Encode(u pipeline.Unit) error
	Close() error
}

// NewEncoder returns an encoder for f writing to w.
func NewEncoder(w io.Writer, f Format) (Encoder, error) {
	switch f {
	case FormatJSONL:
		return NewJSONL(w)
	case FormatParquet:
		return NewParquet(w)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// JSONL writes one JSON object per line into a zstd stream.
type JSONL struct {
	zw  *zstd.Encoder
	enc *json.Encoder
}

// NewJSONL returns a zstd-compressed JSON lines encoder.
func NewJSONL(w io.Writer) (*JSONL, error) {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("sink: zstd writer: %w", err)
	}
	enc := json.NewEncoder(zw)
	enc.SetEscapeHTML(false)
	return &JSONL{zw: zw, enc: enc}, nil
}

func (j *JSONL) Encode(u pipeline.Unit) error {
	return j.enc.Encode(u)
}

func (j *JSONL) Close() error {
	return j.zw.Close()
}

// JSONLDecoder reads units written by JSONL.
type JSONLDecoder struct {
	zr  *zstd.Decoder
	dec *json.Decoder
}

// NewJSONLDecoder returns a decoder reading from r.
func NewJSONLDecoder(r io.Reader) (*JSONLDecoder, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("sink: zstd reader: %w", err)
	}
	return &JSONLDecoder{zr: zr, dec: json.NewDecoder(zr)}, nil
}

// Next returns the next unit, or io.EOF after the last one.
func (d *JSONLDecoder) Next() (pipeline.Unit, error) {
	var u pipeline.Unit
	if err := d.dec.Decode(&u); err != nil {
		if errors.Is(err, io.EOF) {
			return u, io.EOF
		}
		return u, fmt.Errorf("sink: decode unit: %w", err)
	}
	return u, nil
}

// Close releases the zstd decoder.
func (d *JSONLDecoder) Close() {
	d.zr.Close()
}

// Row is the Parquet schema of a unit.
type Row struct {
	Segment  string `parquet:"name=segment, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	RecordID string `parquet:"name=record_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	URL      string `parquet:"name=url, type=BYTE_ARRAY, convertedtype=UTF8"`
	Text     string `parquet:"name=text, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Parquet buffers units into SNAPPY-compressed row groups.
type Parquet struct {
	pw *writer.ParquetWriter
}

// NewParquet returns a Parquet encoder writing to w.
func NewParquet(w io.Writer) (*Parquet, error) {
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(w), new(Row), 4)
	if err != nil {
		return nil, fmt.Errorf("sink: parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	return &Parquet{pw: pw}, nil
}

func (p *Parquet) Encode(u pipeline.Unit) error {
	return p.pw.Write(Row{
		Segment:  u.Segment,
		RecordID: u.RecordID,
		URL:      u.URL,
		Text:     u.Text,
	})
}

// Close writes the footer.
func (p *Parquet) Close() error {
	if err := p.pw.WriteStop(); err != nil {
		return fmt.Errorf("sink: parquet finalize: %w", err)
	}
	return nil
}

// ReadParquet decodes every row of one Parquet part. Parquet needs random
// access to its footer, so the part is read whole.
func ReadParquet(data []byte) ([]pipeline.Unit, error) {
	if len(data) == 0 {
		return nil, nil
	}
	pr, err := reader.NewParquetReader(buffer.NewBufferFileFromBytes(data), new(Row), 1)
	if err != nil {
		return nil, fmt.Errorf("sink: parquet reader: %w", err)
	}
	defer pr.ReadStop()

	rows := make([]Row, int(pr.GetNumRows()))
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("sink: parquet read: %w", err)
	}
	units := make([]pipeline.Unit, len(rows))
	for i, r := range rows {
		units[i] = pipeline.Unit{Segment: r.Segment, RecordID: r.RecordID, URL: r.URL, Text: r.Text}
	}
	return units, nil
}
