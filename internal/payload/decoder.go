package payload

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/unicode/norm"

	"github.com/ligustah/ccsift/internal/warc"
)

// Errors returned by Decode. All of them mean the record is skipped.
var (
	ErrUndecodable = errors.New("payload: content does not decode under any encoding")
	ErrEnvelope    = errors.New("payload: malformed envelope")
	ErrStatus      = errors.New("payload: non-success status")
)

// DefaultEncodings is the fallback order used when NewDecoder gets no names.
var DefaultEncodings = []string{"utf-8", "shift_jis", "euc-jp"}

// Document is a decoded response: the envelope's status and headers and the
// NFKC-normalised body.
type Document struct {
	Status   int
	Headers  map[string]string
	Body     string
	Encoding string
}

// IsHTML reports whether the envelope content-type is text/html.
func (d *Document) IsHTML() bool {
	return strings.Contains(strings.ToLower(d.Headers["content-type"]), "text/html")
}

type namedEncoding struct {
	name string
	enc  encoding.Encoding
}

// Decoder turns record payloads into Documents.
type Decoder struct {
	encodings []namedEncoding
}

// NewDecoder returns a Decoder trying the named encodings in order. Names
// are WHATWG labels such as "utf-8", "shift_jis" or "euc-jp".
func NewDecoder(names ...string) (*Decoder, error) {
	if len(names) == 0 {
		names = DefaultEncodings
	}

	d := &Decoder{}
	for _, name := range names {
		enc, err := htmlindex.Get(name)
		if err != nil {
			return nil, fmt.Errorf("payload: encoding %q: %w", name, err)
		}
		canonical, err := htmlindex.Name(enc)
		if err != nil {
			canonical = name
		}
		d.encodings = append(d.encodings, namedEncoding{name: canonical, enc: enc})
	}
	return d, nil
}

// Decode decodes rec's content and parses its envelope. The caller is
// responsible for passing only response records.
func (d *Decoder) Decode(rec *warc.Record) (*Document, error) {
	text, name, err := d.DecodeText(rec.Content)
	if err != nil {
		return nil, err
	}

	doc, err := ParseEnvelope(text)
	if err != nil {
		return nil, err
	}
	doc.Encoding = name
	doc.Body = norm.NFKC.String(doc.Body)
	return doc, nil
}

// DecodeText returns b decoded under the first encoding that needs no
// replacement characters, and that encoding's name.
func (d *Decoder) DecodeText(b []byte) (string, string, error) {
	for _, e := range d.encodings {
		if s, ok := decodeStrict(e, b); ok {
			return s, e.name, nil
		}
	}
	return "", "", ErrUndecodable
}

func decodeStrict(e namedEncoding, b []byte) (string, bool) {
	if e.name == "utf-8" {
		if !utf8.Valid(b) {
			return "", false
		}
		return string(b), true
	}

	out, err := e.enc.NewDecoder().Bytes(b)
	if err != nil || bytes.ContainsRune(out, utf8.RuneError) {
		return "", false
	}
	return string(out), true
}

// ParseEnvelope splits an HTTP response into status, headers and body. The
// status line's second token must be an integer in [200, 300). Header names
// are lowercased and split on the first colon. The body starts after the
// first blank line and must not be empty; its lines are rejoined with "\n".
func ParseEnvelope(text string) (*Document, error) {
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}

	blank := -1
	for i, line := range lines {
		if line == "" {
			blank = i
			break
		}
	}
	if blank < 1 {
		return nil, fmt.Errorf("%w: no header block", ErrEnvelope)
	}

	fields := strings.Fields(lines[0])
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: status line %q", ErrStatus, lines[0])
	}
	status, err := strconv.Atoi(fields[1])
	if err != nil || status < 200 || status >= 300 {
		return nil, fmt.Errorf("%w: %q", ErrStatus, fields[1])
	}
	if blank == len(lines)-1 {
		return nil, fmt.Errorf("%w: no body", ErrEnvelope)
	}

	headers := make(map[string]string, blank-1)
	for _, line := range lines[1:blank] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	return &Document{
		Status:  status,
		Headers: headers,
		Body:    strings.Join(lines[blank+1:], "\n"),
	}, nil
}
