package payload

import (
	"errors"
	"testing"

	"golang.org/x/text/encoding/japanese"

	"github.com/ligustah/ccsift/internal/warc"
)

func record(content []byte) *warc.Record {
	return &warc.Record{
		Header:  map[string]string{warc.FieldType: warc.TypeResponse},
		Content: content,
	}
}

func mustDecoder(t *testing.T, names ...string) *Decoder {
	t.Helper()
	d, err := NewDecoder(names...)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	return d
}

const envelope = "HTTP/1.1 200 OK\r\n" +
	"Content-Type: text/html; charset=UTF-8\r\n" +
	"X-Extra: a:b\r\n" +
	"\r\n" +
	"<html>\r\n<body>こんにちは</body>\r\n</html>"

func TestDecodeUTF8(t *testing.T) {
	doc, err := mustDecoder(t).Decode(record([]byte(envelope)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if doc.Status != 200 {
		t.Errorf("expected status 200, got %d", doc.Status)
	}
	if doc.Encoding != "utf-8" {
		t.Errorf("expected utf-8, got %q", doc.Encoding)
	}
	if !doc.IsHTML() {
		t.Error("expected IsHTML")
	}
	if doc.Headers["x-extra"] != "a:b" {
		t.Errorf("expected header split on first colon, got %q", doc.Headers["x-extra"])
	}
	if want := "<html>\n<body>こんにちは</body>\n</html>"; doc.Body != want {
		t.Errorf("body = %q, want %q", doc.Body, want)
	}
}

func TestDecodeShiftJIS(t *testing.T) {
	sjis, err := japanese.ShiftJIS.NewEncoder().String(
		"HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n日本語のページです。")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	doc, err := mustDecoder(t).Decode(record([]byte(sjis)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if doc.Encoding != "shift_jis" {
		t.Errorf("expected shift_jis, got %q", doc.Encoding)
	}
	if doc.Body != "日本語のページです。" {
		t.Errorf("unexpected body %q", doc.Body)
	}
}

func TestDecodeEUCJP(t *testing.T) {
	euc, err := japanese.EUCJP.NewEncoder().String(
		"HTTP/1.0 204 No Content\r\n\r\n半角ｶﾀｶﾅ")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Shift_JIS is left out so the EUC-JP fallback is exercised.
	doc, err := mustDecoder(t, "utf-8", "euc-jp").Decode(record([]byte(euc)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if doc.Encoding != "euc-jp" {
		t.Errorf("expected euc-jp, got %q", doc.Encoding)
	}
	if doc.Body != "半角カタカナ" {
		t.Errorf("expected NFKC body, got %q", doc.Body)
	}
}

func TestNFKC(t *testing.T) {
	doc, err := mustDecoder(t).Decode(record([]byte("HTTP/1.1 200 OK\n\nＡＢＣ１２３ ｶﾞｷﾞ")))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if doc.Body != "ABC123 ガギ" {
		t.Errorf("unexpected body %q", doc.Body)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		want    error
	}{
		{"not found", []byte("HTTP/1.1 404 Not Found\r\n\r\nmissing"), ErrStatus},
		{"redirect", []byte("HTTP/1.1 301 Moved\r\nLocation: /\r\n\r\n"), ErrStatus},
		{"bad status", []byte("HTTP/1.1 OK\r\n\r\nbody"), ErrStatus},
		{"short status line", []byte("HTTP/1.1\r\n\r\nbody"), ErrStatus},
		{"no blank line", []byte("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n"), ErrEnvelope},
		{"no blank line, lf", []byte("HTTP/1.1 200 OK\nContent-Type: text/html\n"), ErrEnvelope},
		{"empty body", []byte("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n"), ErrEnvelope},
		{"leading blank line", []byte("\r\nHTTP/1.1 200 OK\r\n\r\n"), ErrEnvelope},
		{"undecodable", []byte{0xff, 0xfe, 0xff, 0x80, 0xff}, ErrUndecodable},
	}

	d := mustDecoder(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Decode(record(tt.content))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestIsHTML(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"text/html", true},
		{"Text/HTML; charset=Shift_JIS", true},
		{"application/pdf", false},
		{"", false},
	}
	for _, tt := range tests {
		doc := &Document{Headers: map[string]string{"content-type": tt.contentType}}
		if got := doc.IsHTML(); got != tt.want {
			t.Errorf("IsHTML(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}

func TestNewDecoderUnknownEncoding(t *testing.T) {
	if _, err := NewDecoder("utf-8", "klingon"); err == nil {
		t.Error("expected error for unknown encoding")
	}
}
