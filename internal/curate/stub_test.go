package curate

import (
	"strings"
	"testing"
	"unicode"

	"github.com/ligustah/ccsift/internal/htmltext"
	"github.com/ligustah/ccsift/internal/langid"
	"github.com/ligustah/ccsift/internal/morph"
)

// runeTokenizer emits one token per rune: Han, katakana, digits and ASCII
// letters are nouns, hiragana are particles, everything else is a symbol.
type runeTokenizer struct{}

func (runeTokenizer) Tokenize(text string) []morph.Token {
	var toks []morph.Token
	for _, r := range text {
		pos := "記号"
		switch {
		case unicode.Is(unicode.Han, r), unicode.Is(unicode.Katakana, r),
			unicode.IsDigit(r), r < 0x80 && unicode.IsLetter(r):
			pos = "名詞"
		case unicode.Is(unicode.Hiragana, r):
			pos = "助詞"
		}
		toks = append(toks, morph.Token{Surface: string(r), POS: pos, Base: string(r)})
	}
	return toks
}

// kanaDetector reports Japanese for any text containing kana.
type kanaDetector struct{}

func (kanaDetector) Detect(text string) (string, float64) {
	if strings.IndexFunc(text, func(r rune) bool {
		return unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r)
	}) >= 0 {
		return "ja", 0.99
	}
	return "en", 0.99
}

// countingPredictor records the texts passed to Predict.
type countingPredictor struct {
	*langid.Predictor
	calls []string
}

func (p *countingPredictor) Predict(text, lang string) bool {
	p.calls = append(p.calls, text)
	return p.Predictor.Predict(text, lang)
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := New(htmltext.New(), langid.NewPredictor(kanaDetector{}, 0), runeTokenizer{}, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}
