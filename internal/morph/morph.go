package morph

import (
	"fmt"

	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
)

// Token is one morpheme.
type Token struct {
	Surface string
	// POS is the primary part of speech, e.g. 名詞.
	POS string
	// Detail is the first sub-classification, e.g. 非自立 or 接尾.
	Detail string
	// Base is the dictionary form, or Surface when the dictionary has none.
	Base string
}

// Tokenizer splits text into morphemes.
type Tokenizer interface {
	Tokenize(text string) []Token
}

// Kagome is a Tokenizer using kagome with the IPA dictionary. It is safe for
// concurrent use.
type Kagome struct {
	t *tokenizer.Tokenizer
}

// NewKagome loads the IPA dictionary. Loading is slow; build one Kagome and
// share it.
func NewKagome() (*Kagome, error) {
	t, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
	if err != nil {
		return nil, fmt.Errorf("morph: load dictionary: %w", err)
	}
	return &Kagome{t: t}, nil
}

// Tokenize implements Tokenizer.
func (k *Kagome) Tokenize(text string) []Token {
	toks := k.t.Tokenize(text)
	out := make([]Token, 0, len(toks))
	for _, tk := range toks {
		tok := Token{Surface: tk.Surface, Base: tk.Surface}
		pos := tk.POS()
		if len(pos) > 0 {
			tok.POS = pos[0]
		}
		if len(pos) > 1 && pos[1] != "*" {
			tok.Detail = pos[1]
		}
		if base, ok := tk.BaseForm(); ok && base != "*" {
			tok.Base = base
		}
		out = append(out, tok)
	}
	return out
}
