package langid

import (
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
)

// DefaultThreshold is the confidence a detection must exceed.
const DefaultThreshold = 0.6

// Detector identifies the language of a text. Lang is an ISO 639-1 code, or
// empty when nothing was detected.
type Detector interface {
	Detect(text string) (lang string, confidence float64)
}

// Whatlang is a Detector backed by whatlanggo's trigram and script models.
type Whatlang struct {
	opts whatlanggo.Options
}

// NewWhatlang returns a Detector. When codes are given (ISO 639-3, as
// whatlanggo names them, e.g. "jpn", "cmn") detection is restricted to them.
func NewWhatlang(codes ...string) *Whatlang {
	w := &Whatlang{}
	if len(codes) > 0 {
		w.opts.Whitelist = make(map[whatlanggo.Lang]bool, len(codes))
		for _, c := range codes {
			w.opts.Whitelist[whatlanggo.CodeToLang(c)] = true
		}
	}
	return w
}

// Detect implements Detector.
func (w *Whatlang) Detect(text string) (string, float64) {
	info := whatlanggo.DetectWithOptions(text, w.opts)
	if info.Lang < 0 {
		return "", 0
	}
	return info.Lang.Iso6391(), info.Confidence
}

// kana covers hiragana ぁ-ん and katakana ァ-ン.
var kana = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x3041, Hi: 0x3093, Stride: 1},
		{Lo: 0x30A1, Hi: 0x30F3, Stride: 1},
	},
}

// Predictor answers whether a text is in a given language. It pairs a cheap
// script check with a Detector and a confidence threshold.
type Predictor struct {
	det       Detector
	threshold float64
	scripts   map[string]*unicode.RangeTable
}

// NewPredictor returns a Predictor using det. A threshold <= 0 means
// DefaultThreshold.
func NewPredictor(det Detector, threshold float64) *Predictor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Predictor{
		det:       det,
		threshold: threshold,
		scripts:   map[string]*unicode.RangeTable{"ja": kana},
	}
}

// SetScript registers the characters whose presence makes lang plausible.
func (p *Predictor) SetScript(lang string, table *unicode.RangeTable) {
	p.scripts[Primary(lang)] = table
}

// Plausible reports whether text contains at least one character of lang's
// script. Languages without a registered script are always plausible.
func (p *Predictor) Plausible(text, lang string) bool {
	table, ok := p.scripts[Primary(lang)]
	if !ok {
		return true
	}
	return strings.IndexFunc(text, func(r rune) bool {
		return unicode.Is(table, r)
	}) >= 0
}

// Predict reports whether text is in lang. Text containing a character of
// lang's registered script is accepted outright; otherwise the detector must
// assign it to lang with confidence above the threshold.
func (p *Predictor) Predict(text, lang string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	want := Primary(lang)
	if _, ok := p.scripts[want]; ok && p.Plausible(text, want) {
		return true
	}
	got, conf := p.det.Detect(text)

	// Script-based detectors call Han-heavy Japanese Mandarin; kana settles it.
	if want == "ja" && got == "zh" && p.Plausible(text, "ja") {
		got = "ja"
	}
	return got == want && conf > p.threshold
}

// Primary returns the lowercased primary subtag of a language tag, so
// "ja-JP" and "JA_jp" both give "ja".
func Primary(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
