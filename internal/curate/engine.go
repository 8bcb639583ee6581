package curate

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ligustah/ccsift/internal/htmltext"
	"github.com/ligustah/ccsift/internal/langid"
	"github.com/ligustah/ccsift/internal/morph"
)

// Converter renders HTML as text and extracts the fields probed by the
// language gate.
type Converter interface {
	Convert(html string) (string, error)
	Fields(html string, perTag int) (*htmltext.Fields, error)
}

// LanguagePredictor decides whether text is in a language.
type LanguagePredictor interface {
	// Plausible is a cheap check run once per document.
	Plausible(text, lang string) bool
	// Predict runs the trained model.
	Predict(text, lang string) bool
}

// Tokenizer splits text into morphemes.
type Tokenizer interface {
	Tokenize(text string) []morph.Token
}

// Reason says why a document produced no units.
type Reason int

const (
	Accepted Reason = iota
	RejectedScript
	RejectedLanguage
	RejectedConvert
	RejectedShortText
	RejectedDensity
	RejectedNoUnits
)

var reasonNames = [...]string{
	Accepted:          "accepted",
	RejectedScript:    "script",
	RejectedLanguage:  "language",
	RejectedConvert:   "convert",
	RejectedShortText: "short_text",
	RejectedDensity:   "density",
	RejectedNoUnits:   "no_units",
}

func (r Reason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return fmt.Sprintf("reason(%d)", int(r))
	}
	return reasonNames[r]
}

// Result is the outcome of curating one document.
type Result struct {
	Units     []string
	Sentences []ScoredSentence
	Reason    Reason
}

// Engine curates HTML documents into text units. It holds no per-document
// state and is safe for concurrent use when its collaborators are.
type Engine struct {
	conv   Converter
	pred   LanguagePredictor
	opts   Options
	win    *windower
	scorer *scorer
	logger *slog.Logger
}

// New returns an Engine. The analyzer and model behind pred and tok are
// built once by the caller and shared.
func New(conv Converter, pred LanguagePredictor, tok Tokenizer, opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("curate: invalid options: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Engine{
		conv: conv,
		pred: pred,
		opts: opts,
		win: &windower{
			re:             regexp.MustCompile(opts.ScriptPattern),
			maxGap:         opts.MaxGap,
			leadingContext: opts.LeadingContext,
		},
		scorer: &scorer{opts: opts, tok: tok},
		logger: opts.Logger,
	}, nil
}

// Process returns the curated units of an HTML document. A rejected
// document yields no units.
func (e *Engine) Process(html string) []string {
	return e.Evaluate(html).Units
}

// Evaluate runs all stages and reports the units together with the reason
// for an empty result.
func (e *Engine) Evaluate(html string) Result {
	if !e.pred.Plausible(html, e.opts.Language) {
		return Result{Reason: RejectedScript}
	}
	if !e.admit(html) {
		return Result{Reason: RejectedLanguage}
	}

	text, err := e.conv.Convert(html)
	if err != nil {
		e.logger.Debug("html conversion failed", "error", err)
		return Result{Reason: RejectedConvert}
	}
	if utf8.RuneCountInString(text) < e.opts.MinTextLength {
		return Result{Reason: RejectedShortText}
	}

	windowed, ok := e.Window(text)
	if !ok {
		return Result{Reason: RejectedDensity}
	}

	sentences := e.Score(windowed)
	units := e.Select(sentences)
	if len(units) == 0 {
		return Result{Sentences: sentences, Reason: RejectedNoUnits}
	}
	return Result{Units: units, Sentences: sentences, Reason: Accepted}
}

// admit probes title, lang attribute, meta descriptions and tag samples in
// that order; the first field in the target language admits the document.
func (e *Engine) admit(html string) bool {
	f, err := e.conv.Fields(html, e.opts.SamplesPerTag)
	if err != nil {
		e.logger.Debug("field extraction failed", "error", err)
		return false
	}

	lang := e.opts.Language
	if f.Title != "" && e.pred.Predict(f.Title, lang) {
		return true
	}
	if f.Lang != "" && langid.Primary(f.Lang) == langid.Primary(lang) {
		return true
	}
	for _, d := range f.Descriptions {
		if e.pred.Predict(d, lang) {
			return true
		}
	}
	for _, s := range f.Samples {
		if e.pred.Predict(s, lang) {
			return true
		}
	}
	return false
}

// Window keeps the text around target-script runs. It reports false when
// the result is too short or not dense enough in script characters.
func (e *Engine) Window(text string) (string, bool) {
	out := e.win.Window(text)
	script, retained := e.win.Density(out)
	if retained < e.opts.MinRetainedLength {
		return out, false
	}
	if float64(script)/float64(retained) < e.opts.MinScriptRatio {
		return out, false
	}
	return out, true
}

// Score splits text into sentences and scores each of them.
func (e *Engine) Score(text string) []ScoredSentence {
	parts := splitSentences(text, e.opts.SentenceEnd)
	sentences := make([]ScoredSentence, len(parts))
	for i, p := range parts {
		sentences[i] = ScoredSentence{
			Position: i,
			RawScore: e.scorer.Score(p),
			Text:     p,
		}
	}
	normalize(sentences)
	return sentences
}

// Select keeps sentences at or above the threshold, merges neighbours and
// drops short or denylisted units.
func (e *Engine) Select(sentences []ScoredSentence) []string {
	var kept []ScoredSentence
	for _, s := range sentences {
		if s.Score >= e.opts.KeepThreshold {
			kept = append(kept, s)
		}
	}

	var units []string
	for _, group := range mergeAdjacent(kept, e.opts.MergeDistance) {
		var b strings.Builder
		for _, s := range group {
			b.WriteString(s.Text)
		}
		unit := b.String()
		if utf8.RuneCountInString(unit) <= e.opts.MinUnitLength {
			continue
		}
		if containsAny(unit, e.opts.Denylist) {
			continue
		}
		units = append(units, unit)
	}
	return units
}
