package curate

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ligustah/ccsift/internal/morph"
)

// ScoredSentence is a sentence with its position in the document and its
// raw and max-normalised scores.
type ScoredSentence struct {
	Position int
	RawScore float64
	Score    float64
	Text     string
}

// splitSentences splits on line breaks and after every sentence end mark,
// keeping the mark. Empty pieces are dropped.
func splitSentences(text, end string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		for _, s := range strings.SplitAfter(line, end) {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// scorer assigns raw scores to sentences.
type scorer struct {
	opts Options
	tok  Tokenizer
}

// lengthMultiplier returns the multiplier of the first bracket holding n.
func (s *scorer) lengthMultiplier(n int) float64 {
	for _, b := range s.opts.LengthBrackets {
		if n <= b.MaxRunes {
			return b.Multiplier
		}
	}
	return s.opts.LengthBrackets[len(s.opts.LengthBrackets)-1].Multiplier
}

// Score returns the raw score of one sentence. Fragments, denylisted text,
// ASCII-heavy text and text with an implausible part-of-speech mix score 0.
func (s *scorer) Score(text string) float64 {
	mult := s.lengthMultiplier(utf8.RuneCountInString(text))
	if mult == 0 {
		return 0
	}
	if containsAny(text, s.opts.Denylist) || asciiAlnumRatio(text) > s.opts.MaxASCIIRatio {
		return 0
	}

	toks := s.tok.Tokenize(text)
	if len(toks) == 0 {
		return 0
	}

	var content, nva int
	for _, t := range toks {
		if slices.Contains(s.opts.NVAPOS, t.POS) {
			nva++
		}
		if s.isContent(t) {
			content++
		}
	}

	total := float64(len(toks))
	other := float64(len(toks)-nva) / total
	if other < s.opts.MinOtherRatio || other > s.opts.MaxOtherRatio {
		return 0
	}

	score := (s.opts.BaseScore + float64(content)/total) * mult
	if content >= s.opts.MinContentWords {
		score *= s.opts.ContentWordBonus
	}
	if strings.IndexFunc(text, unicode.IsDigit) >= 0 {
		score *= s.opts.DigitBonus
	}
	return score
}

func (s *scorer) isContent(t morph.Token) bool {
	return slices.Contains(s.opts.ContentPOS, t.POS) &&
		!slices.Contains(s.opts.BoundDetails, t.Detail) &&
		!slices.Contains(s.opts.LightVerbs, t.Base)
}

// normalize divides every raw score by the maximum. All-zero input stays zero.
func normalize(sentences []ScoredSentence) {
	var top float64
	for _, s := range sentences {
		top = max(top, s.RawScore)
	}
	for i := range sentences {
		if top > 0 {
			sentences[i].Score = sentences[i].RawScore / top
		} else {
			sentences[i].Score = 0
		}
	}
}

// mergeAdjacent groups kept sentences, in position order, starting a new
// group whenever the position gap to the previous sentence is at least
// distance.
func mergeAdjacent(kept []ScoredSentence, distance int) [][]ScoredSentence {
	var groups [][]ScoredSentence
	for i, s := range kept {
		if i == 0 || s.Position-kept[i-1].Position >= distance {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], s)
	}
	return groups
}

func asciiAlnumRatio(text string) float64 {
	var ascii, total int
	for _, r := range text {
		total++
		if r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			ascii++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(ascii) / float64(total)
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(text, n) {
			return true
		}
	}
	return false
}
