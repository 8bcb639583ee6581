package curate

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
)

// DefaultScriptPattern matches runs of Japanese script and punctuation.
const DefaultScriptPattern = `[\p{Hiragana}\p{Katakana}\p{Han}ー々〆、。「」『』・…！？!?（）()]+`

// Bracket maps sentences of at most MaxRunes characters to a score
// multiplier.
type Bracket struct {
	MaxRunes   int     `yaml:"max_runes"`
	Multiplier float64 `yaml:"multiplier"`
}

// Options holds every tunable constant of the curation stages.
type Options struct {
	// Language is the target language tag.
	Language string `yaml:"language"`

	// SamplesPerTag is how many h1/h2/h3/p/a texts the gate probes per tag.
	SamplesPerTag int `yaml:"samples_per_tag"`

	// MinTextLength rejects converted text shorter than this many runes.
	MinTextLength int `yaml:"min_text_length"`

	// ScriptPattern matches target-script runs for windowing.
	ScriptPattern string `yaml:"script_pattern"`
	// MaxGap is the largest gap in runes that still joins two runs.
	MaxGap int `yaml:"max_gap"`
	// LeadingContext is how many runes before the first run are kept.
	LeadingContext int `yaml:"leading_context"`
	// MinScriptRatio is the minimum share of script runes in windowed text.
	MinScriptRatio float64 `yaml:"min_script_ratio"`
	// MinRetainedLength is the minimum windowed text length in runes.
	MinRetainedLength int `yaml:"min_retained_length"`

	// SentenceEnd splits sentences and stays attached to them.
	SentenceEnd string `yaml:"sentence_end"`
	// MaxASCIIRatio zeroes sentences with more ASCII letters and digits.
	MaxASCIIRatio float64 `yaml:"max_ascii_ratio"`
	// MinOtherRatio and MaxOtherRatio bound the share of tokens that are not
	// nouns, verbs or adjectives.
	MinOtherRatio float64 `yaml:"min_other_ratio"`
	MaxOtherRatio float64 `yaml:"max_other_ratio"`

	BaseScore        float64   `yaml:"base_score"`
	LengthBrackets   []Bracket `yaml:"length_brackets"`
	MinContentWords  int       `yaml:"min_content_words"`
	ContentWordBonus float64   `yaml:"content_word_bonus"`
	DigitBonus       float64   `yaml:"digit_bonus"`

	// KeepThreshold is the minimum normalised score.
	KeepThreshold float64 `yaml:"keep_threshold"`
	// MergeDistance joins kept sentences whose positions differ by less.
	MergeDistance int `yaml:"merge_distance"`
	// MinUnitLength drops units of this many runes or fewer.
	MinUnitLength int `yaml:"min_unit_length"`

	// ContentPOS are the parts of speech counted as content words.
	ContentPOS []string `yaml:"content_pos"`
	// NVAPOS are the noun, verb and adjective parts of speech.
	NVAPOS []string `yaml:"nva_pos"`
	// BoundDetails are sub-classifications that never count as content.
	BoundDetails []string `yaml:"bound_details"`
	// LightVerbs are base forms that never count as content.
	LightVerbs []string `yaml:"light_verbs"`

	// Denylist holds boilerplate and spam substrings.
	Denylist []string `yaml:"denylist"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultOptions returns the stock Japanese configuration.
func DefaultOptions() Options {
	return Options{
		Language:          "ja",
		SamplesPerTag:     3,
		MinTextLength:     20,
		ScriptPattern:     DefaultScriptPattern,
		MaxGap:            25,
		LeadingContext:    50,
		MinScriptRatio:    0.55,
		MinRetainedLength: 50,
		SentenceEnd:       "。",
		MaxASCIIRatio:     0.4,
		MinOtherRatio:     0.15,
		MaxOtherRatio:     0.85,
		BaseScore:         0.6,
		LengthBrackets: []Bracket{
			{MaxRunes: 9, Multiplier: 0},
			{MaxRunes: 19, Multiplier: 1.0},
			{MaxRunes: 80, Multiplier: 1.2},
			{MaxRunes: 200, Multiplier: 1.0},
			{MaxRunes: math.MaxInt32, Multiplier: 0.7},
		},
		MinContentWords:  2,
		ContentWordBonus: 1.2,
		DigitBonus:       1.3,
		KeepThreshold:    0.5,
		MergeDistance:    3,
		MinUnitLength:    30,
		ContentPOS:       []string{"名詞", "動詞", "形容詞", "副詞"},
		NVAPOS:           []string{"名詞", "動詞", "形容詞"},
		BoundDetails:     []string{"非自立", "接尾"},
		LightVerbs:       []string{"する", "ある", "いる", "なる", "できる", "れる", "られる", "おる", "いう"},
		Denylist:         DefaultDenylist(),
	}
}

// Validate checks that the options are usable.
func (o Options) Validate() error {
	var errs []error
	if o.Language == "" {
		errs = append(errs, errors.New("language is required"))
	}
	if _, err := regexp.Compile(o.ScriptPattern); err != nil {
		errs = append(errs, fmt.Errorf("script_pattern: %w", err))
	}
	if o.SentenceEnd == "" {
		errs = append(errs, errors.New("sentence_end is required"))
	}
	if len(o.LengthBrackets) == 0 {
		errs = append(errs, errors.New("length_brackets is required"))
	}
	for i := 1; i < len(o.LengthBrackets); i++ {
		if o.LengthBrackets[i].MaxRunes <= o.LengthBrackets[i-1].MaxRunes {
			errs = append(errs, fmt.Errorf("length_brackets must be ascending at %d", i))
		}
	}
	if o.MinOtherRatio > o.MaxOtherRatio {
		errs = append(errs, errors.New("min_other_ratio exceeds max_other_ratio"))
	}
	if o.MergeDistance < 1 {
		errs = append(errs, errors.New("merge_distance must be at least 1"))
	}
	return errors.Join(errs...)
}
