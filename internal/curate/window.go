package curate

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// windower keeps the parts of a text near target-script runs.
type windower struct {
	re             *regexp.Regexp
	maxGap         int
	leadingContext int
}

// Window returns the text around script runs. Runs separated by at most
// maxGap runes share a window; the first window also keeps up to
// leadingContext runes before its first run. Windows are trimmed, empty
// ones dropped, and the rest joined with newlines.
func (w *windower) Window(text string) string {
	matches := w.re.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return ""
	}

	var windows []string
	start := backRunes(text, matches[0][0], w.leadingContext)
	end := matches[0][1]
	for _, m := range matches[1:] {
		if utf8.RuneCountInString(text[end:m[0]]) <= w.maxGap {
			end = m[1]
			continue
		}
		windows = appendTrimmed(windows, text[start:end])
		start, end = m[0], m[1]
	}
	windows = appendTrimmed(windows, text[start:end])

	return strings.Join(windows, "\n")
}

// Density returns the number of script runes and of non-space runes in text.
func (w *windower) Density(text string) (script, retained int) {
	for _, m := range w.re.FindAllStringIndex(text, -1) {
		script += utf8.RuneCountInString(text[m[0]:m[1]])
	}
	for _, r := range text {
		if !unicode.IsSpace(r) {
			retained++
		}
	}
	return script, retained
}

func appendTrimmed(windows []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		windows = append(windows, s)
	}
	return windows
}

// backRunes returns the byte offset n runes before pos, or 0.
func backRunes(text string, pos, n int) int {
	for ; n > 0 && pos > 0; n-- {
		_, size := utf8.DecodeLastRuneInString(text[:pos])
		pos -= size
	}
	return pos
}
