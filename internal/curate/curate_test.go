package curate

import (
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/ligustah/ccsift/internal/htmltext"
	"github.com/ligustah/ccsift/internal/langid"
)

const sentence60 = "私たちは毎朝七時に起きて近くの大きな公園をゆっくり散歩してから、家族と一緒に温かい朝ごはんを食べてから駅へと向かいます。"

func TestEndToEndDocument(t *testing.T) {
	e := newTestEngine(t, DefaultOptions())

	page := `<html><head><title>日本語のテストページ</title></head>
<body><nav><a href="/">ホーム</a></nav><p>` + sentence60 + `</p></body></html>`

	units := e.Process(page)
	if len(units) != 1 {
		t.Fatalf("expected 1 unit, got %d: %q", len(units), units)
	}
	if units[0] != sentence60 {
		t.Errorf("unit = %q, want %q", units[0], sentence60)
	}

	english := `<html><head><title>English page</title></head>
<body><p>This page only has English text and nothing in the target script at all.</p></body></html>`
	res := e.Evaluate(english)
	if len(res.Units) != 0 || res.Reason != RejectedScript {
		t.Errorf("expected script rejection, got %+v", res)
	}
}

func TestGateOrder(t *testing.T) {
	pred := &countingPredictor{Predictor: langid.NewPredictor(kanaDetector{}, 0)}
	e, err := New(htmltext.New(), pred, runeTokenizer{}, DefaultOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Title fails, lang attribute admits; descriptions and samples are not probed.
	page := `<html lang="ja-JP"><head><title>Plain title</title>
<meta name="description" content="説明"></head><body><p>` + sentence60 + `</p></body></html>`
	if res := e.Evaluate(page); res.Reason != Accepted {
		t.Fatalf("expected acceptance, got %v", res.Reason)
	}
	if !reflect.DeepEqual(pred.calls, []string{"Plain title"}) {
		t.Errorf("Predict calls = %q", pred.calls)
	}

	// Kana only inside a script: plausible, but no probed field passes.
	pred.calls = nil
	page = `<html><head><title>Plain</title><script>var s = "ひらがな";</script></head>
<body><h1>Heading</h1><p>Paragraph</p><a href="#">link</a></body></html>`
	if res := e.Evaluate(page); res.Reason != RejectedLanguage {
		t.Errorf("expected language rejection, got %v", res.Reason)
	}
	if want := []string{"Plain", "Heading", "Paragraph", "link"}; !reflect.DeepEqual(pred.calls, want) {
		t.Errorf("Predict calls = %q, want %q", pred.calls, want)
	}
}

func TestShortTextRejected(t *testing.T) {
	e := newTestEngine(t, DefaultOptions())
	res := e.Evaluate(`<html><head><title>短いページ</title></head><body><p>こんにちは</p></body></html>`)
	if res.Reason != RejectedShortText {
		t.Errorf("expected short text rejection, got %v", res.Reason)
	}
}

func TestWindowMergesAndKeepsContext(t *testing.T) {
	e := newTestEngine(t, DefaultOptions())

	text := "Header nav stuff これは日本語の文章です。" +
		strings.Repeat("x", 40) +
		"二つ目の窓もあります。short gap 続きの文です。"
	got := e.win.Window(text)
	want := "Header nav stuff これは日本語の文章です。\n" +
		"二つ目の窓もあります。short gap 続きの文です。"
	if got != want {
		t.Errorf("Window:\n got %q\nwant %q", got, want)
	}
}

func TestWindowLeadingContextLimit(t *testing.T) {
	e := newTestEngine(t, DefaultOptions())

	text := strings.Repeat("a", 80) + "日本語"
	got := e.win.Window(text)
	if want := strings.Repeat("a", 50) + "日本語"; got != want {
		t.Errorf("Window = %q, want %q", got, want)
	}
}

func TestWindowIdempotent(t *testing.T) {
	e := newTestEngine(t, DefaultOptions())

	text := "メニュー | Home | About\n" +
		sentence60 + "\n" +
		strings.Repeat("Lorem ipsum dolor sit amet ", 3) + "\n" +
		"今日は晴れています。明日も晴れるでしょう。(予報)"

	once, ok := e.Window(text)
	if !ok {
		t.Fatalf("expected first pass to be accepted: %q", once)
	}
	twice, ok := e.Window(once)
	if !ok {
		t.Fatal("expected second pass to be accepted")
	}
	if once != twice {
		t.Errorf("windowing is not idempotent:\n once %q\ntwice %q", once, twice)
	}
}

func TestWindowDensityRejection(t *testing.T) {
	e := newTestEngine(t, DefaultOptions())

	if _, ok := e.Window("日本語の短い文。"); ok {
		t.Error("expected short retained text to be rejected")
	}

	sparse := strings.Repeat("日本 and some words ", 10)
	if _, ok := e.Window(sparse); ok {
		t.Error("expected low script density to be rejected")
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("一文目です。二文目です。\n見出し\n  \n三文目。残り", "。")
	want := []string{"一文目です。", "二文目です。", "見出し", "三文目。", "残り"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitSentences = %q, want %q", got, want)
	}
}

func TestLengthMultiplierMonotonic(t *testing.T) {
	s := &scorer{opts: DefaultOptions(), tok: runeTokenizer{}}

	prev := -1.0
	for _, n := range []int{5, 15, 40} {
		m := s.lengthMultiplier(n)
		if m <= prev {
			t.Errorf("multiplier at %d runes = %v, not above %v", n, m, prev)
		}
		prev = m
	}

	tests := map[int]float64{9: 0, 10: 1.0, 19: 1.0, 20: 1.2, 80: 1.2, 81: 1.0, 200: 1.0, 201: 0.7, 5000: 0.7}
	for n, want := range tests {
		if got := s.lengthMultiplier(n); got != want {
			t.Errorf("lengthMultiplier(%d) = %v, want %v", n, got, want)
		}
	}
}

func TestScore(t *testing.T) {
	s := &scorer{opts: DefaultOptions(), tok: runeTokenizer{}}

	if got := s.Score("日本語の文章です"); got != 0 {
		t.Errorf("8 rune sentence scored %v, want 0", got)
	}

	plain := "東京の空は今日も三回とても青くて綺麗でした。"
	digit := "東京の空は今日も3回とても青くて綺麗でした。"
	p, d := s.Score(plain), s.Score(digit)
	if p <= 0 {
		t.Fatalf("expected positive score, got %v", p)
	}
	if math.Abs(d-p*1.3) > 1e-9 {
		t.Errorf("digit score = %v, want %v", d, p*1.3)
	}

	// 22 runes: 10 content nouns, 11 particles, 1 symbol.
	want := (0.6 + 10.0/22.0) * 1.2 * 1.2
	if math.Abs(p-want) > 1e-9 {
		t.Errorf("score = %v, want %v", p, want)
	}
}

func TestScorePreFilters(t *testing.T) {
	s := &scorer{opts: DefaultOptions(), tok: runeTokenizer{}}

	tests := map[string]string{
		"denylist":     "こちらからログインしてご利用ください。",
		"ascii":        "This sentence is mostly English 日本語です。",
		"all nouns":    "東京都庁舎建設計画概要説明資料一覧表",
		"all particle": "ああいいうえおかきくけこさしすせそ",
	}
	for name, text := range tests {
		if got := s.Score(text); got != 0 {
			t.Errorf("%s: Score(%q) = %v, want 0", name, text, got)
		}
	}
}

func TestContentWords(t *testing.T) {
	s := &scorer{opts: DefaultOptions()}
	tests := []struct {
		pos, detail, base string
		want              bool
	}{
		{"名詞", "一般", "猫", true},
		{"副詞", "一般", "とても", true},
		{"名詞", "非自立", "こと", false},
		{"名詞", "接尾", "さん", false},
		{"動詞", "自立", "する", false},
		{"動詞", "自立", "走る", true},
		{"助詞", "格助詞", "が", false},
	}
	for _, tt := range tests {
		tok := runeTokenizer{}.Tokenize("x")[0]
		tok.POS, tok.Detail, tok.Base = tt.pos, tt.detail, tt.base
		if got := s.isContent(tok); got != tt.want {
			t.Errorf("isContent(%s/%s/%s) = %v, want %v", tt.pos, tt.detail, tt.base, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	ss := []ScoredSentence{{RawScore: 2}, {RawScore: 1}, {RawScore: 0}}
	normalize(ss)
	for i, want := range []float64{1, 0.5, 0} {
		if ss[i].Score != want {
			t.Errorf("sentence %d normalised to %v, want %v", i, ss[i].Score, want)
		}
	}

	zero := []ScoredSentence{{RawScore: 0}, {RawScore: 0}}
	normalize(zero)
	for i := range zero {
		if zero[i].Score != 0 {
			t.Errorf("zero sentence %d normalised to %v", i, zero[i].Score)
		}
	}
}

func TestMergeAdjacent(t *testing.T) {
	var kept []ScoredSentence
	for _, p := range []int{0, 1, 2, 5, 6} {
		kept = append(kept, ScoredSentence{Position: p})
	}

	groups := mergeAdjacent(kept, 3)
	var got [][]int
	for _, g := range groups {
		var ps []int
		for _, s := range g {
			ps = append(ps, s.Position)
		}
		got = append(got, ps)
	}
	if want := [][]int{{0, 1, 2}, {5, 6}}; !reflect.DeepEqual(got, want) {
		t.Errorf("groups = %v, want %v", got, want)
	}

	// One low-scoring sentence in between still merges.
	groups = mergeAdjacent([]ScoredSentence{{Position: 0}, {Position: 2}}, 3)
	if len(groups) != 1 {
		t.Errorf("expected positions 0 and 2 to merge, got %d groups", len(groups))
	}
}

func TestSelect(t *testing.T) {
	e := newTestEngine(t, DefaultOptions())

	long := strings.Repeat("あ", 20)
	sentences := []ScoredSentence{
		{Position: 0, Score: 1.0, Text: long + "。"},
		{Position: 1, Score: 0.2, Text: "低い。"},
		{Position: 2, Score: 0.6, Text: long + "。"},
		{Position: 5, Score: 0.9, Text: "短い文です。"},
		{Position: 8, Score: 0.9, Text: long + "ログイン" + long},
	}

	units := e.Select(sentences)
	want := []string{long + "。" + long + "。"}
	if !reflect.DeepEqual(units, want) {
		t.Errorf("Select = %q, want %q", units, want)
	}
}

func TestDenylistRejectsMergedUnit(t *testing.T) {
	opts := DefaultOptions()
	opts.Denylist = []string{"送料無料"}
	e := newTestEngine(t, opts)

	units := e.Select([]ScoredSentence{
		{Position: 0, Score: 1, Text: "今なら全品送料無"},
		{Position: 1, Score: 1, Text: "料でお届けします。お早めにご注文くださいますようお願い申し上げます。"},
	})
	if len(units) != 0 {
		t.Errorf("expected the merged unit to be denied, got %q", units)
	}
}

func TestOptionsValidate(t *testing.T) {
	if err := DefaultOptions().Validate(); err != nil {
		t.Fatalf("default options invalid: %v", err)
	}

	bad := DefaultOptions()
	bad.ScriptPattern = "["
	bad.MinOtherRatio = 0.9
	bad.LengthBrackets = []Bracket{{MaxRunes: 10}, {MaxRunes: 5}}
	if err := bad.Validate(); err == nil {
		t.Error("expected validation errors")
	}

	if _, err := New(htmltext.New(), langid.NewPredictor(kanaDetector{}, 0), runeTokenizer{}, bad); err == nil {
		t.Error("expected New to reject invalid options")
	}
}

func TestReasonString(t *testing.T) {
	if Accepted.String() != "accepted" || RejectedDensity.String() != "density" {
		t.Error("unexpected reason names")
	}
	if Reason(99).String() != "reason(99)" {
		t.Errorf("unexpected name for unknown reason: %s", Reason(99))
	}
}
