package extract

import (
	"sort"
	"strings"
	"unicode"

	"github.com/perpetual-s/gemi-memory/internal/model"
)

// Heuristic importance range. Fallback memories never outrank what the
// language model or the user would assign to a core fact.
const (
	heuristicMinImportance = 1.5
	heuristicMaxImportance = 3.0

	minSentenceLen = 12
	maxSentenceLen = 280
)

type cue struct {
	phrase string
	weight float64
	tag    string
}

// durableCues mark statements likely to stay true for a long time.
var durableCues = []cue{
	{"my name is", 2, "identity"},
	{"i live in", 1.5, "place"},
	{"i moved to", 1.5, "place"},
	{"i work", 1.5, "work"},
	{"my job", 1.5, "work"},
	{"my boss", 1, "work"},
	{"allergic", 2, "health"},
	{"diagnosed", 2, "health"},
	{"my wife", 1.5, "family"},
	{"my husband", 1.5, "family"},
	{"my partner", 1.5, "family"},
	{"my mom", 1, "family"},
	{"my mother", 1, "family"},
	{"my dad", 1, "family"},
	{"my father", 1, "family"},
	{"my sister", 1, "family"},
	{"my brother", 1, "family"},
	{"my son", 1.5, "family"},
	{"my daughter", 1.5, "family"},
	{"my best friend", 1, "friends"},
	{"my dog", 1, "pets"},
	{"my cat", 1, "pets"},
	{"adopted", 1, "pets"},
	{"favorite", 1, "preference"},
	{"favourite", 1, "preference"},
	{"i love", 1, "preference"},
	{"i hate", 1, "preference"},
	{"i prefer", 1, "preference"},
	{"i always", 1, "habit"},
	{"i never", 1, "habit"},
	{"every day", 0.5, "habit"},
	{"my goal", 1.5, "goal"},
	{"i want to", 0.5, "goal"},
	{"i decided", 1, "goal"},
	{"i'm training for", 1.5, "goal"},
	{"birthday", 1, "date"},
	{"anniversary", 1, "date"},
	{"graduated", 1, "milestone"},
	{"got married", 2, "milestone"},
	{"got engaged", 2, "milestone"},
	{"new job", 1.5, "milestone"},
	{"i realized", 1, "reflection"},
	{"i learned", 1, "reflection"},
}

// ephemeralCues mark passing states that rarely deserve a memory.
var ephemeralCues = []string{
	"today", "tonight", "this morning", "this afternoon", "right now",
	"yesterday", "tired", "sleepy", "weather", "raining", "lunch", "bored",
}

// Heuristic extracts candidates without a language model. It is
// deterministic for a given text.
type Heuristic struct {
	Max int
}

type scoredSentence struct {
	text  string
	score float64
	tags  []string
	pos   int
}

// Extract returns at most h.Max candidates from text.
func (h Heuristic) Extract(text string) []model.Candidate {
	var picked []scoredSentence
	for i, s := range Sentences(text) {
		if len(s) < minSentenceLen || len(s) > maxSentenceLen || strings.HasSuffix(s, "?") {
			continue
		}
		score, tags := scoreSentence(s)
		if score <= 0 {
			continue
		}
		picked = append(picked, scoredSentence{text: s, score: score, tags: tags, pos: i})
	}

	sort.SliceStable(picked, func(i, j int) bool {
		if picked[i].score != picked[j].score {
			return picked[i].score > picked[j].score
		}
		return picked[i].pos < picked[j].pos
	})
	if h.Max > 0 && len(picked) > h.Max {
		picked = picked[:h.Max]
	}

	out := make([]model.Candidate, 0, len(picked))
	for _, p := range picked {
		typ := model.TypeJournalFact
		for _, t := range p.tags {
			if t == "reflection" {
				typ = model.TypeReflection
			}
		}
		out = append(out, model.Candidate{
			Content:    cleanContent(p.text),
			Type:       typ,
			Importance: heuristicImportance(p.score),
			Tags:       p.tags,
		})
	}
	return out
}

func scoreSentence(s string) (float64, []string) {
	lower := strings.ToLower(s)
	var score float64
	var tags []string
	for _, c := range durableCues {
		if strings.Contains(lower, c.phrase) {
			score += c.weight
			tags = append(tags, c.tag)
		}
	}
	if score == 0 {
		return 0, nil
	}
	for _, e := range ephemeralCues {
		if strings.Contains(lower, e) {
			score -= 0.5
		}
	}
	return score, model.NormalizeTags(tags)
}

func heuristicImportance(score float64) float64 {
	v := heuristicMinImportance + (score-1)*0.5
	if v < heuristicMinImportance {
		return heuristicMinImportance
	}
	if v > heuristicMaxImportance {
		return heuristicMaxImportance
	}
	return v
}

// Sentences splits diary text into trimmed sentences. Headings, blank
// lines and list items always end a sentence.
func Sentences(text string) []string {
	var out []string
	for _, block := range splitBlocks(text) {
		out = append(out, splitSentences(block)...)
	}
	return out
}

// splitBlocks splits text on heading lines, list items and blank lines.
func splitBlocks(text string) []string {
	var blocks []string
	var current []string

	flush := func() {
		if len(current) == 0 {
			return
		}
		t := strings.TrimSpace(strings.Join(current, " "))
		if t != "" {
			blocks = append(blocks, t)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
		case strings.HasPrefix(trimmed, "#"):
			flush()
			// Headings are titles, not statements.
		case isListItem(trimmed):
			flush()
			current = append(current, trimmed)
			flush()
		default:
			current = append(current, trimmed)
		}
	}
	flush()
	return blocks
}

func isListItem(s string) bool {
	for _, p := range bulletPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return trimNumbering(s) != s
}

// splitSentences breaks a block after ., ! or ? followed by whitespace and
// an upper-case letter, digit or quote.
func splitSentences(block string) []string {
	runes := []rune(block)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		j := i + 1
		for j < len(runes) && (runes[j] == '.' || runes[j] == '!' || runes[j] == '?' || runes[j] == '"' || runes[j] == '\'' || runes[j] == ')') {
			j++
		}
		if j >= len(runes) || !unicode.IsSpace(runes[j]) {
			continue
		}
		k := j
		for k < len(runes) && unicode.IsSpace(runes[k]) {
			k++
		}
		if k < len(runes) && !(unicode.IsUpper(runes[k]) || unicode.IsDigit(runes[k]) || runes[k] == '"' || runes[k] == 'i') {
			continue
		}
		if s := strings.TrimSpace(string(runes[start:j])); s != "" {
			out = append(out, s)
		}
		start = k
		i = k - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}
