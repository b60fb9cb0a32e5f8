// Package extract scans conversational text for lightweight semantic signals:
// concepts, decisions and code. Results are heuristics, not ground truth.
package extract

import (
	"regexp"
	"strings"
)

// Decision is a matched choice statement.
type Decision struct {
	Content     string `json:"content"`
	Choice      string `json:"choice"`
	Alternative string `json:"alternative,omitempty"`
}

// CodeBlock is a fenced code block, captured verbatim.
type CodeBlock struct {
	Language string `json:"language,omitempty"`
	Code     string `json:"code"`
	Length   int    `json:"length"`
}

// InlineCode groups short inline code spans.
type InlineCode struct {
	Spans []string `json:"spans"`
	Count int      `json:"count"`
}

// Code holds all code found in a text.
type Code struct {
	Blocks []CodeBlock `json:"blocks"`
	Inline InlineCode  `json:"inline"`
}

// Analysis is the result of Analyze.
type Analysis struct {
	Concepts  []string   `json:"concepts"`
	Decisions []Decision `json:"decisions"`
	Code      Code       `json:"code"`
	WordCount int        `json:"wordCount"`
}

// maxInlineSpan bounds inline code spans; longer ones are not collected.
const maxInlineSpan = 100

var (
	fencedRe      = regexp.MustCompile("(?s)```([A-Za-z0-9_+#.-]*)[ \\t]*\\n?(.*?)```")
	inlineRe      = regexp.MustCompile("`([^`\\n]+)`")
	capitalizedRe = regexp.MustCompile(`\b[A-Z][A-Za-z0-9]*[A-Za-z0-9]\b`)
	quotedRe      = regexp.MustCompile(`"([^"\n]{3,100})"|“([^”\n]{3,100})”`)
)

// decisionPattern captures a choice and an optional alternative by group index.
type decisionPattern struct {
	re          *regexp.Regexp
	choice      int
	alternative int
}

const term = `([A-Za-z0-9_.+#/-]+)`

// Patterns are tried in order; the first match for a (choice, alternative) pair wins.
var decisionPatterns = []decisionPattern{
	{regexp.MustCompile(`(?i)\b(?:decided|decide|chose|agreed) to (?:use|go with|adopt|stick with) ` + term + `(?:\s+(?:instead of|over|rather than)\s+` + term + `)?`), 1, 2},
	{regexp.MustCompile(`(?i)\bgoing with ` + term + `(?:\s+(?:instead of|over|rather than)\s+` + term + `)?`), 1, 2},
	{regexp.MustCompile(`(?i)\bswitch(?:ed|ing)?\s+from\s+` + term + `\s+to\s+` + term), 2, 1},
	{regexp.MustCompile(`(?i)\bswitch(?:ed|ing)?\s+to\s+` + term), 1, 0},
	{regexp.MustCompile(`(?i)\b(?:use|using|chose|choose|pick|picked|prefer)\s+` + term + `\s+(?:instead of|rather than)\s+` + term), 1, 2},
	{regexp.MustCompile(`(?i)\b(?:we'll|we will|let's|i'll|we should) use ` + term), 1, 0},
	{regexp.MustCompile(`(?i)\bwe chose ` + term + `(?:\s+over\s+` + term + `)?`), 1, 2},
	{regexp.MustCompile(`(?i)\b` + term + `\s+(?:instead of|rather than)\s+` + term), 1, 2},
}

// Analyze extracts concepts, decisions and code from text. It never fails;
// unusual input yields empty groups.
func Analyze(text string) Analysis {
	a := Analysis{
		Concepts:  []string{},
		Decisions: []Decision{},
		Code: Code{
			Blocks: []CodeBlock{},
			Inline: InlineCode{Spans: []string{}},
		},
		WordCount: len(strings.Fields(text)),
	}
	if text == "" {
		return a
	}

	prose := text
	for _, m := range fencedRe.FindAllStringSubmatch(text, -1) {
		a.Code.Blocks = append(a.Code.Blocks, CodeBlock{
			Language: strings.ToLower(m[1]),
			Code:     m[2],
			Length:   len(m[2]),
		})
	}
	prose = fencedRe.ReplaceAllString(prose, " ")

	for _, m := range inlineRe.FindAllStringSubmatch(prose, -1) {
		span := strings.TrimSpace(m[1])
		if span == "" || len(span) >= maxInlineSpan {
			continue
		}
		a.Code.Inline.Spans = append(a.Code.Inline.Spans, span)
	}
	a.Code.Inline.Count = len(a.Code.Inline.Spans)
	prose = inlineRe.ReplaceAllString(prose, " ")

	a.Concepts = concepts(prose)
	a.Decisions = decisions(prose)
	return a
}

func concepts(text string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			return
		}
		seen[c] = true
		out = append(out, c)
	}

	for _, tok := range capitalizedRe.FindAllString(text, -1) {
		if stopwords[strings.ToLower(tok)] {
			continue
		}
		add(tok)
	}
	for _, name := range techTerms(text) {
		add(name)
	}
	for _, m := range quotedRe.FindAllStringSubmatch(text, -1) {
		q := m[1]
		if q == "" {
			q = m[2]
		}
		if len(strings.TrimSpace(q)) >= 3 {
			add(q)
		}
	}
	if out == nil {
		return []string{}
	}
	return out
}

func decisions(text string) []Decision {
	type key struct{ choice, alt string }
	seen := map[key]bool{}
	out := []Decision{}

	for _, p := range decisionPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			d := Decision{
				Content: strings.TrimSpace(m[0]),
				Choice:  cleanTerm(m[p.choice]),
			}
			if p.alternative > 0 && p.alternative < len(m) {
				d.Alternative = cleanTerm(m[p.alternative])
			}
			if d.Choice == "" || stopwords[strings.ToLower(d.Choice)] {
				continue
			}
			k := key{strings.ToLower(d.Choice), strings.ToLower(d.Alternative)}
			if seen[k] {
				continue
			}
			// A bare choice already reported with an alternative is the same decision.
			if d.Alternative == "" && hasChoice(out, d.Choice) {
				continue
			}
			seen[k] = true
			out = append(out, d)
		}
	}
	return out
}

func hasChoice(ds []Decision, choice string) bool {
	for _, d := range ds {
		if strings.EqualFold(d.Choice, choice) {
			return true
		}
	}
	return false
}

func cleanTerm(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), ".,;:!?")
}
