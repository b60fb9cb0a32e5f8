// Package summary derives the recomputable parts of a session from its turns:
// the Summary, the title, the compressed payload and the concept records.
package summary

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rcliao/aime/internal/codec"
	"github.com/rcliao/aime/internal/extract"
	"github.com/rcliao/aime/internal/fingerprint"
	"github.com/rcliao/aime/internal/model"
)

const (
	// TitleRunes caps derived titles.
	TitleRunes = 60
	// MaxTopics caps SemanticSummary.Topics.
	MaxTopics = 10

	previewRunes = 120
)

// Build computes a Summary from turns alone. It is deterministic.
func Build(turns []model.Turn, fp *fingerprint.Engine) model.Summary {
	sum := model.Summary{
		Pairs: make([]model.PairRecord, 0, len(turns)),
		Semantic: model.SemanticSummary{
			Topics:     []string{},
			TurnCounts: map[model.Role]int{},
		},
	}

	var md strings.Builder
	texts := make([]string, 0, len(turns))
	for _, t := range turns {
		sum.Pairs = append(sum.Pairs, model.PairRecord{Role: t.Role, Content: t.Content})
		sum.Semantic.TurnCounts[t.Role]++
		sum.Semantic.TotalLength += len(t.Content)
		texts = append(texts, t.Content)

		fmt.Fprintf(&md, "### %s\n\n%s\n\n", heading(t.Role), strings.TrimSpace(t.Content))
	}
	sum.Markup = strings.TrimRight(md.String(), "\n")
	sum.Semantic.Topics = topics(turns)
	sum.Narrative = narrative(turns, sum.Semantic)
	if fp != nil {
		sum.Fingerprint = fp.Vector(strings.Join(texts, "\n"))
	}
	return sum
}

func heading(r model.Role) string {
	switch r {
	case model.RoleUser:
		return "User"
	case model.RoleAssistant:
		return "Assistant"
	default:
		return "System"
	}
}

// topics ranks concepts by the number of turns mentioning them; ties keep
// first-appearance order.
func topics(turns []model.Turn) []string {
	freq := map[string]int{}
	var order []string
	for _, t := range turns {
		for _, c := range extract.Analyze(t.Content).Concepts {
			if _, ok := freq[c]; !ok {
				order = append(order, c)
			}
			freq[c]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return freq[order[i]] > freq[order[j]] })
	if len(order) > MaxTopics {
		order = order[:MaxTopics]
	}
	if order == nil {
		return []string{}
	}
	return order
}

func narrative(turns []model.Turn, sem model.SemanticSummary) string {
	if len(turns) == 0 {
		return "Empty conversation."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation of %d turns (%d user, %d assistant)",
		len(turns), sem.TurnCounts[model.RoleUser], sem.TurnCounts[model.RoleAssistant])
	if len(sem.Topics) > 0 {
		n := len(sem.Topics)
		if n > 5 {
			n = 5
		}
		fmt.Fprintf(&b, " about %s", strings.Join(sem.Topics[:n], ", "))
	}
	b.WriteString(".")
	if first, ok := firstByRole(turns, model.RoleUser); ok {
		fmt.Fprintf(&b, " Started with: %s", Preview(first.Content, previewRunes))
	}
	return b.String()
}

func firstByRole(turns []model.Turn, role model.Role) (model.Turn, bool) {
	for _, t := range turns {
		if t.Role == role {
			return t, true
		}
	}
	return model.Turn{}, false
}

// Preview collapses whitespace and truncates to n runes with an ellipsis.
func Preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

// Title is the first user turn truncated to TitleRunes, falling back to the
// first turn of any role.
func Title(turns []model.Turn) string {
	t, ok := firstByRole(turns, model.RoleUser)
	if !ok {
		if len(turns) == 0 {
			return ""
		}
		t = turns[0]
	}
	s := strings.Join(strings.Fields(t.Content), " ")
	if utf8.RuneCountInString(s) <= TitleRunes {
		return s
	}
	return string([]rune(s)[:TitleRunes])
}

// Enrich fills the derived fields of s in place: title when missing, a fresh
// Summary and the compressed turn payload. Existing derived data is discarded.
func Enrich(s *model.Session, fp *fingerprint.Engine) error {
	if s.Title == "" {
		s.Title = Title(s.Turns)
	}
	sum := Build(s.Turns, fp)
	s.Summary = &sum

	raw, err := json.Marshal(s.Turns)
	if err != nil {
		return fmt.Errorf("marshal turns: %w", err)
	}
	p := codec.Pack(string(raw))
	s.Compressed = &p
	return nil
}

// ExpandTurns restores turns from a compressed payload produced by Enrich.
func ExpandTurns(p model.CompressedPayload) ([]model.Turn, error) {
	raw, err := codec.Unpack(p)
	if err != nil {
		return nil, err
	}
	var turns []model.Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, &model.CorruptDataError{Source: "turns", Offset: -1, Reason: "invalid turn payload", Err: err}
	}
	return turns, nil
}

// ConceptRecords extracts one record per concept, decision choice and code
// snippet in each turn. Records carry no id; the store assigns one.
func ConceptRecords(s *model.Session) []model.ConceptRecord {
	var out []model.ConceptRecord
	for _, t := range s.Turns {
		a := extract.Analyze(t.Content)
		add := func(typ model.ConceptType, content string) {
			content = strings.TrimSpace(content)
			if content == "" {
				return
			}
			out = append(out, model.ConceptRecord{
				Type:      typ,
				Content:   content,
				SessionID: s.ID,
				TurnIndex: t.Index,
				Timestamp: t.Timestamp,
			})
		}
		for _, c := range a.Concepts {
			add(model.ConceptTerm, c)
		}
		for _, d := range a.Decisions {
			add(model.ConceptDecision, d.Choice)
		}
		for _, b := range a.Code.Blocks {
			add(model.ConceptCode, b.Code)
		}
		for _, span := range a.Code.Inline.Spans {
			add(model.ConceptCode, span)
		}
	}
	return out
}
