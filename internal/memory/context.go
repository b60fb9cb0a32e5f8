package memory

import (
	"context"
	"math"
	"strings"
	"unicode/utf8"
)

// DefaultContextBudget is the token budget used when none is given.
const DefaultContextBudget = 4000

// minExcerpt is the smallest remainder worth filling with a partial entry.
const minExcerpt = 100

// ContextSession is one packed entry of a ContextResult.
type ContextSession struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
	Excerpt bool    `json:"excerpt,omitempty"`
}

// ContextResult is prior conversation packed into a token budget.
type ContextResult struct {
	Budget   int              `json:"budget"`
	Used     int              `json:"used"`
	Sessions []ContextSession `json:"sessions"`
}

// Context packs the best search results for query into budget tokens
// (about four characters each). Entries are taken in rank order; the first
// one that does not fit is excerpted if enough room remains.
func (m *Manager) Context(ctx context.Context, query string, budget int) (*ContextResult, error) {
	if budget <= 0 {
		budget = DefaultContextBudget
	}
	charBudget := budget * 4

	results, err := m.Search(ctx, query, 0)
	if err != nil {
		return nil, err
	}

	res := &ContextResult{Budget: budget, Sessions: []ContextSession{}}
	used := 0
	for _, r := range results {
		content := contextContent(r)
		entry := ContextSession{
			ID:    r.Session.ID,
			Title: r.Session.Title,
			Score: math.Round(r.Score*100) / 100,
		}
		if used+len(content) <= charBudget {
			entry.Content = content
			res.Sessions = append(res.Sessions, entry)
			used += len(content)
			continue
		}
		if remaining := charBudget - used; remaining >= minExcerpt {
			entry.Content = truncateBytes(content, remaining) + "..."
			entry.Excerpt = true
			res.Sessions = append(res.Sessions, entry)
			used += len(entry.Content)
		}
		break
	}
	res.Used = used / 4
	return res, nil
}

func contextContent(r SearchResult) string {
	var b strings.Builder
	if r.Session.Summary != nil {
		b.WriteString(r.Session.Summary.Narrative)
	}
	if r.TurnIndex >= 0 {
		for _, t := range r.Session.Turns {
			if t.Index == r.TurnIndex {
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				b.WriteString(string(t.Role) + ": " + t.Content)
				break
			}
		}
	}
	return b.String()
}

// truncateBytes cuts s to at most n bytes on a rune boundary.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
