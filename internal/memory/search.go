package memory

import (
	"context"
	"strings"

	"github.com/rcliao/aime/internal/fingerprint"
	"github.com/rcliao/aime/internal/model"
	"github.com/rcliao/aime/internal/vectorindex"
)

// SearchResult is a ranked session. TurnIndex names the best matching turn,
// or -1 when the whole-session fingerprint scored highest.
type SearchResult struct {
	Session   *model.Session `json:"session"`
	Score     float64        `json:"score"`
	TurnIndex int            `json:"turnIndex"`
}

// Search ranks sessions by fingerprint similarity to query. Each session is
// scored by its best session or turn match; matches under the threshold are
// dropped and ties go to the more recent session. An empty query returns no
// results.
func (m *Manager) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	out := []SearchResult{}
	if strings.TrimSpace(query) == "" {
		return out, nil
	}
	if limit <= 0 {
		limit = m.opts.SearchLimit
	}

	hits, err := m.index.Query(ctx, m.fp.Vector(query))
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	best := map[string]vectorindex.Hit{}
	for _, h := range hits {
		if _, ok := m.cache[h.SessionID]; !ok {
			continue
		}
		if cur, ok := best[h.SessionID]; !ok || h.Score > cur.Score {
			best[h.SessionID] = h
		}
	}

	matches := make([]fingerprint.Match, 0, len(best))
	for id, h := range best {
		matches = append(matches, fingerprint.Match{ID: id, Score: h.Score, Recency: m.cache[id].StartTime})
	}
	ranked := fingerprint.Rank(matches, m.opts.Threshold)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	for _, r := range ranked {
		out = append(out, SearchResult{
			Session:   m.cache[r.ID].Clone(),
			Score:     r.Score,
			TurnIndex: best[r.ID].TurnIndex,
		})
	}
	return out, nil
}

// SearchKeyword returns sessions containing every query term, case
// insensitively, in the title or any turn. Newest sessions come first.
func (m *Manager) SearchKeyword(query string, limit int) []*model.Session {
	terms := strings.Fields(strings.ToLower(query))
	out := []*model.Session{}
	if len(terms) == 0 {
		return out
	}
	if limit <= 0 {
		limit = m.opts.SearchLimit
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessionList() {
		if !containsAll(s, terms) {
			continue
		}
		out = append(out, s.Clone())
		if len(out) == limit {
			break
		}
	}
	return out
}

func containsAll(s *model.Session, terms []string) bool {
	texts := make([]string, 0, len(s.Turns)+1)
	texts = append(texts, strings.ToLower(s.Title))
	for _, t := range s.Turns {
		texts = append(texts, strings.ToLower(t.Content))
	}
	for _, term := range terms {
		found := false
		for _, txt := range texts {
			if strings.Contains(txt, term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
