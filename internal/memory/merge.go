package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rcliao/aime/internal/model"
	"github.com/rcliao/aime/internal/store"
	"github.com/rcliao/aime/internal/summary"
)

// MergeSessions combines at least two stored sessions into a new one. Turns
// are ordered by timestamp and re-indexed, the time span covers all inputs,
// titles are joined, and the input ids are kept in Linked. The inputs are
// removed; the summary and payload are computed fresh.
func (m *Manager) MergeSessions(ctx context.Context, ids []string) (*model.Session, error) {
	unique := make([]string, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	if len(unique) < 2 {
		return nil, &model.ValidationError{Field: "ids", Reason: fmt.Sprintf("merge needs at least 2 distinct sessions, got %d", len(unique))}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	inputs := make([]*model.Session, 0, len(unique))
	for _, id := range unique {
		s, ok := m.cache[id]
		if !ok {
			return nil, &model.NotFoundError{Kind: "session", ID: id}
		}
		inputs = append(inputs, s)
	}

	merged := &model.Session{
		ID:        store.NewID(),
		OriginURL: inputs[0].OriginURL,
		Platform:  inputs[0].Platform,
		Linked:    unique,
	}
	var titles []string
	for i, s := range inputs {
		merged.Turns = append(merged.Turns, s.Turns...)
		if s.Title != "" {
			titles = append(titles, s.Title)
		}
		end := s.EndTime
		if end == 0 {
			end = s.LastTurnTime()
		}
		if i == 0 || s.StartTime < merged.StartTime {
			merged.StartTime = s.StartTime
		}
		if end > merged.EndTime {
			merged.EndTime = end
		}
	}
	merged.Title = strings.Join(titles, " | ")

	turns := append([]model.Turn(nil), merged.Turns...)
	sort.SliceStable(turns, func(i, j int) bool { return turns[i].Timestamp < turns[j].Timestamp })
	for i := range turns {
		turns[i].Index = i
	}
	merged.Turns = turns

	if err := summary.Enrich(merged, m.fp); err != nil {
		return nil, err
	}
	if err := m.writeLocked(ctx, merged, unique); err != nil {
		return nil, err
	}
	defer m.recomputeStats()
	if err := m.evictLocked(ctx); err != nil {
		return nil, err
	}
	m.log.Info("sessions merged", "id", merged.ID, "linked", unique, "turns", len(merged.Turns))
	return merged.Clone(), nil
}
