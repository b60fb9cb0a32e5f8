package memory

import (
	"sort"

	"github.com/rcliao/aime/internal/model"
)

// ConceptSummary aggregates every record sharing a (type, content) key.
type ConceptSummary struct {
	Type        model.ConceptType `json:"type"`
	Content     string            `json:"content"`
	Frequency   int               `json:"frequency"`
	SessionRefs []string          `json:"sessionRefs"`
}

type conceptKey struct {
	typ     model.ConceptType
	content string
}

type conceptEntry struct {
	perSession map[string]int
	total      int
}

// conceptIndex deduplicates concept records by exact (type, content).
type conceptIndex struct {
	entries map[conceptKey]*conceptEntry
}

func newConceptIndex() *conceptIndex {
	return &conceptIndex{entries: map[conceptKey]*conceptEntry{}}
}

func (ci *conceptIndex) add(r model.ConceptRecord) {
	k := conceptKey{r.Type, r.Content}
	e, ok := ci.entries[k]
	if !ok {
		e = &conceptEntry{perSession: map[string]int{}}
		ci.entries[k] = e
	}
	e.perSession[r.SessionID]++
	e.total++
}

func (ci *conceptIndex) removeSession(sessionID string) {
	for k, e := range ci.entries {
		n, ok := e.perSession[sessionID]
		if !ok {
			continue
		}
		delete(e.perSession, sessionID)
		e.total -= n
		if e.total <= 0 {
			delete(ci.entries, k)
		}
	}
}

func (ci *conceptIndex) len() int { return len(ci.entries) }

func (ci *conceptIndex) summary(k conceptKey) *ConceptSummary {
	e, ok := ci.entries[k]
	if !ok {
		return nil
	}
	refs := make([]string, 0, len(e.perSession))
	for id := range e.perSession {
		refs = append(refs, id)
	}
	sort.Strings(refs)
	return &ConceptSummary{Type: k.typ, Content: k.content, Frequency: e.total, SessionRefs: refs}
}

// list returns summaries of one type (all types when typ is empty), most
// frequent first.
func (ci *conceptIndex) list(typ model.ConceptType) []ConceptSummary {
	out := []ConceptSummary{}
	for k := range ci.entries {
		if typ != "" && k.typ != typ {
			continue
		}
		out = append(out, *ci.summary(k))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Content < out[j].Content
	})
	return out
}

// FindByConcept returns the aggregate for an exact (type, content), or nil.
func (m *Manager) FindByConcept(typ model.ConceptType, content string) *ConceptSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conceptIdx.summary(conceptKey{typ, content})
}

// Concepts lists concepts of one type, or of every type when typ is empty.
func (m *Manager) Concepts(typ model.ConceptType) []ConceptSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conceptIdx.list(typ)
}
