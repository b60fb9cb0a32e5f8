package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rcliao/aime/internal/codec"
	"github.com/rcliao/aime/internal/model"
	"github.com/rcliao/aime/internal/store"
	"github.com/rcliao/aime/internal/summary"
)

// ArchiveVersion is the only archive format version Import accepts.
const ArchiveVersion = "1.0.0"

// Archive is the portable .aime export format. Data holds the LZW-packed JSON
// array of sessions; Sessions optionally carries the same sessions in plain
// form. Unknown fields are ignored on import.
type Archive struct {
	Version  string                  `json:"version"`
	Created  string                  `json:"created"`
	Index    ArchiveIndex            `json:"index"`
	Data     model.CompressedPayload `json:"data"`
	Sessions []model.Session         `json:"sessions,omitempty"`
}

// ArchiveIndex describes an archive without decompressing it.
type ArchiveIndex struct {
	MessageCount int                         `json:"messageCount"`
	SessionCount int                         `json:"sessionCount"`
	ConceptCount int                         `json:"conceptCount"`
	TimeRange    TimeRange                   `json:"timeRange"`
	Concepts     map[string][]ArchiveConcept `json:"concepts"`
}

// TimeRange spans the archived sessions in Unix milliseconds.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// ArchiveConcept is one concept entry of the archive index.
type ArchiveConcept struct {
	Content     string   `json:"content"`
	Frequency   int      `json:"frequency"`
	SessionRefs []string `json:"sessionRefs"`
}

// ImportResult reports what Import stored.
type ImportResult struct {
	Sessions int `json:"sessions"`
	Concepts int `json:"concepts"`
	Skipped  int `json:"skipped"`
}

// Export snapshots every session. Summaries and per-session payloads are
// left out; Import recomputes them from turns. When plain is set the
// sessions are also included uncompressed.
func (m *Manager) Export(ctx context.Context, plain bool) (*Archive, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.sessionList()
	sessions := make([]model.Session, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		s := list[i].Clone()
		s.Summary = nil
		s.Compressed = nil
		sessions = append(sessions, *s)
	}

	raw, err := json.Marshal(sessions)
	if err != nil {
		return nil, fmt.Errorf("marshal sessions: %w", err)
	}

	a := &Archive{
		Version: ArchiveVersion,
		Created: time.Now().UTC().Format(time.RFC3339),
		Data:    codec.Pack(string(raw)),
		Index: ArchiveIndex{
			SessionCount: len(sessions),
			ConceptCount: m.conceptIdx.len(),
			Concepts:     map[string][]ArchiveConcept{},
		},
	}
	for i, s := range sessions {
		a.Index.MessageCount += len(s.Turns)
		if i == 0 || s.StartTime < a.Index.TimeRange.Start {
			a.Index.TimeRange.Start = s.StartTime
		}
		if s.EndTime > a.Index.TimeRange.End {
			a.Index.TimeRange.End = s.EndTime
		}
	}
	for _, c := range m.conceptIdx.list("") {
		a.Index.Concepts[string(c.Type)] = append(a.Index.Concepts[string(c.Type)], ArchiveConcept{
			Content:     c.Content,
			Frequency:   c.Frequency,
			SessionRefs: c.SessionRefs,
		})
	}
	if plain {
		a.Sessions = sessions
	}
	m.log.Info("archive exported", "sessions", len(sessions), "bytes", a.Data.OriginalSize, "compressed", a.Data.CompressedSize)
	return a, nil
}

// ParseArchive decodes and checks an archive blob without touching state.
func ParseArchive(data []byte) (*Archive, []model.Session, error) {
	var a Archive
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, nil, &model.CorruptDataError{Source: "archive", Offset: -1, Reason: "invalid JSON", Err: err}
	}
	switch a.Version {
	case "":
		return nil, nil, &model.CorruptDataError{Source: "archive", Offset: -1, Reason: "missing version"}
	case ArchiveVersion:
	default:
		return nil, nil, &model.CorruptDataError{Source: "archive", Offset: -1, Reason: fmt.Sprintf("unsupported version %q", a.Version)}
	}

	var sessions []model.Session
	switch {
	case a.Data.Data != "":
		raw, err := codec.Unpack(a.Data)
		if err != nil {
			return nil, nil, err
		}
		if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
			return nil, nil, &model.CorruptDataError{Source: "archive", Offset: -1, Reason: "invalid session data", Err: err}
		}
	case a.Sessions != nil:
		sessions = a.Sessions
	default:
		return nil, nil, &model.CorruptDataError{Source: "archive", Offset: -1, Reason: "no session data"}
	}

	for i := range sessions {
		if err := validateSession(&sessions[i]); err != nil {
			return nil, nil, &model.CorruptDataError{Source: "archive", Offset: i, Reason: "invalid session", Err: err}
		}
	}
	return &a, sessions, nil
}

// Import replaces all stored sessions and concepts with the archive content.
// Nothing changes unless the whole archive is valid and the store accepts
// every record in one transaction. Drafts are left alone.
func (m *Manager) Import(ctx context.Context, data []byte) (*ImportResult, error) {
	_, sessions, err := ParseArchive(data)
	if err != nil {
		return nil, err
	}

	// Same dedup policy as Ingest, applied in archive order.
	kept := map[string]*model.Session{}
	skipped := 0
	for i := range sessions {
		s := sessions[i].Clone()
		var replaced []*model.Session
		for id, prev := range kept {
			if id == s.ID || (s.OriginKey != "" && prev.OriginKey == s.OriginKey) {
				replaced = append(replaced, prev)
				delete(kept, id)
				skipped++
			}
		}
		if start, ok := inheritedStart(s.ID, replaced); ok {
			s.StartTime = start
		}
		if err := m.prepare(s); err != nil {
			return nil, err
		}
		kept[s.ID] = s
	}

	list := make([]*model.Session, 0, len(kept))
	for _, s := range kept {
		list = append(list, s)
	}
	sortNewestFirst(list)
	if len(list) > m.opts.MaxSessions {
		skipped += len(list) - m.opts.MaxSessions
		list = list[:m.opts.MaxSessions]
	}

	var sessRecs, conceptRecs []store.Record
	var concepts []model.ConceptRecord
	for _, s := range list {
		r, err := m.sessions.Encode(*s)
		if err != nil {
			return nil, err
		}
		sessRecs = append(sessRecs, r)
		for _, c := range summary.ConceptRecords(s) {
			c.ID = store.NewID()
			cr, err := m.concepts.Encode(c)
			if err != nil {
				return nil, err
			}
			conceptRecs = append(conceptRecs, cr)
			concepts = append(concepts, c)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.st.ReplaceAll(ctx, map[string][]store.Record{
		store.Sessions: sessRecs,
		store.Concepts: conceptRecs,
	}); err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}

	m.cache = make(map[string]*model.Session, len(list))
	for _, s := range list {
		m.cache[s.ID] = s
	}
	m.conceptIdx = newConceptIndex()
	for _, c := range concepts {
		m.conceptIdx.add(c)
	}
	if err := m.index.Rebuild(ctx, list); err != nil {
		m.log.Warn("rebuild vector index", "err", err)
	}
	m.recomputeStats()

	res := &ImportResult{Sessions: len(list), Concepts: len(concepts), Skipped: skipped}
	m.log.Info("archive imported", "sessions", res.Sessions, "concepts", res.Concepts, "skipped", res.Skipped)
	return res, nil
}
