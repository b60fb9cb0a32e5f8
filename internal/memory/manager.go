// Package memory is the façade over stored sessions: ingest with dedup and
// eviction, similarity and keyword search, merge, and archive export/import.
//
// The Manager keeps every stored session in memory. Reads are served from that
// cache so they keep working with the last-known state when the store fails.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/rcliao/aime/internal/fingerprint"
	"github.com/rcliao/aime/internal/logging"
	"github.com/rcliao/aime/internal/model"
	"github.com/rcliao/aime/internal/store"
	"github.com/rcliao/aime/internal/summary"
	"github.com/rcliao/aime/internal/vectorindex"
)

const (
	DefaultMaxSessions = 100
	DefaultSearchLimit = 20
	DefaultRecentLimit = 10
)

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	MaxSessions int
	Threshold   float64
	SearchLimit int
	Fingerprint *fingerprint.Engine
	Logger      *log.Logger
}

// Stats are aggregate figures recomputed after every mutation.
type Stats struct {
	Count        int   `json:"count"`
	TotalBytes   int   `json:"totalBytes"`
	ConceptCount int   `json:"conceptCount"`
	TurnCount    int   `json:"turnCount"`
	OldestStart  int64 `json:"oldestStart,omitempty"`
	NewestStart  int64 `json:"newestStart,omitempty"`
}

// Manager owns the canonical sessions and the concept index.
// Only one Manager should be open per Store.
type Manager struct {
	mu sync.RWMutex

	sessions *store.Collection[model.Session]
	concepts *store.Collection[model.ConceptRecord]
	drafts   *store.Collection[model.Session]
	st       store.Store

	fp    *fingerprint.Engine
	index *vectorindex.Index
	log   *log.Logger
	opts  Options

	cache      map[string]*model.Session
	conceptIdx *conceptIndex
	stats      Stats
}

// Open loads every stored session and concept and builds the search index.
func Open(ctx context.Context, st store.Store, opts Options) (*Manager, error) {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.Threshold <= 0 {
		opts.Threshold = fingerprint.DefaultThreshold
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = DefaultSearchLimit
	}
	if opts.Fingerprint == nil {
		opts.Fingerprint = fingerprint.New(fingerprint.Options{})
	}

	idx, err := vectorindex.New(opts.Fingerprint)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		sessions:   store.NewCollection[model.Session](st, store.Sessions),
		concepts:   store.NewCollection[model.ConceptRecord](st, store.Concepts),
		drafts:     store.NewCollection[model.Session](st, store.Drafts),
		st:         st,
		fp:         opts.Fingerprint,
		index:      idx,
		log:        logging.OrDiscard(opts.Logger),
		opts:       opts,
		cache:      map[string]*model.Session{},
		conceptIdx: newConceptIndex(),
	}

	all, err := m.sessions.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	for i := range all {
		s := all[i]
		m.cache[s.ID] = &s
	}

	recs, err := m.concepts.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load concepts: %w", err)
	}
	for _, r := range recs {
		if _, ok := m.cache[r.SessionID]; ok {
			m.conceptIdx.add(r)
		}
	}

	if err := m.index.Rebuild(ctx, m.sessionList()); err != nil {
		return nil, err
	}
	m.recomputeStats()
	m.log.Debug("memory opened", "sessions", len(m.cache), "concepts", m.conceptIdx.len())
	return m, nil
}

// Fingerprint returns the engine used for session and query vectors.
func (m *Manager) Fingerprint() *fingerprint.Engine { return m.fp }

// Ingest stores a closed session. A stored session with the same id or the
// same origin key is replaced by s, keeping the stored StartTime. The
// collection is then trimmed to the newest MaxSessions by StartTime.
func (m *Manager) Ingest(ctx context.Context, s *model.Session) error {
	if err := validateSession(s); err != nil {
		return err
	}
	s = s.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()

	matched := m.matchesLocked(s)
	replaced := make([]*model.Session, 0, len(matched))
	for _, id := range matched {
		replaced = append(replaced, m.cache[id])
	}
	if start, ok := inheritedStart(s.ID, replaced); ok {
		s.StartTime = start
	}
	if err := m.prepare(s); err != nil {
		return err
	}

	if err := m.writeLocked(ctx, s, matched); err != nil {
		return err
	}
	defer m.recomputeStats()
	if len(matched) > 0 {
		m.log.Info("session replaced", "id", s.ID, "replaced", matched, "turns", len(s.Turns))
	} else {
		m.log.Info("session ingested", "id", s.ID, "turns", len(s.Turns))
	}

	if err := m.drafts.Delete(ctx, s.ID); err != nil {
		m.log.Warn("delete draft", "id", s.ID, "err", err)
	}
	return m.evictLocked(ctx)
}

// inheritedStart returns the StartTime a session with id takes over from the
// sessions it replaces: the one with the same id, else the earliest origin match.
func inheritedStart(id string, replaced []*model.Session) (int64, bool) {
	var byOrigin *model.Session
	for _, r := range replaced {
		if r.ID == id {
			return r.StartTime, true
		}
		if byOrigin == nil || r.StartTime < byOrigin.StartTime {
			byOrigin = r
		}
	}
	if byOrigin == nil {
		return 0, false
	}
	return byOrigin.StartTime, true
}

func validateSession(s *model.Session) error {
	if s == nil {
		return &model.ValidationError{Field: "session", Reason: "nil session"}
	}
	if s.ID == "" {
		return &model.ValidationError{Field: "id", Reason: "missing session id"}
	}
	if len(s.Turns) == 0 {
		return &model.ValidationError{Field: "turns", Reason: "session has no turns"}
	}
	for _, t := range s.Turns {
		if err := model.ValidateTurn(t.Role, t.Content); err != nil {
			return err
		}
	}
	return nil
}

// prepare fills derived fields: end time and a fresh summary when missing.
func (m *Manager) prepare(s *model.Session) error {
	if s.EndTime == 0 {
		s.EndTime = s.LastTurnTime()
	}
	if s.StartTime == 0 {
		s.StartTime = s.Turns[0].Timestamp
	}
	if s.Summary == nil || s.Compressed == nil || len(s.Summary.Fingerprint) != m.fp.Dims() {
		return summary.Enrich(s, m.fp)
	}
	return nil
}

// matchesLocked returns stored session ids that s replaces.
func (m *Manager) matchesLocked(s *model.Session) []string {
	var ids []string
	if _, ok := m.cache[s.ID]; ok {
		ids = append(ids, s.ID)
	}
	if s.OriginKey != "" {
		for id, c := range m.cache {
			if id != s.ID && c.OriginKey == s.OriginKey {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// writeLocked persists s and its concepts, then removes the records it
// supersedes. Concepts are written before the session; cleanup comes last.
// The cache and indexes change only after the session write succeeded.
func (m *Manager) writeLocked(ctx context.Context, s *model.Session, replaced []string) error {
	var stale []model.ConceptRecord
	for _, id := range append([]string{s.ID}, replaced...) {
		recs, err := m.concepts.ByIndex(ctx, "session_id", id)
		if err != nil {
			return fmt.Errorf("load concepts of %s: %w", id, err)
		}
		stale = append(stale, recs...)
	}

	fresh := summary.ConceptRecords(s)
	for i := range fresh {
		fresh[i].ID = store.NewID()
		if err := m.concepts.Add(ctx, fresh[i]); err != nil {
			return fmt.Errorf("write concepts of %s: %w", s.ID, err)
		}
	}
	if err := m.sessions.Put(ctx, *s); err != nil {
		for _, r := range fresh {
			_ = m.concepts.Delete(ctx, r.ID)
		}
		return fmt.Errorf("write session %s: %w", s.ID, err)
	}

	for _, id := range replaced {
		if id == s.ID {
			continue
		}
		if err := m.sessions.Delete(ctx, id); err != nil {
			m.log.Warn("delete replaced session", "id", id, "err", err)
		}
	}
	for _, r := range stale {
		if err := m.concepts.Delete(ctx, r.ID); err != nil {
			m.log.Warn("delete stale concept", "id", r.ID, "err", err)
		}
	}

	for _, id := range replaced {
		delete(m.cache, id)
		m.conceptIdx.removeSession(id)
		if err := m.index.Remove(ctx, id); err != nil {
			m.log.Warn("unindex session", "id", id, "err", err)
		}
	}
	m.cache[s.ID] = s
	m.conceptIdx.removeSession(s.ID)
	for _, r := range fresh {
		m.conceptIdx.add(r)
	}
	if err := m.index.Upsert(ctx, s); err != nil {
		m.log.Warn("index session", "id", s.ID, "err", err)
	}
	return nil
}

// evictLocked drops the oldest sessions beyond MaxSessions.
func (m *Manager) evictLocked(ctx context.Context) error {
	if len(m.cache) <= m.opts.MaxSessions {
		return nil
	}
	list := m.sessionList()
	victims := list[m.opts.MaxSessions:]
	for _, v := range victims {
		if err := m.deleteLocked(ctx, v.ID); err != nil {
			return fmt.Errorf("evict %s: %w", v.ID, err)
		}
	}
	m.log.Info("sessions evicted", "count", len(victims), "kept", len(m.cache))
	return nil
}

// deleteLocked removes a session and its concepts everywhere.
func (m *Manager) deleteLocked(ctx context.Context, id string) error {
	if err := m.sessions.Delete(ctx, id); err != nil {
		return err
	}
	recs, err := m.concepts.ByIndex(ctx, "session_id", id)
	if err != nil {
		m.log.Warn("load concepts for delete", "id", id, "err", err)
	}
	for _, r := range recs {
		if err := m.concepts.Delete(ctx, r.ID); err != nil {
			m.log.Warn("delete concept", "id", r.ID, "err", err)
		}
	}
	delete(m.cache, id)
	m.conceptIdx.removeSession(id)
	if err := m.index.Remove(ctx, id); err != nil {
		m.log.Warn("unindex session", "id", id, "err", err)
	}
	return nil
}

// sessionList returns cached sessions newest first by StartTime, then id.
func (m *Manager) sessionList() []*model.Session {
	list := make([]*model.Session, 0, len(m.cache))
	for _, s := range m.cache {
		list = append(list, s)
	}
	sortNewestFirst(list)
	return list
}

func sortNewestFirst(list []*model.Session) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].StartTime != list[j].StartTime {
			return list[i].StartTime > list[j].StartTime
		}
		return list[i].ID > list[j].ID
	})
}

func (m *Manager) recomputeStats() {
	st := Stats{Count: len(m.cache), ConceptCount: m.conceptIdx.len()}
	for _, s := range m.cache {
		if b, err := json.Marshal(s); err == nil {
			st.TotalBytes += len(b)
		}
		st.TurnCount += len(s.Turns)
		if st.OldestStart == 0 || s.StartTime < st.OldestStart {
			st.OldestStart = s.StartTime
		}
		if s.StartTime > st.NewestStart {
			st.NewestStart = s.StartTime
		}
	}
	m.stats = st
}

// GetStats returns the current aggregates.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// GetSession returns a copy of the session, or nil when unknown.
func (m *Manager) GetSession(id string) *model.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache[id].Clone()
}

// GetRecent returns up to limit sessions, newest first.
func (m *Manager) GetRecent(limit int) []*model.Session {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.sessionList()
	if len(list) > limit {
		list = list[:limit]
	}
	out := make([]*model.Session, len(list))
	for i, s := range list {
		out[i] = s.Clone()
	}
	return out
}

// FindByOrigin returns the session captured from originKey, or nil.
func (m *Manager) FindByOrigin(ctx context.Context, originKey string) (*model.Session, error) {
	if originKey == "" {
		return nil, nil
	}
	return m.lookupIndexed(ctx, "origin_key", originKey, func(s *model.Session) bool {
		return s.OriginKey == originKey
	})
}

// LinkedFrom returns the merged session whose linked list holds id, or nil.
func (m *Manager) LinkedFrom(ctx context.Context, id string) (*model.Session, error) {
	return m.lookupIndexed(ctx, "linked", id, func(s *model.Session) bool {
		for _, l := range s.Linked {
			if l == id {
				return true
			}
		}
		return false
	})
}

// lookupIndexed queries a secondary index of the store and falls back to a
// cache scan when the store is unavailable.
func (m *Manager) lookupIndexed(ctx context.Context, field, value string, match func(*model.Session) bool) (*model.Session, error) {
	found, err := m.sessions.ByIndex(ctx, field, value)
	if err == nil {
		if len(found) == 0 {
			return nil, nil
		}
		m.mu.RLock()
		defer m.mu.RUnlock()
		if s, ok := m.cache[found[0].ID]; ok {
			return s.Clone(), nil
		}
		return &found[0], nil
	}
	if !errors.Is(err, model.ErrStorageUnavailable) {
		return nil, err
	}

	m.log.Warn("index lookup failed, using cache", "field", field, "err", err)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessionList() {
		if match(s) {
			return s.Clone(), nil
		}
	}
	return nil, nil
}

// Checkpoint stores an open session in the drafts collection.
func (m *Manager) Checkpoint(ctx context.Context, s *model.Session) error {
	if s == nil || s.ID == "" || len(s.Turns) == 0 {
		return nil
	}
	if err := m.drafts.Put(ctx, *s.Clone()); err != nil {
		return fmt.Errorf("checkpoint %s: %w", s.ID, err)
	}
	m.log.Debug("session checkpointed", "id", s.ID, "turns", len(s.Turns))
	return nil
}

// Drafts returns checkpointed open sessions, most recently active first.
func (m *Manager) Drafts(ctx context.Context) ([]*model.Session, error) {
	all, err := m.drafts.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Session, 0, len(all))
	for i := range all {
		out = append(out, &all[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastTurnTime() > out[j].LastTurnTime()
	})
	return out, nil
}

// DeleteDraft removes a checkpointed session.
func (m *Manager) DeleteDraft(ctx context.Context, id string) error {
	return m.drafts.Delete(ctx, id)
}
