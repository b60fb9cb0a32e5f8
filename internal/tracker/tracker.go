// Package tracker segments a stream of turns into sessions.
//
// A session stays open while turns keep arriving within the inactivity
// timeout. When a turn arrives after the timeout, or Close is called, the open
// session is closed: its end time is set, derived data is computed and it is
// handed to the Sink. Failed hand-offs are kept and retried on the next turn;
// once retries run out the session is written to the fallback cache.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rcliao/aime/internal/fallback"
	"github.com/rcliao/aime/internal/fingerprint"
	"github.com/rcliao/aime/internal/logging"
	"github.com/rcliao/aime/internal/model"
	"github.com/rcliao/aime/internal/store"
	"github.com/rcliao/aime/internal/summary"
)

const (
	DefaultInactivityTimeout = 5 * time.Minute
	DefaultCheckpointEvery   = 3
	DefaultMaxRetries        = 3
)

// ErrDegraded marks a session that was diverted to the fallback cache.
var ErrDegraded = errors.New("session diverted to fallback")

// DegradedError reports a session that could not be stored. Path is empty
// when the fallback cache was unavailable too; the session then stays pending.
type DegradedError struct {
	SessionID string
	Path      string
	Err       error
}

func (e *DegradedError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("session %s not stored: %v", e.SessionID, e.Err)
	}
	return fmt.Sprintf("session %s written to fallback %s: %v", e.SessionID, e.Path, e.Err)
}

func (e *DegradedError) Is(target error) bool { return target == ErrDegraded }

func (e *DegradedError) Unwrap() error { return e.Err }

// Sink receives closed sessions and checkpoints of the open one.
type Sink interface {
	Ingest(ctx context.Context, s *model.Session) error
	Checkpoint(ctx context.Context, s *model.Session) error
}

// Origin tags new sessions with where their turns came from.
type Origin struct {
	URL      string
	Platform string
	Key      string
}

// Options configures a Tracker. Zero values select the defaults.
type Options struct {
	InactivityTimeout time.Duration
	CheckpointEvery   int
	// MaxRetries is the number of retries after the first failed hand-off.
	// Negative disables retrying.
	MaxRetries  int
	Origin      Origin
	Fingerprint *fingerprint.Engine
	Fallback    *fallback.Cache
	Logger      *log.Logger
	Now         func() time.Time
}

// State is the tracker's position in the session lifecycle.
type State int

const (
	NoSession State = iota
	Open
)

func (s State) String() string {
	if s == Open {
		return "open"
	}
	return "no_session"
}

type pendingSession struct {
	s        *model.Session
	attempts int
	lastErr  error
}

// Tracker owns the open session until it is handed to the Sink.
// Calls are serialized internally, but turns for one conversation must still
// be pushed in order by the caller.
type Tracker struct {
	mu   sync.Mutex
	sink Sink
	opts Options
	log  *log.Logger

	current         *model.Session
	sinceCheckpoint int
	pending         []*pendingSession
}

// New returns a tracker with no open session.
func New(sink Sink, opts Options) *Tracker {
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = DefaultInactivityTimeout
	}
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = DefaultCheckpointEvery
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Fingerprint == nil {
		opts.Fingerprint = fingerprint.New(fingerprint.Options{})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{sink: sink, opts: opts, log: logging.OrDiscard(opts.Logger)}
}

// AddTurn appends a turn stamped with the current time.
func (t *Tracker) AddTurn(ctx context.Context, role model.Role, content string) (string, error) {
	return t.PushTurn(ctx, role, content, t.opts.Now().UnixMilli())
}

// PushTurn appends a turn with an explicit Unix millisecond timestamp and
// returns the id of the session it joined. Invalid turns are rejected before
// any state changes. A *DegradedError means the turn was accepted but an
// earlier session could not be stored.
func (t *Tracker) PushTurn(ctx context.Context, role model.Role, content string, ts int64) (string, error) {
	if err := model.ValidateTurn(role, content); err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	errs := []error{t.retryPending(ctx)}

	if t.current != nil && ts-t.current.LastTurnTime() > t.opts.InactivityTimeout.Milliseconds() {
		t.log.Info("session timed out", "id", t.current.ID, "idle_ms", ts-t.current.LastTurnTime())
		errs = append(errs, t.closeCurrent(ctx))
	}
	if t.current == nil {
		t.open(ts)
	}

	s := t.current
	s.Turns = append(s.Turns, model.Turn{
		Index:     len(s.Turns),
		Role:      role,
		Content:   content,
		Timestamp: ts,
	})
	if s.Title == "" && role == model.RoleUser {
		s.Title = summary.Title(s.Turns)
	}
	t.log.Debug("turn added", "id", s.ID, "role", role, "content", logging.Preview(content))

	t.sinceCheckpoint++
	if t.sinceCheckpoint >= t.opts.CheckpointEvery {
		t.checkpoint(ctx)
	}
	return s.ID, errors.Join(errs...)
}

// Close hands the open session to the Sink and retries pending ones.
// Closing with no open session only retries.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.retryPending(ctx)
	return errors.Join(err, t.closeCurrent(ctx))
}

// Suspend checkpoints the open session without closing it.
func (t *Tracker) Suspend(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil || len(t.current.Turns) == 0 {
		return nil
	}
	if err := t.sink.Checkpoint(ctx, t.current.Clone()); err != nil {
		return fmt.Errorf("suspend %s: %w", t.current.ID, err)
	}
	t.sinceCheckpoint = 0
	t.log.Debug("session suspended", "id", t.current.ID, "turns", len(t.current.Turns))
	return nil
}

// Resume reinstates a checkpointed session as the open one.
func (t *Tracker) Resume(s *model.Session) error {
	if s == nil || s.ID == "" || len(s.Turns) == 0 {
		return &model.ValidationError{Field: "session", Reason: "resume needs a session with turns"}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != nil {
		return &model.ValidationError{Field: "session", Reason: "session " + t.current.ID + " is already open"}
	}
	t.current = s.Clone()
	t.current.EndTime = 0
	t.current.Summary = nil
	t.current.Compressed = nil
	t.sinceCheckpoint = 0
	t.log.Info("session resumed", "id", s.ID, "turns", len(s.Turns))
	return nil
}

// SetOrigin changes the origin of new sessions. An open session from a
// different origin key is closed first.
func (t *Tracker) SetOrigin(ctx context.Context, o Origin) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.opts.Origin = o
	if t.current != nil && t.current.OriginKey != o.Key {
		return t.closeCurrent(ctx)
	}
	return nil
}

// State reports whether a session is open.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return NoSession
	}
	return Open
}

// Current returns a copy of the open session, or nil.
func (t *Tracker) Current() *model.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.Clone()
}

// Pending returns copies of closed sessions still waiting to be stored.
func (t *Tracker) Pending() []*model.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*model.Session, 0, len(t.pending))
	for _, p := range t.pending {
		out = append(out, p.s.Clone())
	}
	return out
}

func (t *Tracker) open(ts int64) {
	t.current = &model.Session{
		ID:        store.NewID(),
		StartTime: ts,
		OriginURL: t.opts.Origin.URL,
		Platform:  t.opts.Origin.Platform,
		OriginKey: t.opts.Origin.Key,
	}
	t.sinceCheckpoint = 0
	t.log.Info("session opened", "id", t.current.ID, "platform", t.current.Platform)
}

func (t *Tracker) checkpoint(ctx context.Context) {
	if err := t.sink.Checkpoint(ctx, t.current.Clone()); err != nil {
		t.log.Warn("checkpoint failed", "id", t.current.ID, "err", err)
		return
	}
	t.sinceCheckpoint = 0
	t.log.Debug("session checkpointed", "id", t.current.ID, "turns", len(t.current.Turns))
}

// closeCurrent finalizes the open session and attempts the hand-off.
func (t *Tracker) closeCurrent(ctx context.Context) error {
	s := t.current
	t.current = nil
	t.sinceCheckpoint = 0
	if s == nil || len(s.Turns) == 0 {
		return nil
	}

	s.EndTime = s.LastTurnTime()
	if err := summary.Enrich(s, t.opts.Fingerprint); err != nil {
		// The session is still complete without derived data.
		t.log.Error("enrich session", "id", s.ID, "err", err)
	}
	t.log.Info("session closed", "id", s.ID, "turns", len(s.Turns), "title", logging.Preview(s.Title))

	p := &pendingSession{s: s}
	if t.deliver(ctx, p) {
		return nil
	}
	t.pending = append(t.pending, p)
	return t.degradeIfExhausted(p)
}

// retryPending re-attempts every pending session once.
func (t *Tracker) retryPending(ctx context.Context) error {
	if len(t.pending) == 0 {
		return nil
	}
	var errs []error
	for _, p := range append([]*pendingSession(nil), t.pending...) {
		if t.deliver(ctx, p) {
			continue
		}
		errs = append(errs, t.degradeIfExhausted(p))
	}
	return errors.Join(errs...)
}

// deliver hands p to the Sink, dropping it from pending on success.
func (t *Tracker) deliver(ctx context.Context, p *pendingSession) bool {
	p.attempts++
	err := t.sink.Ingest(ctx, p.s.Clone())
	if err == nil {
		t.remove(p)
		if p.attempts > 1 {
			t.log.Info("pending session stored", "id", p.s.ID, "attempts", p.attempts)
		}
		return true
	}
	p.lastErr = err
	t.log.Warn("store session failed", "id", p.s.ID, "attempt", p.attempts, "err", err)
	return false
}

func (t *Tracker) degradeIfExhausted(p *pendingSession) error {
	if p.attempts <= t.opts.MaxRetries {
		return nil
	}
	if t.opts.Fallback == nil {
		return &DegradedError{SessionID: p.s.ID, Err: p.lastErr}
	}
	path, err := t.opts.Fallback.Save(p.s, p.lastErr.Error())
	if err != nil {
		t.log.Error("fallback write failed", "id", p.s.ID, "err", err)
		return &DegradedError{SessionID: p.s.ID, Err: errors.Join(p.lastErr, err)}
	}
	t.remove(p)
	t.log.Warn("session written to fallback", "id", p.s.ID, "path", path)
	return &DegradedError{SessionID: p.s.ID, Path: path, Err: p.lastErr}
}

func (t *Tracker) remove(p *pendingSession) {
	for i, q := range t.pending {
		if q == p {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return
		}
	}
}
