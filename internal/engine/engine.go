// Package engine wires the store, memory manager and session tracker into one
// process-lifetime handle and dispatches host requests to it.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/rcliao/aime/internal/config"
	"github.com/rcliao/aime/internal/fallback"
	"github.com/rcliao/aime/internal/fingerprint"
	"github.com/rcliao/aime/internal/logging"
	"github.com/rcliao/aime/internal/memory"
	"github.com/rcliao/aime/internal/model"
	"github.com/rcliao/aime/internal/store"
	"github.com/rcliao/aime/internal/summary"
	"github.com/rcliao/aime/internal/tracker"
)

// Engine is an open memory engine. Open it once per process and Close it on
// exit so the open session is checkpointed.
type Engine struct {
	Memory   *memory.Manager
	Tracker  *tracker.Tracker
	Fallback *fallback.Cache

	cfg     *config.Config
	st      store.Store
	fpCache *fingerprint.Cache
	log     *log.Logger
}

// OpenStore opens the backend selected by cfg.
func OpenStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return store.NewSQLiteStore(cfg.DBPath)
	case config.BackendBadger:
		return store.NewBadgerStore(cfg.DBPath)
	default:
		return nil, &model.ValidationError{Field: "backend", Reason: "unknown backend " + cfg.Backend}
	}
}

// Open opens the configured store and starts the engine on it.
func Open(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Engine, error) {
	st, err := OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}
	e, err := New(ctx, cfg, st, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	return e, nil
}

// New starts the engine on an already open store, which the engine then owns.
// Sessions left in the fallback cache are re-ingested, the most recent draft
// becomes the open session and older drafts are closed.
func New(ctx context.Context, cfg *config.Config, st store.Store, logger *log.Logger) (*Engine, error) {
	logger = logging.OrDiscard(logger)

	cache, err := fingerprint.NewCache(cfg.Fingerprint.CacheEntries)
	if err != nil {
		return nil, err
	}
	fp := fingerprint.New(fingerprint.Options{
		Dimensions: cfg.Fingerprint.Dimensions,
		TopTerms:   cfg.Fingerprint.TopTerms,
		Cache:      cache,
	})

	mgr, err := memory.Open(ctx, st, memory.Options{
		MaxSessions: cfg.Memory.MaxSessions,
		Threshold:   cfg.Memory.SearchThreshold,
		SearchLimit: cfg.Memory.SearchLimit,
		Fingerprint: fp,
		Logger:      logger.WithPrefix("memory"),
	})
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("open memory: %w", err)
	}

	fb := fallback.New(cfg.FallbackDir)
	e := &Engine{
		Memory:   mgr,
		Fallback: fb,
		cfg:      cfg,
		st:       st,
		fpCache:  cache,
		log:      logger,
	}
	e.Tracker = tracker.New(mgr, tracker.Options{
		InactivityTimeout: cfg.Tracker.InactivityTimeout,
		CheckpointEvery:   cfg.Tracker.CheckpointEvery,
		MaxRetries:        cfg.Tracker.MaxRetries,
		Origin: tracker.Origin{
			URL:      cfg.Tracker.OriginURL,
			Platform: cfg.Tracker.Platform,
			Key:      cfg.Tracker.OriginKey,
		},
		Fingerprint: fp,
		Fallback:    fb,
		Logger:      logger.WithPrefix("tracker"),
	})

	if err := e.recoverFallback(ctx); err != nil {
		logger.Warn("fallback recovery incomplete", "dir", fb.Dir(), "err", err)
	}
	if err := e.resumeDrafts(ctx); err != nil {
		logger.Warn("draft recovery incomplete", "err", err)
	}
	return e, nil
}

// recoverFallback re-ingests sessions diverted during an earlier outage.
func (e *Engine) recoverFallback(ctx context.Context) error {
	sessions, loadErr := e.Fallback.LoadAll()
	var errs []error
	for _, s := range sessions {
		if err := e.Memory.Ingest(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("re-ingest %s: %w", s.ID, err))
			continue
		}
		if err := e.Fallback.Remove(s.ID); err != nil {
			errs = append(errs, err)
		}
		e.log.Info("recovered session from fallback", "id", s.ID)
	}
	return errors.Join(append(errs, loadErr)...)
}

// resumeDrafts reopens the most recent checkpointed session and closes the rest.
func (e *Engine) resumeDrafts(ctx context.Context) error {
	drafts, err := e.Memory.Drafts(ctx)
	if err != nil || len(drafts) == 0 {
		return err
	}
	var errs []error
	for _, d := range drafts[1:] {
		if err := e.closeDraft(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.Tracker.Resume(drafts[0]); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Engine) closeDraft(ctx context.Context, s *model.Session) error {
	if len(s.Turns) == 0 {
		return e.Memory.DeleteDraft(ctx, s.ID)
	}
	s.EndTime = s.LastTurnTime()
	if err := summary.Enrich(s, e.Memory.Fingerprint()); err != nil {
		return err
	}
	if err := e.Memory.Ingest(ctx, s); err != nil {
		return fmt.Errorf("close draft %s: %w", s.ID, err)
	}
	e.log.Info("closed stale draft", "id", s.ID, "turns", len(s.Turns))
	return nil
}

// Config returns the configuration the engine was opened with.
func (e *Engine) Config() *config.Config { return e.cfg }

// Close checkpoints the open session and closes the store. Sessions the store
// did not accept are saved to the fallback cache.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if err := e.Tracker.Suspend(ctx); err != nil {
		errs = append(errs, err)
		if cur := e.Tracker.Current(); cur != nil {
			if _, err := e.Fallback.Save(cur, "checkpoint failed at shutdown"); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, s := range e.Tracker.Pending() {
		if _, err := e.Fallback.Save(s, "pending at shutdown"); err != nil {
			errs = append(errs, err)
		}
	}
	e.fpCache.Close()
	if err := e.st.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
