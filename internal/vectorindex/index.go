// Package vectorindex keeps session and turn fingerprints in an in-memory
// chromem-go collection for candidate retrieval.
package vectorindex

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/rcliao/aime/internal/fingerprint"
	"github.com/rcliao/aime/internal/model"
)

const collectionName = "fingerprints"

// SessionLevel is the TurnIndex of a hit on the whole-session fingerprint.
const SessionLevel = -1

// Hit is one candidate returned by Query.
type Hit struct {
	SessionID string
	TurnIndex int
	Score     float64
}

// Index holds one document per session plus one per turn.
type Index struct {
	mu  sync.RWMutex
	db  *chromem.DB
	col *chromem.Collection
	emb fingerprint.Embedder
}

// New returns an empty index whose vectors come from emb.
func New(emb fingerprint.Embedder) (*Index, error) {
	x := &Index{emb: emb}
	if err := x.reset(); err != nil {
		return nil, err
	}
	return x, nil
}

func (x *Index) reset() error {
	db := chromem.NewDB()
	col, err := db.CreateCollection(collectionName, nil, chromem.EmbeddingFunc(x.emb.Embed))
	if err != nil {
		return fmt.Errorf("create vector collection: %w", err)
	}
	x.db, x.col = db, col
	return nil
}

func docID(sessionID string, turn int) string {
	if turn == SessionLevel {
		return sessionID
	}
	return sessionID + "#" + strconv.Itoa(turn)
}

func (x *Index) documents(ctx context.Context, s *model.Session) ([]chromem.Document, error) {
	var docs []chromem.Document
	add := func(turn int, vec fingerprint.Vector) {
		if len(vec) == 0 || fingerprint.IsZero(vec) {
			return
		}
		docs = append(docs, chromem.Document{
			ID:        docID(s.ID, turn),
			Embedding: append([]float32(nil), vec...),
			Metadata: map[string]string{
				"session_id": s.ID,
				"turn":       strconv.Itoa(turn),
			},
			Content: s.Title,
		})
	}

	if s.Summary != nil && len(s.Summary.Fingerprint) == x.emb.Dims() {
		add(SessionLevel, s.Summary.Fingerprint)
	} else {
		vec, err := x.emb.Embed(ctx, s.Text())
		if err != nil {
			return nil, fmt.Errorf("embed session %s: %w", s.ID, err)
		}
		add(SessionLevel, vec)
	}
	for _, t := range s.Turns {
		vec, err := x.emb.Embed(ctx, t.Content)
		if err != nil {
			return nil, fmt.Errorf("embed turn %s#%d: %w", s.ID, t.Index, err)
		}
		add(t.Index, vec)
	}
	return docs, nil
}

// Upsert replaces every document of the session.
func (x *Index) Upsert(ctx context.Context, s *model.Session) error {
	docs, err := x.documents(ctx, s)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.remove(ctx, s.ID); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	if err := x.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("index session %s: %w", s.ID, err)
	}
	return nil
}

// Remove drops every document of the session.
func (x *Index) Remove(ctx context.Context, sessionID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.remove(ctx, sessionID)
}

func (x *Index) remove(ctx context.Context, sessionID string) error {
	if x.col.Count() == 0 {
		return nil
	}
	if err := x.col.Delete(ctx, map[string]string{"session_id": sessionID}, nil); err != nil {
		return fmt.Errorf("unindex session %s: %w", sessionID, err)
	}
	return nil
}

// Rebuild discards the index and indexes sessions from scratch.
func (x *Index) Rebuild(ctx context.Context, sessions []*model.Session) error {
	var docs []chromem.Document
	for _, s := range sessions {
		d, err := x.documents(ctx, s)
		if err != nil {
			return err
		}
		docs = append(docs, d...)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.reset(); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	if err := x.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("rebuild vector index: %w", err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (x *Index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.col.Count()
}

// Query scores every indexed document against q. A zero query matches nothing.
func (x *Index) Query(ctx context.Context, q fingerprint.Vector) ([]Hit, error) {
	if len(q) == 0 || fingerprint.IsZero(q) {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	n := x.col.Count()
	if n == 0 {
		return nil, nil
	}
	results, err := x.col.QueryEmbedding(ctx, q, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query vector index: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		turn, err := strconv.Atoi(r.Metadata["turn"])
		if err != nil {
			turn = SessionLevel
		}
		hits = append(hits, Hit{
			SessionID: r.Metadata["session_id"],
			TurnIndex: turn,
			Score:     fingerprint.Clamp(float64(r.Similarity)),
		})
	}
	return hits, nil
}
