// Package store provides the record storage interface and its SQLite and
// Badger implementations.
package store

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Collection names used by the memory engine.
const (
	Sessions = "sessions"
	Concepts = "concepts"
	Drafts   = "drafts"
)

// ErrDuplicateID is returned by Add when the id already exists in the collection.
var ErrDuplicateID = errors.New("store: duplicate id")

// Record is one stored value. Index maps a secondary field to its values;
// a field may hold several values (sessions index every linked id).
type Record struct {
	ID        string
	Data      []byte
	Index     map[string][]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is a set of named collections of records.
// Implementations are safe for concurrent use.
type Store interface {
	// Add inserts r and returns its id, assigning a new one when r.ID is empty.
	Add(ctx context.Context, collection string, r Record) (string, error)

	// Put inserts or replaces r. r.ID must be set.
	Put(ctx context.Context, collection string, r Record) error

	// Get returns the record, or nil when it does not exist.
	Get(ctx context.Context, collection, id string) (*Record, error)

	// GetAll returns every record of the collection ordered by id.
	GetAll(ctx context.Context, collection string) ([]Record, error)

	// Update replaces an existing record; unknown ids fail with a NotFoundError.
	Update(ctx context.Context, collection string, r Record) error

	// Delete removes a record. Deleting a missing id is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Clear removes every record of the collection.
	Clear(ctx context.Context, collection string) error

	// GetByIndex returns records whose field index holds value.
	GetByIndex(ctx context.Context, collection, field, value string) ([]Record, error)

	// ReplaceAll swaps the contents of each given collection in one transaction.
	ReplaceAll(ctx context.Context, collections map[string][]Record) error

	// Close closes the store.
	Close() error
}

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a new ULID string. IDs sort by creation time.
func NewID() string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}

func cloneIndex(idx map[string][]string) map[string][]string {
	if len(idx) == 0 {
		return nil
	}
	out := make(map[string][]string, len(idx))
	for k, v := range idx {
		out[k] = append([]string(nil), v...)
	}
	return out
}
