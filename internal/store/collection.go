package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rcliao/aime/internal/model"
)

// Indexed is a value that can be stored in a typed Collection.
type Indexed interface {
	RecordID() string
	IndexValues() map[string][]string
}

// Collection is a typed JSON view over one collection of a Store.
type Collection[T Indexed] struct {
	store Store
	name  string
}

// NewCollection binds a typed view to a collection name.
func NewCollection[T Indexed](s Store, name string) *Collection[T] {
	return &Collection[T]{store: s, name: name}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Encode turns v into a Record. v must carry its id.
func (c *Collection[T]) Encode(v T) (Record, error) {
	if v.RecordID() == "" {
		return Record{}, &model.ValidationError{Field: "id", Reason: "missing id for " + c.name}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s %s: %w", c.name, v.RecordID(), err)
	}
	return Record{ID: v.RecordID(), Data: data, Index: v.IndexValues()}, nil
}

func (c *Collection[T]) decode(r Record) (T, error) {
	var v T
	if err := json.Unmarshal(r.Data, &v); err != nil {
		return v, &model.CorruptDataError{Source: c.name + "/" + r.ID, Offset: -1, Reason: "invalid record", Err: err}
	}
	return v, nil
}

// Add inserts v.
func (c *Collection[T]) Add(ctx context.Context, v T) error {
	r, err := c.Encode(v)
	if err != nil {
		return err
	}
	_, err = c.store.Add(ctx, c.name, r)
	return err
}

// Put inserts or replaces v.
func (c *Collection[T]) Put(ctx context.Context, v T) error {
	r, err := c.Encode(v)
	if err != nil {
		return err
	}
	return c.store.Put(ctx, c.name, r)
}

// Update replaces an existing v.
func (c *Collection[T]) Update(ctx context.Context, v T) error {
	r, err := c.Encode(v)
	if err != nil {
		return err
	}
	return c.store.Update(ctx, c.name, r)
}

// Get returns the value with id, or nil when absent.
func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	r, err := c.store.Get(ctx, c.name, id)
	if err != nil || r == nil {
		return nil, err
	}
	v, err := c.decode(*r)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// All returns every value in id order.
func (c *Collection[T]) All(ctx context.Context) ([]T, error) {
	recs, err := c.store.GetAll(ctx, c.name)
	if err != nil {
		return nil, err
	}
	return c.decodeAll(recs)
}

// ByIndex returns values whose field index holds value.
func (c *Collection[T]) ByIndex(ctx context.Context, field, value string) ([]T, error) {
	recs, err := c.store.GetByIndex(ctx, c.name, field, value)
	if err != nil {
		return nil, err
	}
	return c.decodeAll(recs)
}

// Delete removes the value with id.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.store.Delete(ctx, c.name, id)
}

// Clear removes all values.
func (c *Collection[T]) Clear(ctx context.Context) error {
	return c.store.Clear(ctx, c.name)
}

// EncodeAll encodes vs for ReplaceAll.
func (c *Collection[T]) EncodeAll(vs []T) ([]Record, error) {
	out := make([]Record, 0, len(vs))
	for _, v := range vs {
		r, err := c.Encode(v)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *Collection[T]) decodeAll(recs []Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		v, err := c.decode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
