package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/rcliao/aime/internal/model"
)

// Key layout:
//
//	r/<collection>/<id>                      -> badgerEnvelope JSON
//	i/<collection>/<field>/<value>\x00<id>   -> empty
const (
	recordPrefix  = "r/"
	indexPrefix   = "i/"
	conflictTries = 3
)

// BadgerStore implements Store on a Badger key-value database.
type BadgerStore struct {
	db *badger.DB
}

type badgerEnvelope struct {
	Data      []byte              `json:"data"`
	Index     map[string][]string `json:"index,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// NewBadgerStore opens or creates a Badger database in dir.
// An empty dir opens an in-memory database.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &model.StorageError{Op: "open", Err: err}
	}
	return &BadgerStore{db: db}, nil
}

func recordKey(collection, id string) []byte {
	return []byte(recordPrefix + collection + "/" + id)
}

func indexKey(collection, field, value, id string) []byte {
	return []byte(indexPrefix + collection + "/" + field + "/" + value + "\x00" + id)
}

func (s *BadgerStore) Add(ctx context.Context, collection string, r Record) (string, error) {
	if r.ID == "" {
		r.ID = NewID()
	}
	err := s.update(ctx, "add", collection, func(txn *badger.Txn) error {
		if _, err := txn.Get(recordKey(collection, r.ID)); err == nil {
			return fmt.Errorf("%s/%s: %w", collection, r.ID, ErrDuplicateID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		now := time.Now().UTC()
		return writeRecord(txn, collection, r, now, now)
	})
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func (s *BadgerStore) Put(ctx context.Context, collection string, r Record) error {
	if r.ID == "" {
		return &model.ValidationError{Field: "id", Reason: "put requires an id"}
	}
	return s.update(ctx, "put", collection, func(txn *badger.Txn) error {
		now := time.Now().UTC()
		created := now
		old, err := readEnvelope(txn, collection, r.ID)
		if err != nil {
			return err
		}
		if old != nil {
			created = old.CreatedAt
			if err := deleteIndex(txn, collection, r.ID, old.Index); err != nil {
				return err
			}
		}
		return writeRecord(txn, collection, r, created, now)
	})
}

func (s *BadgerStore) Update(ctx context.Context, collection string, r Record) error {
	return s.update(ctx, "update", collection, func(txn *badger.Txn) error {
		old, err := readEnvelope(txn, collection, r.ID)
		if err != nil {
			return err
		}
		if old == nil {
			return &model.NotFoundError{Kind: collection, ID: r.ID}
		}
		if err := deleteIndex(txn, collection, r.ID, old.Index); err != nil {
			return err
		}
		return writeRecord(txn, collection, r, old.CreatedAt, time.Now().UTC())
	})
}

func (s *BadgerStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		env, err := readEnvelope(txn, collection, id)
		if err != nil || env == nil {
			return err
		}
		rec = env.record(id)
		return nil
	})
	if err != nil {
		return nil, &model.StorageError{Op: "get", Collection: collection, Err: err}
	}
	return rec, nil
}

func (s *BadgerStore) GetAll(ctx context.Context, collection string) ([]Record, error) {
	prefix := []byte(recordPrefix + collection + "/")
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id := string(bytes.TrimPrefix(item.KeyCopy(nil), prefix))
			var env badgerEnvelope
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &env)
			}); err != nil {
				return err
			}
			out = append(out, *env.record(id))
		}
		return nil
	})
	if err != nil {
		return nil, &model.StorageError{Op: "get all", Collection: collection, Err: err}
	}
	return out, nil
}

func (s *BadgerStore) GetByIndex(ctx context.Context, collection, field, value string) ([]Record, error) {
	prefix := []byte(indexPrefix + collection + "/" + field + "/" + value + "\x00")
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(bytes.TrimPrefix(it.Item().KeyCopy(nil), prefix)))
		}
		for _, id := range ids {
			env, err := readEnvelope(txn, collection, id)
			if err != nil {
				return err
			}
			if env != nil {
				out = append(out, *env.record(id))
			}
		}
		return nil
	})
	if err != nil {
		return nil, &model.StorageError{Op: "get by index", Collection: collection, Err: err}
	}
	return out, nil
}

func (s *BadgerStore) Delete(ctx context.Context, collection, id string) error {
	return s.update(ctx, "delete", collection, func(txn *badger.Txn) error {
		old, err := readEnvelope(txn, collection, id)
		if err != nil || old == nil {
			return err
		}
		if err := deleteIndex(txn, collection, id, old.Index); err != nil {
			return err
		}
		return txn.Delete(recordKey(collection, id))
	})
}

func (s *BadgerStore) Clear(ctx context.Context, collection string) error {
	return s.update(ctx, "clear", collection, func(txn *badger.Txn) error {
		return clearPrefixes(txn, collection)
	})
}

func (s *BadgerStore) ReplaceAll(ctx context.Context, collections map[string][]Record) error {
	return s.update(ctx, "replace all", "", func(txn *badger.Txn) error {
		now := time.Now().UTC()
		for name, recs := range collections {
			if err := clearPrefixes(txn, name); err != nil {
				return err
			}
			for _, r := range recs {
				if r.ID == "" {
					r.ID = NewID()
				}
				created := r.CreatedAt
				if created.IsZero() {
					created = now
				}
				if err := writeRecord(txn, name, r, created, now); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *BadgerStore) update(ctx context.Context, op, collection string, fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < conflictTries; i++ {
		if cerr := ctx.Err(); cerr != nil {
			return &model.StorageError{Op: op, Collection: collection, Err: cerr}
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err == nil {
		return nil
	}
	var nf *model.NotFoundError
	var ve *model.ValidationError
	if errors.As(err, &nf) || errors.As(err, &ve) || errors.Is(err, ErrDuplicateID) {
		return err
	}
	return &model.StorageError{Op: op, Collection: collection, Err: err}
}

func (e *badgerEnvelope) record(id string) *Record {
	return &Record{
		ID:        id,
		Data:      e.Data,
		Index:     e.Index,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func readEnvelope(txn *badger.Txn, collection, id string) (*badgerEnvelope, error) {
	item, err := txn.Get(recordKey(collection, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var env badgerEnvelope
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &env)
	}); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return &env, nil
}

func writeRecord(txn *badger.Txn, collection string, r Record, created, updated time.Time) error {
	env := badgerEnvelope{
		Data:      r.Data,
		Index:     cloneIndex(r.Index),
		CreatedAt: created,
		UpdatedAt: updated,
	}
	if env.Data == nil {
		env.Data = []byte{}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, r.ID, err)
	}
	if err := txn.Set(recordKey(collection, r.ID), data); err != nil {
		return err
	}
	for field, values := range r.Index {
		for _, v := range values {
			if err := txn.Set(indexKey(collection, field, v, r.ID), nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func deleteIndex(txn *badger.Txn, collection, id string, idx map[string][]string) error {
	for field, values := range idx {
		for _, v := range values {
			if err := txn.Delete(indexKey(collection, field, v, id)); err != nil {
				return err
			}
		}
	}
	return nil
}

func clearPrefixes(txn *badger.Txn, collection string) error {
	for _, p := range []string{recordPrefix, indexPrefix} {
		prefix := []byte(p + collection + "/")
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
	}
	return nil
}
