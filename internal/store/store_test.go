package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rcliao/aime/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStore("")
	if err != nil {
		t.Fatalf("create badger store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// backends runs fn once per Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("badger", func(t *testing.T) { fn(t, newTestBadgerStore(t)) })
}

func TestAddAndGet(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		id, err := s.Add(ctx, Sessions, Record{Data: []byte(`{"a":1}`)})
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		if id == "" {
			t.Fatal("expected generated id")
		}

		got, err := s.Get(ctx, Sessions, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got == nil {
			t.Fatal("expected record")
		}
		if string(got.Data) != `{"a":1}` {
			t.Errorf("data = %s", got.Data)
		}
		if got.CreatedAt.IsZero() {
			t.Error("expected created_at")
		}

		if _, err := s.Add(ctx, Sessions, Record{ID: id, Data: []byte(`{}`)}); !errors.Is(err, ErrDuplicateID) {
			t.Errorf("duplicate add err = %v, want ErrDuplicateID", err)
		}
	})
}

func TestGetMissing(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		got, err := s.Get(context.Background(), Sessions, "nope")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil, got %+v", got)
		}
	})
}

func TestGetAllOrderedAndScopedToCollection(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, id := range []string{"c", "a", "b"} {
			if _, err := s.Add(ctx, Sessions, Record{ID: id, Data: []byte(id)}); err != nil {
				t.Fatalf("add %s: %v", id, err)
			}
		}
		if _, err := s.Add(ctx, Concepts, Record{ID: "x", Data: []byte("x")}); err != nil {
			t.Fatalf("add concept: %v", err)
		}

		all, err := s.GetAll(ctx, Sessions)
		if err != nil {
			t.Fatalf("get all: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 records, got %d", len(all))
		}
		for i, want := range []string{"a", "b", "c"} {
			if all[i].ID != want {
				t.Errorf("position %d = %s, want %s", i, all[i].ID, want)
			}
		}
	})
}

func TestUpdate(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id, _ := s.Add(ctx, Sessions, Record{
			Data:  []byte("v1"),
			Index: map[string][]string{"origin_key": {"chat-1"}},
		})
		before, _ := s.Get(ctx, Sessions, id)

		err := s.Update(ctx, Sessions, Record{
			ID:    id,
			Data:  []byte("v2"),
			Index: map[string][]string{"origin_key": {"chat-2"}},
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}

		got, _ := s.Get(ctx, Sessions, id)
		if string(got.Data) != "v2" {
			t.Errorf("data = %s, want v2", got.Data)
		}
		if !got.CreatedAt.Equal(before.CreatedAt) {
			t.Errorf("created_at changed: %v -> %v", before.CreatedAt, got.CreatedAt)
		}

		old, _ := s.GetByIndex(ctx, Sessions, "origin_key", "chat-1")
		if len(old) != 0 {
			t.Errorf("stale index entry: %+v", old)
		}
		cur, _ := s.GetByIndex(ctx, Sessions, "origin_key", "chat-2")
		if len(cur) != 1 {
			t.Errorf("expected 1 record for new index value, got %d", len(cur))
		}
	})
}

func TestUpdateMissing(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		err := s.Update(context.Background(), Sessions, Record{ID: "ghost", Data: []byte("x")})
		if !errors.Is(err, model.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestPut(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Put(ctx, Drafts, Record{ID: "d1", Data: []byte("one")}); err != nil {
			t.Fatalf("put: %v", err)
		}
		if err := s.Put(ctx, Drafts, Record{ID: "d1", Data: []byte("two")}); err != nil {
			t.Fatalf("put again: %v", err)
		}
		all, _ := s.GetAll(ctx, Drafts)
		if len(all) != 1 || string(all[0].Data) != "two" {
			t.Errorf("unexpected drafts: %+v", all)
		}

		if err := s.Put(ctx, Drafts, Record{Data: []byte("x")}); !errors.Is(err, model.ErrValidation) {
			t.Errorf("put without id err = %v, want ErrValidation", err)
		}
	})
}

func TestDeleteAndClear(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		s.Add(ctx, Concepts, Record{ID: "1", Data: []byte("a"), Index: map[string][]string{"type": {"code"}}})
		s.Add(ctx, Concepts, Record{ID: "2", Data: []byte("b"), Index: map[string][]string{"type": {"code"}}})

		if err := s.Delete(ctx, Concepts, "1"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := s.Delete(ctx, Concepts, "1"); err != nil {
			t.Errorf("second delete should be a no-op: %v", err)
		}
		byType, _ := s.GetByIndex(ctx, Concepts, "type", "code")
		if len(byType) != 1 || byType[0].ID != "2" {
			t.Errorf("index after delete: %+v", byType)
		}

		if err := s.Clear(ctx, Concepts); err != nil {
			t.Fatalf("clear: %v", err)
		}
		all, _ := s.GetAll(ctx, Concepts)
		if len(all) != 0 {
			t.Errorf("expected empty collection, got %d", len(all))
		}
		byType, _ = s.GetByIndex(ctx, Concepts, "type", "code")
		if len(byType) != 0 {
			t.Errorf("expected empty index, got %d", len(byType))
		}
	})
}

func TestMultiValuedIndex(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		s.Add(ctx, Sessions, Record{ID: "merged", Data: []byte("m"), Index: map[string][]string{"linked": {"a", "b"}}})

		for _, v := range []string{"a", "b"} {
			got, err := s.GetByIndex(ctx, Sessions, "linked", v)
			if err != nil {
				t.Fatalf("get by index: %v", err)
			}
			if len(got) != 1 || got[0].ID != "merged" {
				t.Errorf("linked=%s: %+v", v, got)
			}
		}
		rec, _ := s.Get(ctx, Sessions, "merged")
		if len(rec.Index["linked"]) != 2 {
			t.Errorf("index values not returned: %+v", rec.Index)
		}
	})
}

func TestReplaceAll(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		s.Add(ctx, Sessions, Record{ID: "old", Data: []byte("old"), Index: map[string][]string{"origin_key": {"k"}}})
		s.Add(ctx, Drafts, Record{ID: "draft", Data: []byte("d")})

		err := s.ReplaceAll(ctx, map[string][]Record{
			Sessions: {{ID: "new1", Data: []byte("1")}, {ID: "new2", Data: []byte("2"), Index: map[string][]string{"origin_key": {"k"}}}},
			Concepts: nil,
		})
		if err != nil {
			t.Fatalf("replace all: %v", err)
		}

		all, _ := s.GetAll(ctx, Sessions)
		if len(all) != 2 || all[0].ID != "new1" || all[1].ID != "new2" {
			t.Errorf("sessions after replace: %+v", all)
		}
		byKey, _ := s.GetByIndex(ctx, Sessions, "origin_key", "k")
		if len(byKey) != 1 || byKey[0].ID != "new2" {
			t.Errorf("index after replace: %+v", byKey)
		}
		drafts, _ := s.GetAll(ctx, Drafts)
		if len(drafts) != 1 {
			t.Errorf("untouched collection changed: %+v", drafts)
		}
	})
}

func TestConcurrentWriters(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.Add(ctx, Sessions, Record{ID: fmt.Sprintf("s%02d", i), Data: []byte("x")})
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Errorf("concurrent add: %v", err)
			}
		}
		all, _ := s.GetAll(ctx, Sessions)
		if len(all) != 20 {
			t.Errorf("expected 20 records, got %d", len(all))
		}
	})
}

func TestCollection(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		col := NewCollection[model.Session](s, Sessions)

		sess := model.Session{ID: "s1", OriginKey: "chat-9", StartTime: 10, Turns: []model.Turn{{Role: model.RoleUser, Content: "hi", Timestamp: 10}}}
		if err := col.Add(ctx, sess); err != nil {
			t.Fatalf("add: %v", err)
		}

		got, err := col.Get(ctx, "s1")
		if err != nil || got == nil {
			t.Fatalf("get: %v %v", got, err)
		}
		if got.Turns[0].Content != "hi" {
			t.Errorf("turn content = %q", got.Turns[0].Content)
		}

		byOrigin, err := col.ByIndex(ctx, "origin_key", "chat-9")
		if err != nil || len(byOrigin) != 1 {
			t.Fatalf("by index: %v %v", byOrigin, err)
		}

		missing, err := col.Get(ctx, "s2")
		if err != nil || missing != nil {
			t.Errorf("missing get = %v, %v", missing, err)
		}

		if err := col.Add(ctx, model.Session{}); !errors.Is(err, model.ErrValidation) {
			t.Errorf("add without id err = %v, want ErrValidation", err)
		}
	})
}

func TestCollectionCorruptRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Add(ctx, Sessions, Record{ID: "bad", Data: []byte("{not json")})

	col := NewCollection[model.Session](s, Sessions)
	if _, err := col.Get(ctx, "bad"); !errors.Is(err, model.ErrCorruptData) {
		t.Errorf("err = %v, want ErrCorruptData", err)
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b {
		t.Error("ids must be unique")
	}
	if a >= b {
		t.Errorf("ids must sort by creation: %s >= %s", a, b)
	}
}
