package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/aime/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &model.StorageError{Op: "open", Err: err}
	}
	// One connection serializes writers; SQLite allows only one at a time.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, &model.StorageError{Op: "migrate", Err: err}
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		collection  TEXT NOT NULL,
		id          TEXT NOT NULL,
		data        BLOB NOT NULL,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);

	CREATE TABLE IF NOT EXISTS record_index (
		collection  TEXT NOT NULL,
		field       TEXT NOT NULL,
		value       TEXT NOT NULL,
		id          TEXT NOT NULL,
		PRIMARY KEY (collection, field, value, id)
	);
	CREATE INDEX IF NOT EXISTS idx_record_index_id ON record_index(collection, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) Add(ctx context.Context, collection string, r Record) (string, error) {
	if r.ID == "" {
		r.ID = NewID()
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now

	err := s.withTx(ctx, "add", collection, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM records WHERE collection = ? AND id = ?`, collection, r.ID).Scan(&exists)
		if err == nil {
			return fmt.Errorf("%s/%s: %w", collection, r.ID, ErrDuplicateID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return insertRecord(ctx, tx, collection, r)
	})
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func (s *SQLiteStore) Put(ctx context.Context, collection string, r Record) error {
	if r.ID == "" {
		return &model.ValidationError{Field: "id", Reason: "put requires an id"}
	}
	return s.withTx(ctx, "put", collection, func(tx *sql.Tx) error {
		created, err := createdAt(ctx, tx, collection, r.ID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if created.IsZero() {
			created = now
		}
		r.CreatedAt, r.UpdatedAt = created, now
		if err := deleteRecord(ctx, tx, collection, r.ID); err != nil {
			return err
		}
		return insertRecord(ctx, tx, collection, r)
	})
}

func (s *SQLiteStore) Update(ctx context.Context, collection string, r Record) error {
	return s.withTx(ctx, "update", collection, func(tx *sql.Tx) error {
		created, err := createdAt(ctx, tx, collection, r.ID)
		if err != nil {
			return err
		}
		if created.IsZero() {
			return &model.NotFoundError{Kind: collection, ID: r.ID}
		}
		r.CreatedAt, r.UpdatedAt = created, time.Now().UTC()
		if err := deleteRecord(ctx, tx, collection, r.ID); err != nil {
			return err
		}
		return insertRecord(ctx, tx, collection, r)
	})
}

func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, data, created_at, updated_at FROM records WHERE collection = ? AND id = ?`,
		collection, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &model.StorageError{Op: "get", Collection: collection, Err: err}
	}
	if err := s.loadIndex(ctx, collection, []*Record{r}); err != nil {
		return nil, &model.StorageError{Op: "get", Collection: collection, Err: err}
	}
	return r, nil
}

func (s *SQLiteStore) GetAll(ctx context.Context, collection string) ([]Record, error) {
	return s.query(ctx, "get all", collection,
		`SELECT id, data, created_at, updated_at FROM records WHERE collection = ? ORDER BY id`,
		collection)
}

func (s *SQLiteStore) GetByIndex(ctx context.Context, collection, field, value string) ([]Record, error) {
	return s.query(ctx, "get by index", collection,
		`SELECT r.id, r.data, r.created_at, r.updated_at
		 FROM records r JOIN record_index i ON i.collection = r.collection AND i.id = r.id
		 WHERE r.collection = ? AND i.field = ? AND i.value = ?
		 ORDER BY r.id`,
		collection, field, value)
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	return s.withTx(ctx, "delete", collection, func(tx *sql.Tx) error {
		return deleteRecord(ctx, tx, collection, id)
	})
}

func (s *SQLiteStore) Clear(ctx context.Context, collection string) error {
	return s.withTx(ctx, "clear", collection, func(tx *sql.Tx) error {
		return clearCollection(ctx, tx, collection)
	})
}

func (s *SQLiteStore) ReplaceAll(ctx context.Context, collections map[string][]Record) error {
	return s.withTx(ctx, "replace all", "", func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for name, recs := range collections {
			if err := clearCollection(ctx, tx, name); err != nil {
				return err
			}
			for _, r := range recs {
				if r.ID == "" {
					r.ID = NewID()
				}
				if r.CreatedAt.IsZero() {
					r.CreatedAt = now
				}
				r.UpdatedAt = now
				if err := insertRecord(ctx, tx, name, r); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction. Errors that are not already typed are
// reported as storage failures.
func (s *SQLiteStore) withTx(ctx context.Context, op, collection string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &model.StorageError{Op: op, Collection: collection, Err: err}
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		var nf *model.NotFoundError
		var ve *model.ValidationError
		if errors.As(err, &nf) || errors.As(err, &ve) || errors.Is(err, ErrDuplicateID) {
			return err
		}
		return &model.StorageError{Op: op, Collection: collection, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &model.StorageError{Op: op, Collection: collection, Err: err}
	}
	return nil
}

func (s *SQLiteStore) query(ctx context.Context, op, collection, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &model.StorageError{Op: op, Collection: collection, Err: err}
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, &model.StorageError{Op: op, Collection: collection, Err: err}
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StorageError{Op: op, Collection: collection, Err: err}
	}
	if err := s.loadIndex(ctx, collection, recs); err != nil {
		return nil, &model.StorageError{Op: op, Collection: collection, Err: err}
	}

	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, *r)
	}
	return out, nil
}

func (s *SQLiteStore) loadIndex(ctx context.Context, collection string, recs []*Record) error {
	for _, r := range recs {
		rows, err := s.db.QueryContext(ctx,
			`SELECT field, value FROM record_index WHERE collection = ? AND id = ? ORDER BY rowid`,
			collection, r.ID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var field, value string
			if err := rows.Scan(&field, &value); err != nil {
				rows.Close()
				return err
			}
			if r.Index == nil {
				r.Index = map[string][]string{}
			}
			r.Index[field] = append(r.Index[field], value)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func scanRecord(sc scanner) (*Record, error) {
	var r Record
	var created, updated string
	if err := sc.Scan(&r.ID, &r.Data, &created, &updated); err != nil {
		return nil, err
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &r, nil
}

func createdAt(ctx context.Context, tx *sql.Tx, collection, id string) (time.Time, error) {
	var created string
	err := tx.QueryRowContext(ctx,
		`SELECT created_at FROM records WHERE collection = ? AND id = ?`, collection, id).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, _ := time.Parse(time.RFC3339Nano, created)
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t, nil
}

func insertRecord(ctx context.Context, ex execer, collection string, r Record) error {
	if r.Data == nil {
		r.Data = []byte{}
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO records (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		collection, r.ID, r.Data, r.CreatedAt.Format(time.RFC3339Nano), r.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	for field, values := range r.Index {
		for _, v := range values {
			_, err := ex.ExecContext(ctx,
				`INSERT OR IGNORE INTO record_index (collection, field, value, id) VALUES (?, ?, ?, ?)`,
				collection, field, v, r.ID)
			if err != nil {
				return fmt.Errorf("insert index %s: %w", field, err)
			}
		}
	}
	return nil
}

func deleteRecord(ctx context.Context, ex execer, collection, id string) error {
	if _, err := ex.ExecContext(ctx,
		`DELETE FROM record_index WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return fmt.Errorf("delete index: %w", err)
	}
	if _, err := ex.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func clearCollection(ctx context.Context, ex execer, collection string) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM record_index WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	if _, err := ex.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	return nil
}
