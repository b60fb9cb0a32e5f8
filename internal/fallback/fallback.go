// Package fallback is the degraded-path session cache used when the store
// cannot accept a closed session. Sessions are written as JSON files next to a
// YAML index so they can be re-ingested later or inspected by hand.
package fallback

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/aime/internal/model"
)

const indexVersion = "1.0"

// Cache is a directory of fallback session files.
type Cache struct {
	mu  sync.Mutex
	dir string
}

// Entry describes one cached session in the index.
type Entry struct {
	ID        string    `yaml:"id"`
	Title     string    `yaml:"title,omitempty"`
	OriginKey string    `yaml:"origin_key,omitempty"`
	Turns     int       `yaml:"turns"`
	StartTime int64     `yaml:"start_time"`
	SavedAt   time.Time `yaml:"saved_at"`
	Reason    string    `yaml:"reason,omitempty"`
}

// Index is the YAML index of all cached sessions.
type Index struct {
	Version   string    `yaml:"version"`
	UpdatedAt time.Time `yaml:"updated_at"`
	Sessions  []Entry   `yaml:"sessions"`
}

// New returns a cache rooted at dir. The directory is created on first save.
func New(dir string) *Cache {
	return &Cache{dir: dir}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

func (c *Cache) indexPath() string {
	return filepath.Join(c.dir, "sessions.yaml")
}

// Path returns the file a session is stored in.
func (c *Cache) Path(id string) string {
	return filepath.Join(c.dir, fmt.Sprintf("session_%s.json", id))
}

// Save writes s and records it in the index, replacing an earlier copy.
// reason is kept in the index for inspection.
func (c *Cache) Save(s *model.Session, reason string) (string, error) {
	if s == nil || s.ID == "" {
		return "", &model.ValidationError{Field: "id", Reason: "fallback session needs an id"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("create fallback dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	path := c.Path(s.ID)
	if err := writeFile(path, data); err != nil {
		return "", err
	}

	idx, err := c.loadIndex()
	if err != nil {
		return "", err
	}
	entry := Entry{
		ID:        s.ID,
		Title:     s.Title,
		OriginKey: s.OriginKey,
		Turns:     len(s.Turns),
		StartTime: s.StartTime,
		SavedAt:   time.Now().UTC(),
		Reason:    reason,
	}
	replaced := false
	for i := range idx.Sessions {
		if idx.Sessions[i].ID == s.ID {
			idx.Sessions[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		idx.Sessions = append(idx.Sessions, entry)
	}
	if err := c.saveIndex(idx); err != nil {
		return "", err
	}
	return path, nil
}

// List returns the index entries ordered by start time.
func (c *Cache) List() ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.loadIndex()
	if err != nil {
		return nil, err
	}
	return idx.Sessions, nil
}

// LoadAll returns every cached session ordered by start time. Files listed in
// the index but missing or unreadable are reported in the returned error
// after the readable ones are collected.
func (c *Cache) LoadAll() ([]*model.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.loadIndex()
	if err != nil {
		return nil, err
	}
	var out []*model.Session
	var errs []error
	for _, e := range idx.Sessions {
		data, err := os.ReadFile(c.Path(e.ID))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		var s model.Session
		if err := json.Unmarshal(data, &s); err != nil {
			errs = append(errs, &model.CorruptDataError{Source: c.Path(e.ID), Offset: -1, Reason: "invalid session file", Err: err})
			continue
		}
		out = append(out, &s)
	}
	return out, errors.Join(errs...)
}

// Remove deletes a cached session. Unknown ids are ignored.
func (c *Cache) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.loadIndex()
	if err != nil {
		return err
	}
	kept := idx.Sessions[:0]
	for _, e := range idx.Sessions {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	idx.Sessions = kept
	if err := os.Remove(c.Path(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if len(idx.Sessions) == 0 {
		return removeIfExists(c.indexPath())
	}
	return c.saveIndex(idx)
}

// Clear removes every cached session and the index.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.loadIndex()
	if err == nil {
		for _, e := range idx.Sessions {
			_ = os.Remove(c.Path(e.ID))
		}
	}
	return removeIfExists(c.indexPath())
}

func (c *Cache) loadIndex() (*Index, error) {
	data, err := os.ReadFile(c.indexPath())
	if os.IsNotExist(err) {
		return &Index{Version: indexVersion}, nil
	}
	if err != nil {
		return nil, err
	}
	var idx Index
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, &model.CorruptDataError{Source: c.indexPath(), Offset: -1, Reason: "invalid fallback index", Err: err}
	}
	return &idx, nil
}

func (c *Cache) saveIndex(idx *Index) error {
	sort.SliceStable(idx.Sessions, func(i, j int) bool {
		return idx.Sessions[i].StartTime < idx.Sessions[j].StartTime
	})
	idx.Version = indexVersion
	idx.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(idx)
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	return writeFile(c.indexPath(), data)
}

// writeFile replaces path atomically.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
