package memory

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rcliao/aime/internal/model"
)

func seedArchive(t *testing.T, m *Manager) {
	t.Helper()
	ctx := context.Background()
	a := sess("a", 1000, "We decided to use SQLite instead of IndexedDB.", "Sounds good.")
	a.OriginKey = "chat-a"
	b := sess("b", 5000, "Tabs or spaces in Go?", "gofmt decides: tabs.")
	for _, s := range []*model.Session{a, b} {
		if err := m.Ingest(ctx, s); err != nil {
			t.Fatalf("ingest %s: %v", s.ID, err)
		}
	}
}

func exportJSON(t *testing.T, m *Manager, plain bool) []byte {
	t.Helper()
	a, err := m.Export(context.Background(), plain)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal archive: %v", err)
	}
	return data
}

func TestExport(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	seedArchive(t, m)

	a, err := m.Export(context.Background(), false)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if a.Version != ArchiveVersion {
		t.Errorf("version = %q", a.Version)
	}
	if a.Created == "" || a.Data.Data == "" || a.Sessions != nil {
		t.Errorf("unexpected archive: %+v", a)
	}
	if a.Index.MessageCount != 4 || a.Index.SessionCount != 2 {
		t.Errorf("index counts = %+v", a.Index)
	}
	if a.Index.TimeRange.Start != 1000 || a.Index.TimeRange.End != 6000 {
		t.Errorf("time range = %+v", a.Index.TimeRange)
	}
	found := false
	for _, c := range a.Index.Concepts[string(model.ConceptDecision)] {
		if c.Content == "SQLite" && len(c.SessionRefs) == 1 && c.SessionRefs[0] == "a" {
			found = true
		}
	}
	if !found {
		t.Errorf("decision concept missing from index: %+v", a.Index.Concepts)
	}

	var raw map[string]any
	json.Unmarshal(exportJSON(t, m, false), &raw)
	data, ok := raw["data"].(map[string]any)
	if !ok || data["compressed"] == nil || data["originalSize"] == nil || data["compressedSize"] == nil {
		t.Errorf("data block = %v", raw["data"])
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestManager(t, Options{})
	seedArchive(t, src)
	blob := exportJSON(t, src, false)

	dst, _ := newTestManager(t, Options{})
	dst.Ingest(ctx, sess("stale", 9000, "should be replaced by the import"))

	res, err := dst.Import(ctx, blob)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Sessions != 2 {
		t.Errorf("imported %d sessions", res.Sessions)
	}
	if dst.GetSession("stale") != nil {
		t.Error("import must replace existing state")
	}
	for _, id := range []string{"a", "b"} {
		want, got := src.GetSession(id), dst.GetSession(id)
		if got == nil {
			t.Fatalf("session %s missing after import", id)
		}
		if len(got.Turns) != len(want.Turns) {
			t.Fatalf("session %s turns = %d, want %d", id, len(got.Turns), len(want.Turns))
		}
		for i := range want.Turns {
			if got.Turns[i] != want.Turns[i] {
				t.Errorf("session %s turn %d = %+v, want %+v", id, i, got.Turns[i], want.Turns[i])
			}
		}
		if got.StartTime != want.StartTime || got.OriginKey != want.OriginKey {
			t.Errorf("session %s metadata differs", id)
		}
		if got.Summary == nil {
			t.Errorf("session %s summary not rebuilt", id)
		}
	}

	if _, err := dst.Import(ctx, blob); err != nil {
		t.Fatalf("second import: %v", err)
	}
	if n := dst.GetStats().Count; n != 2 {
		t.Errorf("count after re-import = %d, want 2", n)
	}
	if c := dst.FindByConcept(model.ConceptDecision, "SQLite"); c == nil || c.Frequency != 1 {
		t.Errorf("concepts duplicated or missing: %+v", c)
	}
	results, _ := dst.Search(ctx, "tabs spaces", 5)
	if len(results) == 0 || results[0].Session.ID != "b" {
		t.Errorf("search index not rebuilt: %+v", results)
	}
}

func TestImportPlainSessions(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestManager(t, Options{})
	seedArchive(t, src)
	a, _ := src.Export(ctx, true)
	a.Data = model.CompressedPayload{}
	blob, _ := json.Marshal(a)

	dst, _ := newTestManager(t, Options{})
	if _, err := dst.Import(ctx, blob); err != nil {
		t.Fatalf("import: %v", err)
	}
	if dst.GetStats().Count != 2 {
		t.Errorf("count = %d", dst.GetStats().Count)
	}
}

func TestImportIgnoresUnknownFields(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestManager(t, Options{})
	seedArchive(t, src)

	var raw map[string]any
	json.Unmarshal(exportJSON(t, src, false), &raw)
	raw["producer"] = "browser-extension"
	raw["index"].(map[string]any)["future"] = []int{1, 2}
	blob, _ := json.Marshal(raw)

	dst, _ := newTestManager(t, Options{})
	if _, err := dst.Import(ctx, blob); err != nil {
		t.Fatalf("import: %v", err)
	}
}

func TestImportRejectsBadArchives(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestManager(t, Options{})
	seedArchive(t, src)
	good := string(exportJSON(t, src, false))

	tests := []struct {
		name string
		blob string
	}{
		{"not json", "{{{"},
		{"missing version", strings.Replace(good, `"version":"1.0.0"`, `"ver":"1.0.0"`, 1)},
		{"wrong version", strings.Replace(good, `"version":"1.0.0"`, `"version":"2.0.0"`, 1)},
		{"corrupt payload", strings.Replace(good, `"compressed":"`, `"compressed":"!!`, 1)},
		{"no data", `{"version":"1.0.0","created":"2024-01-01T00:00:00Z"}`},
		{"invalid session", `{"version":"1.0.0","sessions":[{"id":"x","turns":[]}]}`},
	}

	dst, _ := newTestManager(t, Options{})
	seedArchive(t, dst)
	before := dst.GetStats()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dst.Import(ctx, []byte(tt.blob))
			if !errors.Is(err, model.ErrCorruptData) {
				t.Errorf("err = %v, want ErrCorruptData", err)
			}
		})
	}
	if dst.GetStats() != before {
		t.Error("failed import mutated state")
	}
}

func TestImportAppliesDedupAndCap(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, Options{MaxSessions: 2})

	a1 := *sess("a1", 1000, "first capture")
	a1.OriginKey = "chat"
	a2 := *sess("a2", 2000, "second capture")
	a2.OriginKey = "chat"
	blob, _ := json.Marshal(Archive{Version: ArchiveVersion, Sessions: []model.Session{
		a1, a2, *sess("c", 3000, "other words"), *sess("d", 4000, "newest words"),
	}})

	res, err := m.Import(ctx, blob)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Sessions != 2 {
		t.Errorf("sessions = %d, want 2", res.Sessions)
	}
	got := ids(m.GetRecent(10))
	if len(got) != 2 || got[0] != "d" || got[1] != "c" {
		t.Errorf("kept = %v", got)
	}
}

func TestImportDedupKeepsFirstStart(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, Options{})

	first := *withOrigin(sess("first", 5000, "first capture"), "chat")
	earlier := *withOrigin(sess("earlier", 1000, "earlier looking capture"), "chat")
	zero := *withStart(sess("first", 8000, "same id again"), 0)
	zero.OriginKey = "chat"
	blob, _ := json.Marshal(Archive{Version: ArchiveVersion, Sessions: []model.Session{first, earlier, zero}})

	res, err := m.Import(ctx, blob)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Sessions != 1 || res.Skipped != 2 {
		t.Errorf("result = %+v", res)
	}
	got := m.GetSession("first")
	if got == nil {
		t.Fatal("deduplicated session missing")
	}
	if got.StartTime != 5000 {
		t.Errorf("start time = %d, want 5000", got.StartTime)
	}
	if got.Turns[0].Content != "same id again" {
		t.Errorf("content = %q", got.Turns[0].Content)
	}
}
