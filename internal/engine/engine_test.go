package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/aime/internal/config"
	"github.com/rcliao/aime/internal/fallback"
	"github.com/rcliao/aime/internal/memory"
	"github.com/rcliao/aime/internal/model"
	"github.com/rcliao/aime/internal/tracker"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(dir, "memory.db")
	cfg.FallbackDir = filepath.Join(dir, "fallback")
	return cfg
}

func openEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	e, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	return e
}

func handle(t *testing.T, e *Engine, req Request) any {
	t.Helper()
	res, err := e.Handle(context.Background(), req)
	require.NoError(t, err, "action %s", req.Action())
	return res
}

func TestPushCloseSearch(t *testing.T) {
	e := openEngine(t, testConfig(t))
	t.Cleanup(func() { e.Close(context.Background()) })

	res := handle(t, e, &PushTurn{Role: model.RoleUser, Content: "postgres replication lag keeps growing", Timestamp: 1000})
	id := res.(*PushResult).SessionID
	require.NotEmpty(t, id)
	handle(t, e, &PushTurn{Role: model.RoleAssistant, Content: "check the replica apply rate", Timestamp: 2000})
	handle(t, e, &CloseSession{})

	stats := handle(t, e, &GetStats{}).(memory.Stats)
	assert.Equal(t, 1, stats.Count)

	got := handle(t, e, &GetSession{ID: id}).(*model.Session)
	require.NotNil(t, got)
	assert.Equal(t, int64(2000), got.EndTime)

	hits := handle(t, e, &Search{Query: "postgres replication"}).([]SearchResult)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].ID)
	assert.Equal(t, 0, hits[0].TurnIndex)

	kw := handle(t, e, &Search{Query: "REPLICA", Keyword: true}).([]SearchResult)
	require.Len(t, kw, 1)

	none := handle(t, e, &Search{Query: "  "}).([]SearchResult)
	assert.Empty(t, none)
}

func TestDraftResumedAfterRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	e := openEngine(t, cfg)
	res := handle(t, e, &PushTurn{Role: model.RoleUser, Content: "start of a long chat", Timestamp: 1000})
	id := res.(*PushResult).SessionID
	require.NoError(t, e.Close(ctx))

	e = openEngine(t, cfg)
	t.Cleanup(func() { e.Close(ctx) })

	assert.Equal(t, tracker.Open, e.Tracker.State())
	assert.Equal(t, id, e.Tracker.Current().ID)
	assert.Zero(t, e.Memory.GetStats().Count)

	res = handle(t, e, &PushTurn{Role: model.RoleAssistant, Content: "continuing", Timestamp: 2000})
	assert.Equal(t, id, res.(*PushResult).SessionID)

	handle(t, e, &CloseSession{})
	stored := e.Memory.GetSession(id)
	require.NotNil(t, stored)
	assert.Len(t, stored.Turns, 2)
	drafts, err := e.Memory.Drafts(ctx)
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestOlderDraftsClosedOnOpen(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	e := openEngine(t, cfg)
	older := &model.Session{ID: "old", StartTime: 1000, Turns: []model.Turn{
		{Index: 0, Role: model.RoleUser, Content: "older draft", Timestamp: 1000},
	}}
	newer := &model.Session{ID: "new", StartTime: 5000, Turns: []model.Turn{
		{Index: 0, Role: model.RoleUser, Content: "newer draft", Timestamp: 5000},
	}}
	require.NoError(t, e.Memory.Checkpoint(ctx, older))
	require.NoError(t, e.Memory.Checkpoint(ctx, newer))
	require.NoError(t, e.Close(ctx))

	e = openEngine(t, cfg)
	t.Cleanup(func() { e.Close(ctx) })

	assert.Equal(t, "new", e.Tracker.Current().ID)
	closed := e.Memory.GetSession("old")
	require.NotNil(t, closed)
	assert.Equal(t, int64(1000), closed.EndTime)
	assert.NotNil(t, closed.Summary)

	drafts, err := e.Memory.Drafts(ctx)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "new", drafts[0].ID)
}

func TestFallbackRecoveredOnOpen(t *testing.T) {
	cfg := testConfig(t)
	fb := fallback.New(cfg.FallbackDir)
	s := &model.Session{ID: "lost", StartTime: 1000, EndTime: 1000, Turns: []model.Turn{
		{Index: 0, Role: model.RoleUser, Content: "saved during an outage", Timestamp: 1000},
	}}
	_, err := fb.Save(s, "store down")
	require.NoError(t, err)

	e := openEngine(t, cfg)
	t.Cleanup(func() { e.Close(context.Background()) })

	assert.NotNil(t, e.Memory.GetSession("lost"))
	entries, err := fb.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBadgerBackend(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Backend = config.BackendBadger
	cfg.DBPath = filepath.Join(t.TempDir(), "badger")

	e := openEngine(t, cfg)
	res := handle(t, e, &PushTurn{Role: model.RoleUser, Content: "kept in badger", Timestamp: 1000})
	id := res.(*PushResult).SessionID
	handle(t, e, &CloseSession{})
	require.NoError(t, e.Close(ctx))

	e = openEngine(t, cfg)
	t.Cleanup(func() { e.Close(ctx) })
	assert.NotNil(t, e.Memory.GetSession(id))
}

func TestExportImportRequests(t *testing.T) {
	ctx := context.Background()
	src := openEngine(t, testConfig(t))
	t.Cleanup(func() { src.Close(ctx) })
	handle(t, src, &PushTurn{Role: model.RoleUser, Content: "We decided to use Badger over SQLite", Timestamp: 1000})
	handle(t, src, &CloseSession{})

	archive := handle(t, src, &Export{}).(*memory.Archive)
	blob, err := json.Marshal(archive)
	require.NoError(t, err)

	dst := openEngine(t, testConfig(t))
	t.Cleanup(func() { dst.Close(ctx) })
	res := handle(t, dst, &Import{Archive: blob}).(*memory.ImportResult)
	assert.Equal(t, 1, res.Sessions)

	concepts := handle(t, dst, &Concepts{Type: model.ConceptDecision}).([]memory.ConceptSummary)
	require.NotEmpty(t, concepts)
	assert.Equal(t, "Badger", concepts[0].Content)

	_, err = dst.Handle(ctx, &Import{})
	assert.ErrorIs(t, err, model.ErrValidation)
}

type bogus struct{}

func (bogus) Action() string { return "bogus" }

func TestHandleUnsupported(t *testing.T) {
	e := openEngine(t, testConfig(t))
	t.Cleanup(func() { e.Close(context.Background()) })

	_, err := e.Handle(context.Background(), bogus{})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = e.Handle(context.Background(), &Merge{IDs: []string{"a"}})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Request
		wantErr bool
	}{
		{"push", `{"action":"push_turn","role":"user","content":"hi","timestamp":5}`,
			&PushTurn{Role: model.RoleUser, Content: "hi", Timestamp: 5}, false},
		{"close", `{"action":"close"}`, &CloseSession{}, false},
		{"search", `{"action":"search","query":"go","limit":3,"keyword":true}`,
			&Search{Query: "go", Limit: 3, Keyword: true}, false},
		{"merge", `{"action":"merge","ids":["a","b"]}`, &Merge{IDs: []string{"a", "b"}}, false},
		{"origin", `{"action":"set_origin","key":"c1","platform":"chat"}`, &SetOrigin{Key: "c1", Platform: "chat"}, false},
		{"extra fields", `{"action":"get_stats","client":"ext"}`, &GetStats{}, false},
		{"unknown action", `{"action":"explode"}`, nil, true},
		{"missing action", `{"query":"x"}`, nil, true},
		{"bad json", `{"action":`, nil, true},
		{"bad field type", `{"action":"get_recent","limit":"ten"}`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeRequest([]byte(tt.line))
			if tt.wantErr {
				assert.ErrorIs(t, err, model.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServe(t *testing.T) {
	e := openEngine(t, testConfig(t))
	t.Cleanup(func() { e.Close(context.Background()) })

	in := strings.Join([]string{
		`{"action":"push_turn","role":"user","content":"How do I profile Go code?","timestamp":1000}`,
		``,
		`{"action":"push_turn","role":"robot","content":"beep","timestamp":2000}`,
		`{"action":"close"}`,
		`{"action":"get_stats"}`,
		`{"action":"merge","ids":["x","y"]}`,
		`not json`,
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, e.Serve(context.Background(), strings.NewReader(in), &out))

	var resps []Response
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var r Response
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		resps = append(resps, r)
	}
	require.Len(t, resps, 6)

	assert.True(t, resps[0].OK)
	assert.Equal(t, "push_turn", resps[0].Action)
	assert.False(t, resps[1].OK)
	assert.Equal(t, "validation", resps[1].Code)
	assert.True(t, resps[2].OK)
	assert.Equal(t, float64(1), resps[3].Result.(map[string]any)["count"])
	assert.Equal(t, "not_found", resps[4].Code)
	assert.Equal(t, "validation", resps[5].Code)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&model.ValidationError{Field: "x"}, "validation"},
		{&model.CorruptDataError{Source: "lzw", Offset: 1}, "corrupt_data"},
		{&model.StorageError{Op: "put", Err: errors.New("io")}, "storage_unavailable"},
		{&model.NotFoundError{Kind: "session", ID: "x"}, "not_found"},
		{&tracker.DegradedError{SessionID: "s", Err: &model.StorageError{Op: "put", Err: errors.New("io")}}, "degraded"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err))
	}
}
