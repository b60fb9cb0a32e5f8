package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rcliao/aime/internal/model"
	"github.com/rcliao/aime/internal/tracker"
)

// Request is one host operation. The set of variants is closed; Handle
// switches over all of them.
type Request interface {
	Action() string
}

type PushTurn struct {
	Role    model.Role `json:"role"`
	Content string     `json:"content"`
	// Timestamp is Unix milliseconds; zero means now.
	Timestamp int64 `json:"timestamp,omitempty"`
}

type CloseSession struct{}

type SetOrigin struct {
	URL      string `json:"url,omitempty"`
	Platform string `json:"platform,omitempty"`
	Key      string `json:"key,omitempty"`
}

type Search struct {
	Query   string `json:"query"`
	Limit   int    `json:"limit,omitempty"`
	Keyword bool   `json:"keyword,omitempty"`
}

type GetSession struct {
	ID string `json:"id"`
}

type FindByOrigin struct {
	Key string `json:"key"`
}

type GetRecent struct {
	Limit int `json:"limit,omitempty"`
}

type GetStats struct{}

type Export struct {
	Plain bool `json:"plain,omitempty"`
}

type Import struct {
	Archive json.RawMessage `json:"archive"`
}

type Merge struct {
	IDs []string `json:"ids"`
}

type Concepts struct {
	Type model.ConceptType `json:"type,omitempty"`
}

type Context struct {
	Query  string `json:"query"`
	Budget int    `json:"budget,omitempty"`
}

func (PushTurn) Action() string     { return "push_turn" }
func (CloseSession) Action() string { return "close" }
func (SetOrigin) Action() string    { return "set_origin" }
func (Search) Action() string       { return "search" }
func (GetSession) Action() string   { return "get_session" }
func (FindByOrigin) Action() string { return "find_by_origin" }
func (GetRecent) Action() string    { return "get_recent" }
func (GetStats) Action() string     { return "get_stats" }
func (Export) Action() string       { return "export" }
func (Import) Action() string       { return "import" }
func (Merge) Action() string        { return "merge" }
func (Concepts) Action() string     { return "concepts" }
func (Context) Action() string      { return "context" }

var requestTypes = map[string]func() Request{
	"push_turn":      func() Request { return &PushTurn{} },
	"close":          func() Request { return &CloseSession{} },
	"set_origin":     func() Request { return &SetOrigin{} },
	"search":         func() Request { return &Search{} },
	"get_session":    func() Request { return &GetSession{} },
	"find_by_origin": func() Request { return &FindByOrigin{} },
	"get_recent":     func() Request { return &GetRecent{} },
	"get_stats":      func() Request { return &GetStats{} },
	"export":         func() Request { return &Export{} },
	"import":         func() Request { return &Import{} },
	"merge":          func() Request { return &Merge{} },
	"concepts":       func() Request { return &Concepts{} },
	"context":        func() Request { return &Context{} },
}

// DecodeRequest parses a JSON object of the form {"action": "...", ...}.
func DecodeRequest(data []byte) (Request, error) {
	var env struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &model.ValidationError{Field: "request", Reason: "invalid JSON: " + err.Error()}
	}
	mk, ok := requestTypes[env.Action]
	if !ok {
		return nil, &model.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", env.Action)}
	}
	req := mk()
	if err := json.Unmarshal(data, req); err != nil {
		return nil, &model.ValidationError{Field: env.Action, Reason: err.Error()}
	}
	return req, nil
}

// PushResult reports where a turn went. Degraded is set when an earlier
// session had to be diverted to the fallback cache.
type PushResult struct {
	SessionID string `json:"sessionId"`
	Degraded  string `json:"degraded,omitempty"`
}

// SearchResult is a ranked session in a search response.
type SearchResult struct {
	ID        string  `json:"id"`
	Title     string  `json:"title,omitempty"`
	StartTime int64   `json:"startTime"`
	Score     float64 `json:"score,omitempty"`
	TurnIndex int     `json:"turnIndex"`
	Narrative string  `json:"narrative,omitempty"`
}

// Handle runs req and returns its JSON-ready result.
func (e *Engine) Handle(ctx context.Context, req Request) (any, error) {
	switch r := req.(type) {
	case *PushTurn:
		return e.push(ctx, r)
	case *CloseSession:
		return nil, e.Tracker.Close(ctx)
	case *SetOrigin:
		return nil, e.Tracker.SetOrigin(ctx, tracker.Origin{URL: r.URL, Platform: r.Platform, Key: r.Key})
	case *Search:
		return e.search(ctx, r)
	case *GetSession:
		return e.Memory.GetSession(r.ID), nil
	case *FindByOrigin:
		return e.Memory.FindByOrigin(ctx, r.Key)
	case *GetRecent:
		return e.Memory.GetRecent(r.Limit), nil
	case *GetStats:
		return e.Memory.GetStats(), nil
	case *Export:
		return e.Memory.Export(ctx, r.Plain)
	case *Import:
		if len(r.Archive) == 0 {
			return nil, &model.ValidationError{Field: "archive", Reason: "missing archive"}
		}
		return e.Memory.Import(ctx, r.Archive)
	case *Merge:
		return e.Memory.MergeSessions(ctx, r.IDs)
	case *Concepts:
		return e.Memory.Concepts(r.Type), nil
	case *Context:
		return e.Memory.Context(ctx, r.Query, r.Budget)
	default:
		return nil, &model.ValidationError{Field: "request", Reason: fmt.Sprintf("unsupported request %T", req)}
	}
}

func (e *Engine) push(ctx context.Context, r *PushTurn) (*PushResult, error) {
	var id string
	var err error
	if r.Timestamp == 0 {
		id, err = e.Tracker.AddTurn(ctx, r.Role, r.Content)
	} else {
		id, err = e.Tracker.PushTurn(ctx, r.Role, r.Content, r.Timestamp)
	}
	if errors.Is(err, tracker.ErrDegraded) && id != "" {
		return &PushResult{SessionID: id, Degraded: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}
	return &PushResult{SessionID: id}, nil
}

func (e *Engine) search(ctx context.Context, r *Search) ([]SearchResult, error) {
	out := []SearchResult{}
	if r.Keyword {
		for _, s := range e.Memory.SearchKeyword(r.Query, r.Limit) {
			out = append(out, newSearchResult(s, 0, 0))
		}
		return out, nil
	}
	hits, err := e.Memory.Search(ctx, r.Query, r.Limit)
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		out = append(out, newSearchResult(h.Session, h.Score, h.TurnIndex))
	}
	return out, nil
}

func newSearchResult(s *model.Session, score float64, turn int) SearchResult {
	r := SearchResult{ID: s.ID, Title: s.Title, StartTime: s.StartTime, Score: score, TurnIndex: turn}
	if s.Summary != nil {
		r.Narrative = s.Summary.Narrative
	}
	return r
}
