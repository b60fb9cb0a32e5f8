// Package model defines the core conversation memory data types.
package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ValidRoles are the allowed turn roles.
var ValidRoles = map[Role]bool{
	RoleUser:      true,
	RoleAssistant: true,
	RoleSystem:    true,
}

// MaxContentBytes is the hard cap on a single turn's content.
const MaxContentBytes = 5 << 20

// Turn is one role-tagged message. Timestamp is Unix milliseconds.
type Turn struct {
	Index     int    `json:"index"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Time returns the turn timestamp as a time.Time.
func (t Turn) Time() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// Session is a bounded, timeout-delimited group of turns.
// EndTime is zero while the session is open.
type Session struct {
	ID         string             `json:"id"`
	Title      string             `json:"title,omitempty"`
	Turns      []Turn             `json:"turns"`
	StartTime  int64              `json:"startTime"`
	EndTime    int64              `json:"endTime,omitempty"`
	OriginURL  string             `json:"originUrl,omitempty"`
	Platform   string             `json:"platformTag,omitempty"`
	OriginKey  string             `json:"originKey,omitempty"`
	Linked     []string           `json:"linked,omitempty"`
	Summary    *Summary           `json:"summary,omitempty"`
	Compressed *CompressedPayload `json:"compressed,omitempty"`
}

// Closed reports whether the session has been logically closed.
func (s *Session) Closed() bool {
	return s.EndTime != 0
}

// LastTurnTime returns the timestamp of the newest turn, or StartTime when empty.
func (s *Session) LastTurnTime() int64 {
	if len(s.Turns) == 0 {
		return s.StartTime
	}
	return s.Turns[len(s.Turns)-1].Timestamp
}

// Clone returns a deep copy so callers cannot mutate cached state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Turns = append([]Turn(nil), s.Turns...)
	c.Linked = append([]string(nil), s.Linked...)
	if s.Summary != nil {
		sum := s.Summary.clone()
		c.Summary = &sum
	}
	if s.Compressed != nil {
		p := *s.Compressed
		c.Compressed = &p
	}
	return &c
}

// RecordID implements store.Indexed.
func (s Session) RecordID() string { return s.ID }

// IndexValues implements store.Indexed.
func (s Session) IndexValues() map[string][]string {
	idx := map[string][]string{}
	if s.OriginKey != "" {
		idx["origin_key"] = []string{s.OriginKey}
	}
	if len(s.Linked) > 0 {
		idx["linked"] = append([]string(nil), s.Linked...)
	}
	return idx
}

// Text joins all turn contents, the input for session-level fingerprints.
func (s *Session) Text() string {
	parts := make([]string, 0, len(s.Turns))
	for _, t := range s.Turns {
		parts = append(parts, t.Content)
	}
	return strings.Join(parts, "\n")
}

// PairRecord is a role/content pair in a Summary.
type PairRecord struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SemanticSummary is the structured digest of a session.
type SemanticSummary struct {
	Topics      []string     `json:"topics"`
	TurnCounts  map[Role]int `json:"turnCounts"`
	TotalLength int          `json:"totalLength"`
}

// Summary is derived from turns and may be regenerated at any time.
type Summary struct {
	Narrative   string          `json:"narrative"`
	Pairs       []PairRecord    `json:"pairs"`
	Markup      string          `json:"markup"`
	Semantic    SemanticSummary `json:"semantic"`
	Fingerprint []float32       `json:"fingerprint,omitempty"`
}

func (s Summary) clone() Summary {
	c := s
	c.Pairs = append([]PairRecord(nil), s.Pairs...)
	c.Semantic.Topics = append([]string(nil), s.Semantic.Topics...)
	if s.Semantic.TurnCounts != nil {
		c.Semantic.TurnCounts = make(map[Role]int, len(s.Semantic.TurnCounts))
		for k, v := range s.Semantic.TurnCounts {
			c.Semantic.TurnCounts[k] = v
		}
	}
	c.Fingerprint = append([]float32(nil), s.Fingerprint...)
	return c
}

// CompressedPayload is an LZW token stream in its portable encoding.
// Data holds the base64 of the big-endian 2-byte code words.
type CompressedPayload struct {
	Data           string `json:"compressed"`
	OriginalSize   int    `json:"originalSize"`
	CompressedSize int    `json:"compressedSize"`
}

// ConceptType classifies an extracted concept record.
type ConceptType string

const (
	ConceptTerm     ConceptType = "concept"
	ConceptDecision ConceptType = "decision"
	ConceptCode     ConceptType = "code"
)

// ValidConceptTypes are the allowed concept record types.
var ValidConceptTypes = map[ConceptType]bool{
	ConceptTerm:     true,
	ConceptDecision: true,
	ConceptCode:     true,
}

// ConceptRecord ties an extracted signal back to its session and turn.
type ConceptRecord struct {
	ID        string      `json:"id,omitempty"`
	Type      ConceptType `json:"type"`
	Content   string      `json:"content"`
	SessionID string      `json:"sessionId"`
	TurnIndex int         `json:"turnIndex"`
	Timestamp int64       `json:"timestamp"`
}

// RecordID implements store.Indexed.
func (c ConceptRecord) RecordID() string { return c.ID }

// IndexValues implements store.Indexed.
func (c ConceptRecord) IndexValues() map[string][]string {
	return map[string][]string{
		"type":       {string(c.Type)},
		"session_id": {c.SessionID},
	}
}

// ValidateTurn rejects malformed turns before they reach the tracker.
func ValidateTurn(role Role, content string) error {
	if !ValidRoles[role] {
		return &ValidationError{Field: "role", Reason: "unknown role " + quote(string(role))}
	}
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Field: "content", Reason: "empty content"}
	}
	if len(content) > MaxContentBytes {
		return &ValidationError{Field: "content", Reason: "content exceeds 5MB cap"}
	}
	if !utf8.ValidString(content) {
		return &ValidationError{Field: "content", Reason: "content is not valid UTF-8"}
	}
	return nil
}

func quote(s string) string {
	return `"` + s + `"`
}
