package summary

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/aime/internal/fingerprint"
	"github.com/rcliao/aime/internal/model"
)

func fixtureTurns() []model.Turn {
	return []model.Turn{
		{Index: 0, Role: model.RoleUser, Content: "Should the extension store history in SQLite or IndexedDB?", Timestamp: 1000},
		{Index: 1, Role: model.RoleAssistant, Content: "We decided to use SQLite instead of IndexedDB. Run `make build` after.", Timestamp: 2000},
		{Index: 2, Role: model.RoleUser, Content: "Great, SQLite it is.", Timestamp: 3000},
	}
}

func TestBuild(t *testing.T) {
	sum := Build(fixtureTurns(), fingerprint.New(fingerprint.Options{}))

	require.Len(t, sum.Pairs, 3)
	assert.Equal(t, model.RoleAssistant, sum.Pairs[1].Role)
	assert.Equal(t, 2, sum.Semantic.TurnCounts[model.RoleUser])
	assert.Equal(t, 1, sum.Semantic.TurnCounts[model.RoleAssistant])

	total := 0
	for _, tr := range fixtureTurns() {
		total += len(tr.Content)
	}
	assert.Equal(t, total, sum.Semantic.TotalLength)

	require.NotEmpty(t, sum.Semantic.Topics)
	assert.Equal(t, "SQLite", sum.Semantic.Topics[0], "most mentioned topic first")
	assert.Contains(t, sum.Narrative, "3 turns")
	assert.Contains(t, sum.Markup, "### User")
	assert.Len(t, sum.Fingerprint, fingerprint.DefaultDimensions)
}

func TestBuild_Deterministic(t *testing.T) {
	fp := fingerprint.New(fingerprint.Options{})
	assert.Equal(t, Build(fixtureTurns(), fp), Build(fixtureTurns(), fp))
}

func TestBuild_Empty(t *testing.T) {
	sum := Build(nil, nil)
	assert.Empty(t, sum.Pairs)
	assert.Empty(t, sum.Semantic.Topics)
	assert.Nil(t, sum.Fingerprint)
}

func TestTitle(t *testing.T) {
	tests := []struct {
		name  string
		turns []model.Turn
		want  string
	}{
		{"first user turn", fixtureTurns(), "Should the extension store history in SQLite or IndexedDB?"},
		{"no turns", nil, ""},
		{"assistant only", []model.Turn{{Role: model.RoleAssistant, Content: "hello  there"}}, "hello there"},
		{"truncated", []model.Turn{{Role: model.RoleUser, Content: strings.Repeat("é", 80)}}, strings.Repeat("é", TitleRunes)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Title(tt.turns))
		})
	}
}

func TestEnrich_RoundTripsTurns(t *testing.T) {
	s := &model.Session{ID: "s1", Turns: fixtureTurns(), StartTime: 1000, EndTime: 3000}
	require.NoError(t, Enrich(s, fingerprint.New(fingerprint.Options{})))

	assert.NotEmpty(t, s.Title)
	require.NotNil(t, s.Summary)
	require.NotNil(t, s.Compressed)

	turns, err := ExpandTurns(*s.Compressed)
	require.NoError(t, err)
	assert.Equal(t, fixtureTurns(), turns)
}

func TestEnrich_KeepsExistingTitle(t *testing.T) {
	s := &model.Session{ID: "s1", Title: "A | B", Turns: fixtureTurns()}
	require.NoError(t, Enrich(s, nil))
	assert.Equal(t, "A | B", s.Title)
}

func TestExpandTurns_Corrupt(t *testing.T) {
	_, err := ExpandTurns(model.CompressedPayload{Data: "!!!", OriginalSize: 3, CompressedSize: 2})
	assert.ErrorIs(t, err, model.ErrCorruptData)
}

func TestConceptRecords(t *testing.T) {
	s := &model.Session{ID: "s1", Turns: fixtureTurns()}
	recs := ConceptRecords(s)
	require.NotEmpty(t, recs)

	byType := map[model.ConceptType][]string{}
	for _, r := range recs {
		assert.Equal(t, "s1", r.SessionID)
		byType[r.Type] = append(byType[r.Type], r.Content)
	}
	assert.Contains(t, byType[model.ConceptTerm], "SQLite")
	assert.Contains(t, byType[model.ConceptDecision], "SQLite")
	assert.Contains(t, byType[model.ConceptCode], "make build")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b", Preview("a\n\n b", 10))
	assert.Equal(t, "abc...", Preview("abcdef", 3))
}
