package fingerprint

import (
	"context"
	"math"
	"testing"
)

func TestSimilarity(t *testing.T) {
	s := float32(math.Sqrt2 / 2)
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
		delta    float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0, 0.001},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0, 0.001},
		{"opposite clamps to zero", Vector{1, 0, 0}, Vector{-1, 0, 0}, 0.0, 0.001},
		{"similar", Vector{s, s, 0}, Vector{1, 0, 0}, 0.707, 0.01},
		{"empty", Vector{}, Vector{}, 0.0, 0.001},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0, 0.001},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0, 0.001},
		{"overshoot clamps to one", Vector{1.1, 0}, Vector{1, 0}, 1.0, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > tt.delta {
				t.Errorf("Similarity(%v, %v) = %f, want %f (±%f)", tt.a, tt.b, got, tt.expected, tt.delta)
			}
		})
	}
}

func TestVector_Shape(t *testing.T) {
	e := New(Options{})
	v := e.Vector("The database migration needs a rollback plan before Friday")
	if len(v) != DefaultDimensions {
		t.Fatalf("len = %d, want %d", len(v), DefaultDimensions)
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-5 {
		t.Errorf("norm = %f, want 1", math.Sqrt(norm))
	}

	if got := New(Options{Dimensions: 8}).Vector("hello world"); len(got) != 8 {
		t.Errorf("custom dims len = %d, want 8", len(got))
	}
}

func TestVector_ZeroWhenNoTerms(t *testing.T) {
	e := New(Options{})
	for _, text := range []string{"", "   ", "!!! ???", "go is ok", "a an of"} {
		v := e.Vector(text)
		if len(v) != DefaultDimensions {
			t.Errorf("%q: len = %d", text, len(v))
		}
		if !IsZero(v) {
			t.Errorf("%q: expected zero vector, got %v", text, v)
		}
	}
}

func TestVector_Deterministic(t *testing.T) {
	a := New(Options{}).Vector("Hello, world! Hello again.")
	b := New(Options{}).Vector("hello world hello again")
	if Similarity(a, b) < 0.9999 {
		t.Errorf("case and punctuation should not matter: %v vs %v", a, b)
	}
}

func TestVector_TopTermsLimit(t *testing.T) {
	e := New(Options{TopTerms: 1})
	v := e.Vector("alpha alpha beta gamma")
	nonZero := 0
	for _, x := range v {
		if x != 0 {
			nonZero++
			if math.Abs(float64(x)-1) > 1e-6 {
				t.Errorf("single term component = %f, want 1", x)
			}
		}
	}
	if nonZero != 1 {
		t.Errorf("non-zero components = %d, want 1", nonZero)
	}
}

func TestVector_RelatedTextsScoreAboveThreshold(t *testing.T) {
	e := New(Options{})
	a := e.Vector("database migration postgres schema")
	b := e.Vector("postgres database schema migration plan")
	if got := Similarity(a, b); got < DefaultThreshold {
		t.Errorf("Similarity = %f, want >= %f", got, DefaultThreshold)
	}
}

func TestEmbed(t *testing.T) {
	var emb Embedder = New(Options{})
	v, err := emb.Embed(context.Background(), "vector search")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v) != emb.Dims() {
		t.Errorf("len = %d, want %d", len(v), emb.Dims())
	}
}

func TestRank(t *testing.T) {
	in := []Match{
		{ID: "low", Score: 0.1, Recency: 50},
		{ID: "old", Score: 0.8, Recency: 10},
		{ID: "new", Score: 0.8, Recency: 20},
		{ID: "best", Score: 0.95, Recency: 1},
		{ID: "b", Score: 0.5, Recency: 5},
		{ID: "c", Score: 0.5, Recency: 5},
	}
	got := Rank(in, DefaultThreshold)
	want := []string{"best", "new", "old", "c", "b"}
	if len(got) != len(want) {
		t.Fatalf("got %d matches, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestCache(t *testing.T) {
	c, err := NewCache(100)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	defer c.Close()

	e := New(Options{Cache: c})
	first := e.Vector("cached fingerprint text")
	c.Wait()
	first[0] = 42

	second := e.Vector("cached fingerprint text")
	want := New(Options{}).Vector("cached fingerprint text")
	for i := range want {
		if second[i] != want[i] {
			t.Fatalf("component %d = %f, want %f", i, second[i], want[i])
		}
	}
}
