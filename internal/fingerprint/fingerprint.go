// Package fingerprint turns text into fixed-length bag-of-words vectors and
// compares them. Vectors are a pure function of the text.
package fingerprint

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	DefaultDimensions = 50
	DefaultTopTerms   = 20
	// DefaultThreshold is the minimum similarity for a search hit.
	DefaultThreshold = 0.3
)

// Vector is an L2-normalized term-frequency fingerprint.
type Vector = []float32

// Embedder generates vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// Options configures an Engine.
type Options struct {
	Dimensions int
	TopTerms   int
	Cache      *Cache
}

// Engine computes fingerprints with fixed dimensions.
type Engine struct {
	dims  int
	topK  int
	cache *Cache
}

// New returns an Engine; zero options fall back to the defaults.
func New(opts Options) *Engine {
	if opts.Dimensions <= 0 {
		opts.Dimensions = DefaultDimensions
	}
	if opts.TopTerms <= 0 {
		opts.TopTerms = DefaultTopTerms
	}
	return &Engine{dims: opts.Dimensions, topK: opts.TopTerms, cache: opts.Cache}
}

// Dims returns the vector length.
func (e *Engine) Dims() int { return e.dims }

// Embed implements Embedder. It never fails.
func (e *Engine) Embed(_ context.Context, text string) (Vector, error) {
	return e.Vector(text), nil
}

// Vector fingerprints text. Text without qualifying terms yields the zero vector.
func (e *Engine) Vector(text string) Vector {
	if e.cache != nil {
		if v, ok := e.cache.get(e.dims, e.topK, text); ok {
			return v
		}
	}
	v := e.compute(text)
	if e.cache != nil {
		e.cache.set(e.dims, e.topK, text, v)
	}
	return v
}

var nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}_\s]+`)

type termCount struct {
	term  string
	count int
}

func (e *Engine) compute(text string) Vector {
	vec := make(Vector, e.dims)

	counts := map[string]int{}
	for _, tok := range strings.Fields(nonWordRe.ReplaceAllString(strings.ToLower(text), "")) {
		if utf8.RuneCountInString(tok) <= 2 {
			continue
		}
		counts[tok]++
	}
	if len(counts) == 0 {
		return vec
	}

	terms := make([]termCount, 0, len(counts))
	for t, c := range counts {
		terms = append(terms, termCount{t, c})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].count != terms[j].count {
			return terms[i].count > terms[j].count
		}
		return terms[i].term < terms[j].term
	})
	if len(terms) > e.topK {
		terms = terms[:e.topK]
	}

	acc := make([]float64, e.dims)
	for _, tc := range terms {
		acc[bucket(tc.term, e.dims)] += float64(tc.count)
	}
	var norm float64
	for _, x := range acc {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	for i, x := range acc {
		vec[i] = float32(x / norm)
	}
	return vec
}

func bucket(term string, dims int) int {
	h := fnv.New32a()
	h.Write([]byte(term))
	return int(h.Sum32() % uint32(dims))
}

// IsZero reports whether v carries no signal.
func IsZero(v Vector) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Similarity is the dot product of two normalized vectors clamped to [0,1].
// Vectors of different length are unrelated.
func Similarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return Clamp(dot)
}

// Clamp bounds a similarity score to [0,1]. NaN maps to 0.
func Clamp(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Match is a scored candidate. Recency breaks score ties, larger first.
type Match struct {
	ID      string
	Score   float64
	Recency int64
}

// Rank drops matches below threshold and orders the rest by score, then
// recency, then id, all descending.
func Rank(matches []Match, threshold float64) []Match {
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		if m.Score < threshold {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Recency != out[j].Recency {
			return out[i].Recency > out[j].Recency
		}
		return out[i].ID > out[j].ID
	})
	return out
}
