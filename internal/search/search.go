// Package search ranks snapshot items by embedding similarity to a free-text
// query.
package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/TobiSchelling/feedwatch/internal/database"
	"github.com/TobiSchelling/feedwatch/internal/llm"
)

// DefaultK is the number of results returned when k is not positive.
const DefaultK = 10

// batchSize bounds how many texts go into one embedding request.
const batchSize = 64

// ErrEmptyQuery rejects blank queries.
var ErrEmptyQuery = errors.New("query is required")

// Result is one ranked item.
type Result struct {
	database.Item
	Score float64 `json:"score"`
}

type vector struct {
	text string
	vec  []float64
}

// Index embeds items on first sight and keeps their vectors keyed by link.
// Vectors of items that drop out of the snapshot are forgotten.
type Index struct {
	embedder llm.Embedder

	mu      sync.Mutex
	vectors map[string]vector
}

// NewIndex creates an empty index backed by embedder.
func NewIndex(embedder llm.Embedder) *Index {
	return &Index{embedder: embedder, vectors: make(map[string]vector)}
}

// Text is what gets embedded for an item.
func Text(it database.Item) string {
	return strings.TrimSpace(it.Title + " " + it.Description)
}

// Search returns the k items most similar to query, best first. Ties keep
// snapshot order.
func (x *Index) Search(ctx context.Context, items []database.Item, query string, k int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = DefaultK
	}

	vecs, err := x.itemVectors(ctx, items)
	if err != nil {
		return nil, err
	}

	q, err := x.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(q) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors", len(q))
	}

	results := make([]Result, len(items))
	for i, it := range items {
		results[i] = Result{Item: it, Score: Cosine(q[0], vecs[i])}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// itemVectors returns one vector per item, embedding only items whose text
// is new or changed.
func (x *Index) itemVectors(ctx context.Context, items []database.Item) ([][]float64, error) {
	out := make([][]float64, len(items))
	var missing []int

	x.mu.Lock()
	for i, it := range items {
		if v, ok := x.vectors[it.Link]; ok && v.text == Text(it) {
			out[i] = v.vec
			continue
		}
		missing = append(missing, i)
	}
	x.mu.Unlock()

	if len(missing) > 0 {
		log.Printf("Embedding %d of %d snapshot items", len(missing), len(items))
	}
	for start := 0; start < len(missing); start += batchSize {
		end := min(start+batchSize, len(missing))
		texts := make([]string, 0, end-start)
		for _, i := range missing[start:end] {
			texts = append(texts, Text(items[i]))
		}
		vecs, err := x.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding items: %w", err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedding items: got %d vectors for %d texts", len(vecs), len(texts))
		}
		for j, i := range missing[start:end] {
			out[i] = vecs[j]
		}
	}

	live := make(map[string]vector, len(items))
	for i, it := range items {
		live[it.Link] = vector{text: Text(it), vec: out[i]}
	}
	x.mu.Lock()
	x.vectors = live
	x.mu.Unlock()

	return out, nil
}

// Len returns the number of cached vectors.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.vectors)
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their dimensions differ.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
