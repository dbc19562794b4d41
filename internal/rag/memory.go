package rag

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
)

// MemoryIndex is an in-process VectorIndex using brute-force cosine
// similarity. It backs tests and single-node development setups; contents
// are lost on restart.
type MemoryIndex struct {
	mu     sync.RWMutex
	spaces map[string]map[string]Record
	// dim is fixed by the first upsert.
	dim int
}

// NewMemoryIndex returns an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{spaces: make(map[string]map[string]Record)}
}

// Upsert stores copies of records under namespace. Upserts are visible to
// readers as soon as Upsert returns.
func (m *MemoryIndex) Upsert(_ context.Context, namespace string, records []Record) error {
	if strings.TrimSpace(namespace) == "" {
		return fmt.Errorf("rag: memory upsert: empty namespace")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("rag: memory upsert: record without id")
		}
		if len(r.Vector) == 0 {
			return fmt.Errorf("rag: memory upsert %s: empty vector", r.ID)
		}
		if m.dim != 0 && len(r.Vector) != m.dim {
			return fmt.Errorf("rag: memory upsert %s: dimension %d, index holds %d", r.ID, len(r.Vector), m.dim)
		}
	}

	space, ok := m.spaces[namespace]
	if !ok {
		space = make(map[string]Record)
		m.spaces[namespace] = space
	}
	for _, r := range records {
		if m.dim == 0 {
			m.dim = len(r.Vector)
		}
		r.Vector = slices.Clone(r.Vector)
		space[r.ID] = r
	}
	return nil
}

// DescribeNamespace returns the number of records held in namespace.
func (m *MemoryIndex) DescribeNamespace(_ context.Context, namespace string) (NamespaceStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return NamespaceStats{VectorCount: uint64(len(m.spaces[namespace]))}, nil
}

// Query scores every record in namespace and returns the top k. Ties are
// broken by ID so results are deterministic.
func (m *MemoryIndex) Query(_ context.Context, namespace string, vector []float32, k int) ([]Passage, error) {
	if k <= 0 {
		return []Passage{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	space := m.spaces[namespace]
	if len(space) == 0 {
		return []Passage{}, nil
	}
	if len(vector) != m.dim {
		return nil, fmt.Errorf("rag: memory query: dimension %d, index holds %d", len(vector), m.dim)
	}

	hits := make([]Passage, 0, len(space))
	for _, r := range space {
		hits = append(hits, Passage{
			ID:     r.ID,
			Source: r.Source,
			Text:   r.Text,
			Score:  cosine(vector, r.Vector),
		})
	}
	slices.SortFunc(hits, func(a, b Passage) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Close is a no-op.
func (m *MemoryIndex) Close() error { return nil }

// cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector.
func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
