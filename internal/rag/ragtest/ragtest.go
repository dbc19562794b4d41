// Package ragtest provides deterministic fakes for the rag interfaces.
package ragtest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/thatsimo/yet-another-chatbot/internal/rag"
)

// HashEmbedder maps each lower-cased word to a bucket of a Dim-length vector
// and normalises the result. Texts sharing words score higher.
type HashEmbedder struct {
	Dim int
	// Err, when set, is returned by every call.
	Err   error
	calls atomic.Int64
}

// Calls returns how many times Embed was invoked.
func (e *HashEmbedder) Calls() int64 { return e.calls.Load() }

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.Err != nil {
		return nil, e.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dim := e.Dim
	if dim <= 0 {
		dim = 64
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, dim)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			h.Write([]byte(strings.Trim(w, ".,;:!?\"'()")))
			v[h.Sum32()%uint32(dim)]++
		}
		var norm float64
		for _, x := range v {
			norm += float64(x * x)
		}
		if norm == 0 {
			v[0] = 1
			norm = 1
		}
		n := float32(math.Sqrt(norm))
		for j := range v {
			v[j] /= n
		}
		out[i] = v
	}
	return out, nil
}

// BlockingEmbedder waits for the context to end and returns its error.
type BlockingEmbedder struct{}

func (BlockingEmbedder) Embed(ctx context.Context, _ []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// FailingIndex wraps an index and fails Upsert (and optionally Query) with
// Err.
type FailingIndex struct {
	rag.VectorIndex
	Err         error
	FailQueries bool

	mu      sync.Mutex
	upserts int
}

func (f *FailingIndex) Upsert(context.Context, string, []rag.Record) error {
	f.mu.Lock()
	f.upserts++
	f.mu.Unlock()
	return f.Err
}

func (f *FailingIndex) Query(ctx context.Context, ns string, vec []float32, k int) ([]rag.Passage, error) {
	if f.FailQueries {
		return nil, f.Err
	}
	return f.VectorIndex.Query(ctx, ns, vec, k)
}

// Upserts returns the number of attempted upserts.
func (f *FailingIndex) Upserts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}
