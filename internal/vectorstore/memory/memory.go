package memory

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/physical-ai/textbook-rag/internal/vectorstore"
)

// Store is a brute-force cosine-similarity vector store for tests and
// single-node development.
type Store struct {
	mu     sync.RWMutex
	chunks map[string]vectorstore.Chunk
}

func New() *Store {
	return &Store{chunks: make(map[string]vectorstore.Chunk)}
}

func (s *Store) Upsert(ctx context.Context, chunks []vectorstore.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if c.ID == "" {
			return errors.New("chunk id required")
		}
		if len(c.Vector) == 0 {
			return errors.New("chunk vector required")
		}
		s.chunks[c.ID] = c
	}
	return nil
}

func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]vectorstore.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]vectorstore.SearchResult, 0, len(s.chunks))
	for _, c := range s.chunks {
		results = append(results, vectorstore.SearchResult{Chunk: c, Score: cosine(vector, c.Vector)})
	}
	vectorstore.SortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *Store) List(ctx context.Context) ([]vectorstore.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]vectorstore.Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		c.Vector = nil
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = make(map[string]vectorstore.Chunk)
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
