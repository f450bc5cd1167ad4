package retriever

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/physical-ai/textbook-rag/internal/vectorstore"
	"github.com/physical-ai/textbook-rag/provider"
)

type fakeProvider struct {
	vectors [][]float32
	embErr  error
}

func (f *fakeProvider) ChatCompletion(ctx context.Context, messages []provider.Message) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeProvider) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if f.embErr != nil {
		return nil, f.embErr
	}
	if f.vectors != nil {
		return f.vectors, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (f *fakeProvider) Dimensions() int { return 2 }

type fakeStore struct {
	results   []vectorstore.SearchResult
	searchErr error
	gotTopK   int
}

func (f *fakeStore) Upsert(ctx context.Context, chunks []vectorstore.Chunk) error { return nil }

func (f *fakeStore) Search(ctx context.Context, vector []float32, topK int) ([]vectorstore.SearchResult, error) {
	f.gotTopK = topK
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeStore) List(ctx context.Context) ([]vectorstore.Chunk, error) { return nil, nil }
func (f *fakeStore) Count(ctx context.Context) (int, error)               { return len(f.results), nil }
func (f *fakeStore) Reset(ctx context.Context) error                      { return nil }

func result(id string, score float64) vectorstore.SearchResult {
	return vectorstore.SearchResult{
		Chunk: vectorstore.Chunk{ID: id, Text: "text for " + id},
		Score: score,
	}
}

func TestRetrieveFiltersByMinScore(t *testing.T) {
	store := &fakeStore{results: []vectorstore.SearchResult{
		result("a", 0.9),
		result("b", 0.6),
		result("c", 0.2),
	}}
	r := New(&fakeProvider{}, store, nil, Options{TopK: 3, MinScore: 0.5})

	got, err := r.Retrieve(context.Background(), "what is a humanoid robot?")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results above threshold, got %d", len(got))
	}
	if got[0].Chunk.ID != "a" || got[1].Chunk.ID != "b" {
		t.Fatalf("unexpected results: %+v", got)
	}
	if store.gotTopK != 3 {
		t.Fatalf("expected topK 3 passed to store, got %d", store.gotTopK)
	}
}

func TestRetrieveEmptyResultIsNotAnError(t *testing.T) {
	store := &fakeStore{results: []vectorstore.SearchResult{result("a", 0.1)}}
	r := New(&fakeProvider{}, store, nil, Options{TopK: 3, MinScore: 0.9})

	got, err := r.Retrieve(context.Background(), "unrelated question")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no results, got %d", len(got))
	}
}

func TestRetrievePropagatesEmbeddingErrorWithoutFallback(t *testing.T) {
	embErr := fmt.Errorf("%w: boom", provider.ErrEmbeddingUnavailable)
	r := New(&fakeProvider{embErr: embErr}, &fakeStore{}, nil, Options{TopK: 3})

	_, err := r.Retrieve(context.Background(), "q")
	if !errors.Is(err, provider.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestRetrieveFallsBackToKeywordsOnEmbeddingFailure(t *testing.T) {
	keywords, err := BuildKeywordIndex([]vectorstore.Chunk{
		{ID: "ros#0", Text: "Robots use ROS 2 for communication between nodes."},
		{ID: "act#0", Text: "Series elastic actuators absorb impacts in humanoid legs."},
	})
	if err != nil {
		t.Fatalf("BuildKeywordIndex: %v", err)
	}
	embErr := fmt.Errorf("%w: boom", provider.ErrEmbeddingUnavailable)
	r := New(&fakeProvider{embErr: embErr}, &fakeStore{}, keywords, Options{TopK: 3})

	got, err := r.Retrieve(context.Background(), "ROS communication")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) == 0 || got[0].Chunk.ID != "ros#0" {
		t.Fatalf("expected keyword hit on ros#0, got %+v", got)
	}
}

func TestRetrieveFallsBackToKeywordsOnStoreFailure(t *testing.T) {
	keywords, err := BuildKeywordIndex([]vectorstore.Chunk{
		{ID: "ros#0", Text: "Robots use ROS 2 for communication between nodes."},
	})
	if err != nil {
		t.Fatalf("BuildKeywordIndex: %v", err)
	}
	storeErr := fmt.Errorf("%w: down", vectorstore.ErrStoreUnavailable)
	r := New(&fakeProvider{}, &fakeStore{searchErr: storeErr}, keywords, Options{TopK: 3})

	got, err := r.Retrieve(context.Background(), "ROS communication")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].Chunk.ID != "ros#0" {
		t.Fatalf("expected keyword fallback result, got %+v", got)
	}
}

func TestRetrieveHybridFusesVectorAndKeywordRanks(t *testing.T) {
	keywords, err := BuildKeywordIndex([]vectorstore.Chunk{
		{ID: "shared", Text: "Bipedal locomotion uses zero moment point control."},
		{ID: "kw-only", Text: "Zero moment point stability margins for walking."},
	})
	if err != nil {
		t.Fatalf("BuildKeywordIndex: %v", err)
	}
	store := &fakeStore{results: []vectorstore.SearchResult{
		result("vec-only", 0.9),
		result("shared", 0.8),
	}}
	r := New(&fakeProvider{}, store, keywords, Options{TopK: 3, Hybrid: true})

	got, err := r.Retrieve(context.Background(), "zero moment point")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	// "shared" appears in both lists so RRF must rank it first.
	if len(got) == 0 || got[0].Chunk.ID != "shared" {
		t.Fatalf("expected shared chunk ranked first, got %+v", got)
	}
	ids := map[string]bool{}
	for _, g := range got {
		ids[g.Chunk.ID] = true
	}
	if !ids["vec-only"] {
		t.Fatalf("hybrid result lost vector-only hit: %+v", got)
	}
}

func TestFuseRRFDeterministicTieBreak(t *testing.T) {
	a := []vectorstore.SearchResult{result("b", 0.9)}
	b := []vectorstore.SearchResult{result("a", 11.0)}

	// Same rank in each list, so identical fused scores; chunk id decides.
	fused := fuseRRF(a, b, 2)
	if len(fused) != 2 {
		t.Fatalf("expected 2 fused results, got %d", len(fused))
	}
	if fused[0].Chunk.ID != "a" || fused[1].Chunk.ID != "b" {
		t.Fatalf("unexpected tie-break order: %+v", fused)
	}
}
