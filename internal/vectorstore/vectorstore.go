package vectorstore

import (
	"context"
	"errors"
	"sort"
)

// ErrStoreUnavailable marks connection-level failures of the vector store.
// It is surfaced, not swallowed: callers fall back to keyword retrieval or
// to the no-context policy.
var ErrStoreUnavailable = errors.New("vector store unavailable")

// Chunk is an immutable unit of indexed source text. Chunks are created by
// the ingestion job and replaced wholesale on re-ingestion.
type Chunk struct {
	ID      string    `json:"id"`
	Source  string    `json:"source"`
	Ordinal int       `json:"ordinal"`
	Text    string    `json:"text"`
	Vector  []float32 `json:"vector,omitempty"`
}

// SearchResult is a chunk with its similarity score for one query. Results
// are ephemeral and never persisted.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Store persists chunk vectors and supports similarity search.
type Store interface {
	// Upsert inserts or replaces chunks by ID. Idempotent on chunk ID.
	Upsert(ctx context.Context, chunks []Chunk) error
	// Search returns at most topK results ordered by descending score,
	// ties broken by ascending chunk ID.
	Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error)
	// List returns all stored chunks without vectors. Used to build the
	// in-memory keyword index at startup.
	List(ctx context.Context) ([]Chunk, error)
	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)
	// Reset drops all stored chunks ahead of a full re-ingestion.
	Reset(ctx context.Context) error
}

// SortResults orders results by descending score with ascending chunk ID as
// the tie-break, so repeated queries over the same data rank identically.
func SortResults(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
}
