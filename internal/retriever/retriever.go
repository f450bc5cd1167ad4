package retriever

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/physical-ai/textbook-rag/internal/vectorstore"
	"github.com/physical-ai/textbook-rag/provider"
)

// Options controls top-K search and relevance filtering. MinScore applies
// to vector similarity only; BM25 scores live on a different scale.
type Options struct {
	TopK     int
	MinScore float64
	Hybrid   bool
}

// Retriever turns a question into the chunk set an answer will be grounded
// on: embed the query, search the store, drop weak matches. With a keyword
// index attached it can also fuse BM25 hits (hybrid) or serve keyword-only
// results when the embedder or the store is down.
type Retriever struct {
	provider provider.Provider
	store    vectorstore.Store
	keywords *KeywordIndex
	opts     Options
	logger   *log.Logger
}

func New(p provider.Provider, store vectorstore.Store, keywords *KeywordIndex, opts Options) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	return &Retriever{
		provider: p,
		store:    store,
		keywords: keywords,
		opts:     opts,
		logger:   log.New(log.Writer(), "[RETRIEVER] ", log.LstdFlags),
	}
}

// Retrieve returns up to TopK relevant chunks for the query. An empty
// result is a valid answer, not an error: the composer handles the
// no-context case explicitly.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]vectorstore.SearchResult, error) {
	vecs, err := r.provider.CreateEmbedding(ctx, []string{query})
	if err != nil {
		if errors.Is(err, provider.ErrEmbeddingUnavailable) && r.keywords != nil {
			r.logger.Printf("embedder unavailable, falling back to keyword search: %v", err)
			return r.keywords.Search(query, r.opts.TopK)
		}
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: expected 1 query vector, got %d", provider.ErrEmbeddingUnavailable, len(vecs))
	}

	results, err := r.store.Search(ctx, vecs[0], r.opts.TopK)
	if err != nil {
		if errors.Is(err, vectorstore.ErrStoreUnavailable) && r.keywords != nil {
			r.logger.Printf("vector store unavailable, falling back to keyword search: %v", err)
			return r.keywords.Search(query, r.opts.TopK)
		}
		return nil, err
	}

	filtered := results[:0]
	for _, res := range results {
		if res.Score >= r.opts.MinScore {
			filtered = append(filtered, res)
		}
	}
	results = filtered

	if r.opts.Hybrid && r.keywords != nil {
		keyword, err := r.keywords.Search(query, r.opts.TopK)
		if err != nil {
			r.logger.Printf("keyword search failed, using vector results only: %v", err)
			return results, nil
		}
		return fuseRRF(results, keyword, r.opts.TopK), nil
	}
	return results, nil
}
