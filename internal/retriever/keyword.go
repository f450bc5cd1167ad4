package retriever

import (
	"fmt"

	"github.com/blevesearch/bleve"

	"github.com/physical-ai/textbook-rag/internal/vectorstore"
)

const rrfK = 60 // reciprocal-rank-fusion constant

// KeywordIndex is an in-memory BM25 index over the chunk corpus. It is
// built once at startup from the vector store's contents and serves two
// purposes: hybrid retrieval, and a fallback when the embedder or the
// store is unreachable.
type KeywordIndex struct {
	index  bleve.Index
	chunks map[string]vectorstore.Chunk
}

type keywordDoc struct {
	Text string `json:"text"`
}

// BuildKeywordIndex indexes the given chunks into a memory-only bleve index.
func BuildKeywordIndex(chunks []vectorstore.Chunk) (*KeywordIndex, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("keyword index: %w", err)
	}
	byID := make(map[string]vectorstore.Chunk, len(chunks))
	batch := index.NewBatch()
	for _, c := range chunks {
		byID[c.ID] = c
		if err := batch.Index(c.ID, keywordDoc{Text: c.Text}); err != nil {
			return nil, fmt.Errorf("keyword index %s: %w", c.ID, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("keyword index batch: %w", err)
	}
	return &KeywordIndex{index: index, chunks: byID}, nil
}

// Search returns the top-K BM25 matches for the query text.
func (k *KeywordIndex) Search(query string, topK int) ([]vectorstore.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, topK, 0, false)
	res, err := k.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	out := make([]vectorstore.SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		chunk, ok := k.chunks[hit.ID]
		if !ok {
			continue
		}
		out = append(out, vectorstore.SearchResult{Chunk: chunk, Score: hit.Score})
	}
	return out, nil
}

// Size returns the number of indexed chunks.
func (k *KeywordIndex) Size() int { return len(k.chunks) }

// fuseRRF merges two ranked lists with reciprocal-rank fusion. Scores from
// the two retrievers are not directly comparable, so fusion works on ranks.
func fuseRRF(a, b []vectorstore.SearchResult, topK int) []vectorstore.SearchResult {
	type agg struct {
		result vectorstore.SearchResult
		score  float64
	}
	m := map[string]*agg{}
	add := func(list []vectorstore.SearchResult) {
		for rank, r := range list {
			x, ok := m[r.Chunk.ID]
			if !ok {
				x = &agg{result: r}
				m[r.Chunk.ID] = x
			}
			x.score += 1.0 / float64(rrfK+rank+1)
		}
	}
	add(a)
	add(b)
	fused := make([]vectorstore.SearchResult, 0, len(m))
	for _, v := range m {
		v.result.Score = v.score
		fused = append(fused, v.result)
	}
	vectorstore.SortResults(fused)
	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}
