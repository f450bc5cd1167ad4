package qdrant

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/physical-ai/textbook-rag/internal/httpclient"
	"github.com/physical-ai/textbook-rag/internal/vectorstore"
)

// Store is a REST client to a Qdrant collection. Distance is cosine; the
// collection is created on Init when missing.
type Store struct {
	url        string
	apiKey     string
	collection string
	dimensions int
	http       *httpclient.Client
}

// Config contains connection details for a Qdrant vector store.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	Dimensions int
	Timeout    time.Duration
}

func New(cfg Config) *Store {
	return &Store{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimensions: cfg.Dimensions,
		http:       httpclient.New(cfg.Timeout, 2, 300*time.Millisecond),
	}
}

// Init creates the collection if it does not exist yet.
func (s *Store) Init(ctx context.Context) error {
	err := s.http.DoJSON(ctx, http.MethodGet, s.collectionURL(), s.headers(), nil, nil)
	if err == nil {
		return nil
	}
	if !httpclient.IsStatus(err, http.StatusNotFound) {
		return fmt.Errorf("%w: %v", vectorstore.ErrStoreUnavailable, err)
	}
	return s.createCollection(ctx)
}

func (s *Store) createCollection(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dimensions,
			"distance": "Cosine",
		},
	}
	if err := s.http.DoJSON(ctx, http.MethodPut, s.collectionURL(), s.headers(), body, nil); err != nil {
		return fmt.Errorf("%w: create collection: %v", vectorstore.ErrStoreUnavailable, err)
	}
	return nil
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (s *Store) Upsert(ctx context.Context, chunks []vectorstore.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]point, len(chunks))
	for i, c := range chunks {
		points[i] = point{
			// Qdrant point ids must be UUIDs or unsigned ints; derive a
			// stable UUID from the chunk id so re-upserts replace in place.
			ID:     uuid.NewSHA1(uuid.NameSpaceURL, []byte(c.ID)).String(),
			Vector: c.Vector,
			Payload: map[string]any{
				"chunk_id": c.ID,
				"source":   c.Source,
				"ordinal":  c.Ordinal,
				"text":     c.Text,
			},
		}
	}
	body := map[string]any{"points": points}
	url := s.collectionURL() + "/points?wait=true"
	if err := s.http.DoJSON(ctx, http.MethodPut, url, s.headers(), body, nil); err != nil {
		return fmt.Errorf("%w: upsert: %v", vectorstore.ErrStoreUnavailable, err)
	}
	return nil
}

type searchResponse struct {
	Result []struct {
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]vectorstore.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	var resp searchResponse
	url := s.collectionURL() + "/points/search"
	if err := s.http.DoJSON(ctx, http.MethodPost, url, s.headers(), body, &resp); err != nil {
		return nil, fmt.Errorf("%w: search: %v", vectorstore.ErrStoreUnavailable, err)
	}
	results := make([]vectorstore.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, vectorstore.SearchResult{
			Chunk: chunkFromPayload(r.Payload),
			Score: r.Score,
		})
	}
	// Qdrant orders by score but leaves equal-score order unspecified.
	vectorstore.SortResults(results)
	return results, nil
}

type scrollResponse struct {
	Result struct {
		Points []struct {
			Payload map[string]any `json:"payload"`
		} `json:"points"`
		NextPageOffset any `json:"next_page_offset"`
	} `json:"result"`
}

func (s *Store) List(ctx context.Context) ([]vectorstore.Chunk, error) {
	var out []vectorstore.Chunk
	var offset any
	url := s.collectionURL() + "/points/scroll"
	for {
		body := map[string]any{"limit": 256, "with_payload": true}
		if offset != nil {
			body["offset"] = offset
		}
		var resp scrollResponse
		if err := s.http.DoJSON(ctx, http.MethodPost, url, s.headers(), body, &resp); err != nil {
			return nil, fmt.Errorf("%w: scroll: %v", vectorstore.ErrStoreUnavailable, err)
		}
		for _, p := range resp.Result.Points {
			out = append(out, chunkFromPayload(p.Payload))
		}
		if resp.Result.NextPageOffset == nil {
			return out, nil
		}
		offset = resp.Result.NextPageOffset
	}
}

type countResponse struct {
	Result struct {
		Count int `json:"count"`
	} `json:"result"`
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var resp countResponse
	url := s.collectionURL() + "/points/count"
	if err := s.http.DoJSON(ctx, http.MethodPost, url, s.headers(), map[string]any{"exact": true}, &resp); err != nil {
		return 0, fmt.Errorf("%w: count: %v", vectorstore.ErrStoreUnavailable, err)
	}
	return resp.Result.Count, nil
}

// Reset drops and recreates the collection.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.http.DoJSON(ctx, http.MethodDelete, s.collectionURL(), s.headers(), nil, nil); err != nil {
		if !httpclient.IsStatus(err, http.StatusNotFound) {
			return fmt.Errorf("%w: delete collection: %v", vectorstore.ErrStoreUnavailable, err)
		}
	}
	return s.createCollection(ctx)
}

func (s *Store) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.url, s.collection)
}

func (s *Store) headers() map[string]string {
	h := map[string]string{}
	if s.apiKey != "" {
		h["api-key"] = s.apiKey
	}
	return h
}

func chunkFromPayload(payload map[string]any) vectorstore.Chunk {
	c := vectorstore.Chunk{}
	if v, ok := payload["chunk_id"].(string); ok {
		c.ID = v
	}
	if v, ok := payload["source"].(string); ok {
		c.Source = v
	}
	if v, ok := payload["ordinal"].(float64); ok {
		c.Ordinal = int(v)
	}
	if v, ok := payload["text"].(string); ok {
		c.Text = v
	}
	return c
}
