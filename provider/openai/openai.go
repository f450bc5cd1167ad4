package openai_provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/physical-ai/textbook-rag/internal/httpclient"
	"github.com/physical-ai/textbook-rag/provider"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client implements provider.Provider against any OpenAI-compatible API
// (OpenAI, OpenRouter, or a local server exposing the same shape).
type Client struct {
	baseURL        string
	apiKey         string
	chatModel      string
	embeddingModel string
	dimensions     int
	temperature    float64
	maxTokens      int
	http           *httpclient.Client
}

// Config configures the OpenAI-compatible client.
type Config struct {
	BaseURL        string
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	Dimensions     int
	Temperature    float64
	MaxTokens      int
	Timeout        time.Duration
	MaxRetries     int
}

// NewClient creates a new OpenAI-compatible client.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	return &Client{
		baseURL:        baseURL,
		apiKey:         cfg.APIKey,
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
		dimensions:     cfg.Dimensions,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		http:           httpclient.New(cfg.Timeout, cfg.MaxRetries, 500*time.Millisecond),
	}
}

// Dimensions returns the configured embedding vector length.
func (c *Client) Dimensions() int { return c.dimensions }

type chatRequest struct {
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ChatCompletion generates an answer for the given conversation. Transient
// failures are retried by the underlying client; after that the error is
// classified as ErrGenerationUnavailable.
func (c *Client) ChatCompletion(ctx context.Context, messages []provider.Message) (string, error) {
	req := chatRequest{
		Model:       c.chatModel,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	var resp chatResponse
	if err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/chat/completions", c.headers(), req, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrGenerationUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", provider.ErrGenerationUnavailable)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// CreateEmbedding converts texts into vectors. The vector length must match
// the configured dimension; a mismatch means the deployment points at the
// wrong model and retrieval comparisons would be meaningless.
func (c *Client) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := embeddingRequest{Model: c.embeddingModel, Input: texts}
	var resp embeddingResponse
	if err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/embeddings", c.headers(), req, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrEmbeddingUnavailable, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", provider.ErrEmbeddingUnavailable, len(resp.Data), len(texts))
	}
	vecs := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", provider.ErrEmbeddingUnavailable, d.Index)
		}
		if c.dimensions > 0 && len(d.Embedding) != c.dimensions {
			return nil, fmt.Errorf("%w: expected dimension %d, got %d", provider.ErrEmbeddingUnavailable, c.dimensions, len(d.Embedding))
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

func (c *Client) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}
