package provider

import (
	"context"
	"errors"
)

// Sentinel errors for the two external model dependencies. Callers decide
// how to degrade: a dead embedder can fall back to keyword retrieval, a dead
// chat model cannot produce an answer at all.
var (
	ErrEmbeddingUnavailable  = errors.New("embedding provider unavailable")
	ErrGenerationUnavailable = errors.New("generation provider unavailable")
)

// Message is one chat turn sent to the generative model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider is the interface all LLM backends must satisfy.
type Provider interface {
	// ChatCompletion generates an answer for the given conversation.
	ChatCompletion(ctx context.Context, messages []Message) (string, error)
	// CreateEmbedding converts texts into fixed-dimension vectors.
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector length D.
	Dimensions() int
}
