package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/physical-ai/textbook-rag/internal/composer"
	"github.com/physical-ai/textbook-rag/internal/retriever"
	"github.com/physical-ai/textbook-rag/internal/telemetry"
	"github.com/physical-ai/textbook-rag/internal/vectorstore"
	"github.com/physical-ai/textbook-rag/internal/vectorstore/memory"
	"github.com/physical-ai/textbook-rag/provider"
	"github.com/physical-ai/textbook-rag/session"
	"github.com/physical-ai/textbook-rag/session/inmemory"
)

// fakeProvider embeds queries about ROS near the ROS chunk and everything
// else near the actuator chunk, and replies with a canned answer.
type fakeProvider struct {
	answer   string
	chatErr  error
	messages []provider.Message
}

func (f *fakeProvider) ChatCompletion(ctx context.Context, messages []provider.Message) (string, error) {
	f.messages = messages
	if f.chatErr != nil {
		return "", f.chatErr
	}
	return f.answer, nil
}

func (f *fakeProvider) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.Contains(strings.ToLower(text), "ros") {
			out[i] = []float32{1, 0}
		} else {
			out[i] = []float32{0, 1}
		}
	}
	return out, nil
}

func (f *fakeProvider) Dimensions() int { return 2 }

type failingStore struct{}

func (failingStore) Upsert(ctx context.Context, chunks []vectorstore.Chunk) error { return nil }
func (failingStore) Search(ctx context.Context, vector []float32, topK int) ([]vectorstore.SearchResult, error) {
	return nil, fmt.Errorf("%w: connection refused", vectorstore.ErrStoreUnavailable)
}
func (failingStore) List(ctx context.Context) ([]vectorstore.Chunk, error) { return nil, nil }
func (failingStore) Count(ctx context.Context) (int, error)               { return 0, nil }
func (failingStore) Reset(ctx context.Context) error                      { return nil }

func newOrchestrator(t *testing.T, p provider.Provider, store vectorstore.Store) (*Orchestrator, session.Store) {
	t.Helper()
	sessions := inmemory.New(session.Options{MaxTurns: 10})
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	ret := retriever.New(p, store, nil, retriever.Options{TopK: 3})
	return New(sessions, ret, composer.New(p), metrics), sessions
}

func seedStore(t *testing.T, p provider.Provider) vectorstore.Store {
	t.Helper()
	store := memory.New()
	chunks := []vectorstore.Chunk{
		{ID: "c1", Source: "comms.md", Text: "Robots use ROS 2 for communication."},
		{ID: "c2", Source: "actuators.md", Text: "Series elastic actuators absorb impacts."},
	}
	for i := range chunks {
		vecs, err := p.CreateEmbedding(context.Background(), []string{chunks[i].Text})
		if err != nil {
			t.Fatalf("embed seed chunk: %v", err)
		}
		chunks[i].Vector = vecs[0]
	}
	if err := store.Upsert(context.Background(), chunks); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return store
}

func TestHandleAnswersGroundedQuestion(t *testing.T) {
	p := &fakeProvider{answer: "They talk over ROS 2 topics."}
	orch, sessions := newOrchestrator(t, p, seedStore(t, p))

	res, err := orch.Handle(context.Background(), "How does ROS 2 help robots communicate?", "")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Response != p.answer {
		t.Fatalf("unexpected response %q", res.Response)
	}
	if !session.ValidID(res.SessionID) {
		t.Fatalf("expected a session id, got %q", res.SessionID)
	}
	if len(res.ChunkIDs) == 0 || res.ChunkIDs[0] != "c1" {
		t.Fatalf("expected grounding on c1, got %v", res.ChunkIDs)
	}

	prompt := p.messages[len(p.messages)-1].Content
	if !strings.Contains(prompt, "Robots use ROS 2 for communication.") {
		t.Fatalf("retrieved chunk missing from prompt:\n%s", prompt)
	}

	// The turn must be recorded under the returned session.
	sess, err := sessions.EnsureSession(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	turns, err := sess.History(context.Background())
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 1 || turns[0].Answer != p.answer {
		t.Fatalf("turn not recorded: %+v", turns)
	}
}

func TestHandleCarriesHistoryAcrossTurns(t *testing.T) {
	p := &fakeProvider{answer: "first answer"}
	orch, _ := newOrchestrator(t, p, seedStore(t, p))

	first, err := orch.Handle(context.Background(), "What is ROS 2?", "")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	p.answer = "second answer"
	if _, err := orch.Handle(context.Background(), "Tell me more about ROS.", first.SessionID); err != nil {
		t.Fatalf("Handle second turn: %v", err)
	}

	var sawHistory bool
	for _, m := range p.messages {
		if m.Role == provider.RoleAssistant && m.Content == "first answer" {
			sawHistory = true
		}
	}
	if !sawHistory {
		t.Fatalf("second prompt missing first turn history: %+v", p.messages)
	}
}

func TestHandleDegradesWhenStoreIsDown(t *testing.T) {
	p := &fakeProvider{answer: "The textbook material is unavailable right now."}
	orch, _ := newOrchestrator(t, p, failingStore{})

	res, err := orch.Handle(context.Background(), "How does ROS 2 work?", "")
	if err != nil {
		t.Fatalf("expected degradation, not failure: %v", err)
	}
	if len(res.ChunkIDs) != 0 {
		t.Fatalf("degraded answer must not claim grounding: %v", res.ChunkIDs)
	}
	prompt := p.messages[len(p.messages)-1].Content
	if !strings.Contains(prompt, "No specific context found") {
		t.Fatalf("expected no-context prompt:\n%s", prompt)
	}
}

func TestHandleSurfacesGenerationFailureWithoutRecordingTurn(t *testing.T) {
	p := &fakeProvider{chatErr: fmt.Errorf("%w: 503", provider.ErrGenerationUnavailable)}
	orch, sessions := newOrchestrator(t, p, seedStore(t, p))

	res, err := orch.Handle(context.Background(), "What is ROS 2?", "")
	if !errors.Is(err, provider.ErrGenerationUnavailable) {
		t.Fatalf("expected ErrGenerationUnavailable, got %v", err)
	}
	if !session.ValidID(res.SessionID) {
		t.Fatalf("failed generation should still report the session id")
	}

	sess, _ := sessions.EnsureSession(context.Background(), res.SessionID)
	turns, _ := sess.History(context.Background())
	if len(turns) != 0 {
		t.Fatalf("failed turn must not be recorded: %+v", turns)
	}
}

func TestHandleRejectsMalformedSessionIDIntoFreshSession(t *testing.T) {
	p := &fakeProvider{answer: "ok"}
	orch, _ := newOrchestrator(t, p, seedStore(t, p))

	res, err := orch.Handle(context.Background(), "What is ROS?", "garbage-id")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.SessionID == "garbage-id" || !session.ValidID(res.SessionID) {
		t.Fatalf("malformed id must be replaced, got %q", res.SessionID)
	}
}
