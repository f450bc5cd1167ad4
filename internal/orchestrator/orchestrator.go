package orchestrator

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/physical-ai/textbook-rag/internal/composer"
	"github.com/physical-ai/textbook-rag/internal/retriever"
	"github.com/physical-ai/textbook-rag/internal/telemetry"
	"github.com/physical-ai/textbook-rag/internal/vectorstore"
	"github.com/physical-ai/textbook-rag/provider"
	"github.com/physical-ai/textbook-rag/session"
)

// Result is a fully answered chat message: the generated text, the session
// the turn was recorded under, and the ids of the chunks the answer was
// grounded on (empty when retrieval degraded or found nothing).
type Result struct {
	Response  string
	SessionID string
	ChunkIDs  []string
}

// Orchestrator runs one chat message through the whole pipeline: resolve
// the session, retrieve grounding, compose an answer, record the turn.
type Orchestrator struct {
	sessions  session.Store
	retriever *retriever.Retriever
	composer  *composer.Composer
	metrics   *telemetry.Metrics
	logger    *log.Logger
}

func New(sessions session.Store, r *retriever.Retriever, c *composer.Composer, m *telemetry.Metrics) *Orchestrator {
	return &Orchestrator{
		sessions:  sessions,
		retriever: r,
		composer:  c,
		metrics:   m,
		logger:    log.New(log.Writer(), "[CHAT] ", log.LstdFlags),
	}
}

// Handle answers one message. Retrieval failures degrade to an ungrounded
// answer; generation failures surface as provider.ErrGenerationUnavailable
// and leave the session history untouched. The returned session id is the
// one the client should send on the next turn.
func (o *Orchestrator) Handle(ctx context.Context, message, sessionID string) (Result, error) {
	started := time.Now()

	sess, err := o.sessions.EnsureSession(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}

	history, err := sess.History(ctx)
	if err != nil {
		o.logger.Printf("session %s: history unavailable, answering without it: %v", sess.ID(), err)
		history = nil
	}

	retrieved, err := o.retriever.Retrieve(ctx, message)
	if err != nil {
		if !errors.Is(err, provider.ErrEmbeddingUnavailable) && !errors.Is(err, vectorstore.ErrStoreUnavailable) {
			return Result{}, err
		}
		o.logger.Printf("session %s: retrieval degraded: %v", sess.ID(), err)
		o.metrics.DegradedResponses.Inc()
		o.metrics.ProviderFailures.WithLabelValues(dependencyLabel(err)).Inc()
		retrieved = nil
	}
	o.metrics.RetrievedChunks.Observe(float64(len(retrieved)))

	answer, err := o.composer.Compose(ctx, message, retrieved, history)
	if err != nil {
		o.metrics.ProviderFailures.WithLabelValues("generation").Inc()
		return Result{SessionID: sess.ID()}, err
	}

	chunkIDs := make([]string, 0, len(retrieved))
	for _, r := range retrieved {
		chunkIDs = append(chunkIDs, r.Chunk.ID)
	}
	turn := session.Turn{
		Question:  message,
		Answer:    answer,
		ChunkIDs:  chunkIDs,
		CreatedAt: time.Now().UTC(),
	}
	if err := sess.Append(ctx, turn); err != nil {
		// The answer is already composed; losing one history entry is
		// better than failing the request.
		o.logger.Printf("session %s: append failed: %v", sess.ID(), err)
	}

	o.metrics.ChatDuration.Observe(time.Since(started).Seconds())
	return Result{
		Response:  answer,
		SessionID: sess.ID(),
		ChunkIDs:  chunkIDs,
	}, nil
}

func dependencyLabel(err error) string {
	switch {
	case errors.Is(err, provider.ErrEmbeddingUnavailable):
		return "embedding"
	case errors.Is(err, vectorstore.ErrStoreUnavailable):
		return "vector_store"
	default:
		return "unknown"
	}
}
