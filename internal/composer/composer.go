package composer

import (
	"context"
	"fmt"
	"strings"

	"github.com/physical-ai/textbook-rag/internal/vectorstore"
	"github.com/physical-ai/textbook-rag/provider"
	"github.com/physical-ai/textbook-rag/session"
)

const systemPrompt = `You are a specialized professor for the 'Physical AI & Humanoid Robotics' textbook.
Your role is to provide clear, accurate, and helpful answers to student questions.

Guidelines:
1. For technical questions, base your answers primarily on the provided context.
2. If the user greets you or asks about your identity, reply with polite conversation.
3. If the context does not contain the answer to a technical question, say so explicitly; do not invent details.
4. Do not use prior knowledge for specific data or facts not in the context, but you may use general knowledge to explain concepts found in the context.
5. Be concise and directly address the question.`

// noContextNotice replaces the context block when retrieval found nothing.
// The model is told to admit the gap instead of answering freely.
const noContextNotice = `No specific context found in the textbook for this question.
If the question is technical, state that the textbook does not cover it in the retrieved material and avoid making unqualified factual claims.`

// Composer assembles a grounded prompt from retrieved chunks and the
// trailing conversation history, then asks the generative model.
type Composer struct {
	provider provider.Provider
}

func New(p provider.Provider) *Composer {
	return &Composer{provider: p}
}

// Compose builds the prompt and generates an answer. retrieved may be
// empty; in that case the prompt instructs the model to admit the lack of
// grounding. Failures surface as provider.ErrGenerationUnavailable.
func (c *Composer) Compose(ctx context.Context, question string, retrieved []vectorstore.SearchResult, history []session.Turn) (string, error) {
	messages := make([]provider.Message, 0, 2*len(history)+2)
	messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: systemPrompt})
	for _, turn := range history {
		messages = append(messages,
			provider.Message{Role: provider.RoleUser, Content: turn.Question},
			provider.Message{Role: provider.RoleAssistant, Content: turn.Answer},
		)
	}
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: userPrompt(question, retrieved)})

	answer, err := c.provider.ChatCompletion(ctx, messages)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(answer) == "" {
		return "", fmt.Errorf("%w: empty completion", provider.ErrGenerationUnavailable)
	}
	return answer, nil
}

func userPrompt(question string, retrieved []vectorstore.SearchResult) string {
	var b strings.Builder
	b.WriteString("Context from the textbook:\n---\n")
	if len(retrieved) == 0 {
		b.WriteString(noContextNotice)
	} else {
		for i, r := range retrieved {
			if i > 0 {
				b.WriteString("\n\n---\n\n")
			}
			b.WriteString(r.Chunk.Text)
		}
	}
	b.WriteString("\n---\n\nStudent's Question:\n")
	b.WriteString(question)
	return b.String()
}
