package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/physical-ai/textbook-rag/internal/orchestrator"
	"github.com/physical-ai/textbook-rag/internal/telemetry"
	"github.com/physical-ai/textbook-rag/provider"
)

// generationApology is returned with a success envelope when the
// generative model is unreachable: the conversation should not hard-fail
// because one upstream call did.
const generationApology = "I'm sorry, I'm having trouble answering right now. Please try again in a moment."

type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type ChatData struct {
	Response  string   `json:"response"`
	SessionID string   `json:"session_id"`
	ChunkIDs  []string `json:"chunk_ids,omitempty"`
}

// ChatEnvelope is the uniform response shape: status plus payload.
type ChatEnvelope struct {
	Status string   `json:"status"`
	Data   ChatData `json:"data"`
}

type ChatHandler struct {
	Orchestrator *orchestrator.Orchestrator
	Metrics      *telemetry.Metrics
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/chat", h.chat)
}

func (h *ChatHandler) chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		h.Metrics.ChatRequests.WithLabelValues("bad_request").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		h.Metrics.ChatRequests.WithLabelValues("bad_request").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}

	res, err := h.Orchestrator.Handle(c.Request().Context(), req.Message, req.SessionID)
	if err != nil {
		if errors.Is(err, provider.ErrGenerationUnavailable) {
			h.Metrics.ChatRequests.WithLabelValues("degraded").Inc()
			return c.JSON(http.StatusOK, ChatEnvelope{
				Status: "success",
				Data:   ChatData{Response: generationApology, SessionID: res.SessionID},
			})
		}
		h.Metrics.ChatRequests.WithLabelValues("error").Inc()
		// Keep the cause for the error handler's log; clients get a
		// generic message.
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}

	h.Metrics.ChatRequests.WithLabelValues("ok").Inc()
	return c.JSON(http.StatusOK, ChatEnvelope{
		Status: "success",
		Data: ChatData{
			Response:  res.Response,
			SessionID: res.SessionID,
			ChunkIDs:  res.ChunkIDs,
		},
	})
}
