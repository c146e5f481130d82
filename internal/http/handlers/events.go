package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/graphsmith-backend/internal/http/response"
	"github.com/yungbote/graphsmith-backend/internal/orchestrator"
	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
	"github.com/yungbote/graphsmith-backend/internal/sse"
	"github.com/yungbote/graphsmith-backend/internal/types"
)

type EventsHandler struct {
	hub  *sse.Hub
	orch *orchestrator.Orchestrator
	log  *logger.Logger
}

func NewEventsHandler(hub *sse.Hub, orch *orchestrator.Orchestrator, log *logger.Logger) *EventsHandler {
	return &EventsHandler{hub: hub, orch: orch, log: log.With("handler", "Events")}
}

// Stream serves a finite SSE stream of status snapshots for one document.
// The current persisted state is delivered first; the stream ends at a
// terminal event.
func (h *EventsHandler) Stream(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_document_id", err)
		return
	}
	snap, err := h.orch.GetStatus(c.Request.Context(), id)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}

	client := h.hub.NewClient()
	h.hub.AddChannel(client, id.String())
	defer h.hub.CloseClient(client)

	// Seed the stream with the current state so late subscribers are never
	// blind; for terminal documents this is also the closing frame.
	client.Outbound <- sse.Message{
		Channel: id.String(),
		Event:   eventFor(snap.Status),
		Data:    snap,
	}

	h.hub.ServeHTTP(c.Writer, c.Request, client)
}

func eventFor(s types.DocumentStatus) sse.Event {
	switch s {
	case types.StatusCompleted:
		return sse.EventExtractionCompleted
	case types.StatusFailed:
		return sse.EventExtractionFailed
	case types.StatusCancelled:
		return sse.EventExtractionCancelled
	case types.StatusProcessing:
		return sse.EventExtractionProgress
	default:
		return sse.EventExtractionStarted
	}
}
