package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/graphsmith-backend/internal/http/response"
	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
	"github.com/yungbote/graphsmith-backend/internal/repos"
)

type RunsHandler struct {
	runs repos.ExtractionRunRepo
	log  *logger.Logger
}

func NewRunsHandler(runs repos.ExtractionRunRepo, log *logger.Logger) *RunsHandler {
	return &RunsHandler{runs: runs, log: log.With("handler", "Runs")}
}

// List returns the audit trail of processing runs for a document.
func (h *RunsHandler) List(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_document_id", err)
		return
	}
	runs, err := h.runs.ListByDocument(c.Request.Context(), nil, id)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"runs": runs})
}
