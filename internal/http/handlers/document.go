package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/graphsmith-backend/internal/graphstore"
	"github.com/yungbote/graphsmith-backend/internal/http/response"
	"github.com/yungbote/graphsmith-backend/internal/orchestrator"
	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
	"github.com/yungbote/graphsmith-backend/internal/types"
)

type DocumentHandler struct {
	store *graphstore.Store
	orch  *orchestrator.Orchestrator
	log   *logger.Logger
}

func NewDocumentHandler(store *graphstore.Store, orch *orchestrator.Orchestrator, log *logger.Logger) *DocumentHandler {
	return &DocumentHandler{store: store, orch: orch, log: log.With("handler", "Document")}
}

type createSourceRequest struct {
	FileName   string `json:"fileName" binding:"required"`
	SourceType string `json:"sourceType" binding:"required"`
	SourceRef  string `json:"sourceRef" binding:"required"`
	FileSize   int64  `json:"fileSize"`
	Model      string `json:"model"`
}

// CreateSource registers a document node for a source reference. Extraction
// starts separately through the extract endpoint.
func (h *DocumentHandler) CreateSource(c *gin.Context) {
	var req createSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	st := types.SourceType(req.SourceType)
	if !st.Valid() {
		response.RespondError(c, http.StatusBadRequest, "invalid_source_type", nil)
		return
	}
	id, err := h.store.CreateDocumentNode(c.Request.Context(), types.Document{
		FileName:   req.FileName,
		SourceType: st,
		SourceRef:  req.SourceRef,
		FileSize:   req.FileSize,
		Model:      req.Model,
	})
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"documentId": id})
}

func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.store.ListDocuments(c.Request.Context())
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"documents": docs})
}

func (h *DocumentHandler) GetStatus(c *gin.Context) {
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
	response.RespondOK(c, snap)
}

func (h *DocumentHandler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_document_id", err)
		return
	}
	if err := h.orch.Cancel(id); err != nil {
		response.RespondError(c, http.StatusConflict, "not_processing", err)
		return
	}
	response.RespondAccepted(c, gin.H{"documentId": id})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_document_id", err)
		return
	}
	if err := h.store.DeleteDocumentAndOrphans(c.Request.Context(), id); err != nil {
		response.RespondDomainError(c, err)
		return
	}
	h.log.Info("document deleted", "document_id", id)
	response.RespondOK(c, gin.H{"documentId": id})
}
