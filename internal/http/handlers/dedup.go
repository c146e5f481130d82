package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/graphsmith-backend/internal/graphstore"
	"github.com/yungbote/graphsmith-backend/internal/http/response"
	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
)

type DedupHandler struct {
	store     *graphstore.Store
	threshold float64
	log       *logger.Logger
}

// NewDedupHandler takes the deployment's default similarity threshold;
// individual scan requests may override it.
func NewDedupHandler(store *graphstore.Store, threshold float64, log *logger.Logger) *DedupHandler {
	return &DedupHandler{store: store, threshold: threshold, log: log.With("handler", "Dedup")}
}

type scanRequest struct {
	Threshold float64 `json:"threshold"`
}

// scanThreshold picks the per-request threshold, the configured default, or
// the built-in 0.9, in that order. Only values in (0, 1] are usable.
func scanThreshold(requested, configured float64) float64 {
	if requested > 0 && requested <= 1 {
		return requested
	}
	if configured > 0 && configured <= 1 {
		return configured
	}
	return 0.9
}

func (h *DedupHandler) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	groups, err := h.store.FindDuplicateEntities(c.Request.Context(), scanThreshold(req.Threshold, h.threshold))
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"groups": groups})
}

type mergeRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

func (h *DedupHandler) Merge(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if len(req.IDs) < 2 {
		response.RespondError(c, http.StatusBadRequest, "too_few_ids", nil)
		return
	}
	if err := h.store.MergeEntities(c.Request.Context(), req.IDs); err != nil {
		response.RespondDomainError(c, err)
		return
	}
	h.log.Info("entities merged", "survivor", req.IDs[0], "merged", len(req.IDs)-1)
	response.RespondOK(c, gin.H{"survivor": req.IDs[0]})
}
