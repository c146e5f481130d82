package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/graphsmith-backend/internal/http/response"
	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
	"github.com/yungbote/graphsmith-backend/internal/postprocess"
)

type PostprocessHandler struct {
	engine *postprocess.Engine
	log    *logger.Logger
}

func NewPostprocessHandler(engine *postprocess.Engine, log *logger.Logger) *PostprocessHandler {
	return &PostprocessHandler{engine: engine, log: log.With("handler", "Postprocess")}
}

type postprocessRequest struct {
	Target string `json:"target"`
}

func (h *PostprocessHandler) Run(c *gin.Context) {
	var req postprocessRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.Target == "" {
		req.Target = postprocess.TargetAll
	}
	counts, err := h.engine.Run(c.Request.Context(), req.Target)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, counts)
}
