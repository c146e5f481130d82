package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/graphsmith-backend/internal/extract"
	"github.com/yungbote/graphsmith-backend/internal/graphstore"
	"github.com/yungbote/graphsmith-backend/internal/http/response"
	"github.com/yungbote/graphsmith-backend/internal/orchestrator"
	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
	"github.com/yungbote/graphsmith-backend/internal/schema"
	"github.com/yungbote/graphsmith-backend/internal/types"
)

type ExtractHandler struct {
	orch      *orchestrator.Orchestrator
	store     *graphstore.Store
	presets   *schema.Presets
	extractor extract.Extractor
	log       *logger.Logger
}

func NewExtractHandler(orch *orchestrator.Orchestrator, store *graphstore.Store, presets *schema.Presets, extractor extract.Extractor, log *logger.Logger) *ExtractHandler {
	return &ExtractHandler{
		orch:      orch,
		store:     store,
		presets:   presets,
		extractor: extractor,
		log:       log.With("handler", "Extract"),
	}
}

// schemaPayload selects constraint sources. All provided sources are
// unioned; an empty payload means permissive extraction.
type schemaPayload struct {
	Preset    string          `json:"preset"`
	JSON      json.RawMessage `json:"json"`
	Text      string          `json:"text"`
	Tuples    []schema.Triple `json:"tuples"`
	FromGraph bool            `json:"fromGraph"`
}

type startExtractionRequest struct {
	DocumentID   uuid.UUID      `json:"documentId" binding:"required"`
	Schema       *schemaPayload `json:"schema"`
	Instructions string         `json:"instructions"`
	RetryMode    string         `json:"retryMode"`
}

// Start schedules extraction for a registered document and returns a job
// handle. Progress is observable through the status and events endpoints.
func (h *ExtractHandler) Start(c *gin.Context) {
	var req startExtractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	var graph *schema.Graph
	if req.Schema != nil {
		resolved, err := h.resolveSchema(c, *req.Schema)
		if err != nil {
			response.RespondDomainError(c, err)
			return
		}
		graph = resolved
	}

	handle, err := h.orch.Start(c.Request.Context(), orchestrator.StartRequest{
		DocumentID:   req.DocumentID,
		Schema:       graph,
		Instructions: extract.SanitizeInstructions(req.Instructions),
		RetryMode:    types.RetryMode(req.RetryMode),
	})
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{
		"documentId": handle.DocumentID,
		"runId":      handle.RunID,
	})
}

func (h *ExtractHandler) resolveSchema(c *gin.Context, payload schemaPayload) (*schema.Graph, error) {
	var parts []*schema.Graph

	if payload.Preset != "" {
		g, err := h.presets.Get(payload.Preset)
		if err != nil {
			return nil, err
		}
		parts = append(parts, g)
	}
	if len(payload.JSON) > 0 {
		g, err := schema.FromJSON(payload.JSON)
		if err != nil {
			return nil, err
		}
		parts = append(parts, g)
	}
	if len(payload.Tuples) > 0 {
		parts = append(parts, schema.FromTuples(payload.Tuples))
	}
	if payload.Text != "" {
		g, err := extract.SchemaFromText(c.Request.Context(), h.extractor, payload.Text)
		if err != nil {
			return nil, err
		}
		parts = append(parts, g)
	}
	if payload.FromGraph {
		triples, err := h.store.GetGraphTriples(c.Request.Context(), 0)
		if err != nil {
			return nil, err
		}
		tuples := make([]schema.Triple, 0, len(triples))
		for _, t := range triples {
			tuples = append(tuples, schema.Triple{From: t[0], Type: t[1], To: t[2]})
		}
		parts = append(parts, schema.FromTuples(tuples))
	}

	if len(parts) == 0 {
		return nil, nil
	}
	return schema.Union(parts...), nil
}
