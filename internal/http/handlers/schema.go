package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/graphsmith-backend/internal/extract"
	"github.com/yungbote/graphsmith-backend/internal/graphstore"
	"github.com/yungbote/graphsmith-backend/internal/http/response"
	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
	"github.com/yungbote/graphsmith-backend/internal/schema"
)

type SchemaHandler struct {
	store     *graphstore.Store
	presets   *schema.Presets
	extractor extract.Extractor
	log       *logger.Logger
}

func NewSchemaHandler(store *graphstore.Store, presets *schema.Presets, extractor extract.Extractor, log *logger.Logger) *SchemaHandler {
	return &SchemaHandler{
		store:     store,
		presets:   presets,
		extractor: extractor,
		log:       log.With("handler", "Schema"),
	}
}

type schemaView struct {
	Labels            []string        `json:"labels"`
	RelationshipTypes []string        `json:"relationshipTypes"`
	Triples           []schema.Triple `json:"triples"`
}

func viewOf(g *schema.Graph) schemaView {
	return schemaView{
		Labels:            g.Labels(),
		RelationshipTypes: g.RelationTypes(),
		Triples:           g.Triples(),
	}
}

// Normalize converts any accepted schema input shape into the canonical
// label/type/triple sets without starting an extraction.
func (h *SchemaHandler) Normalize(c *gin.Context) {
	var payload schemaPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	eh := &ExtractHandler{store: h.store, presets: h.presets, extractor: h.extractor}
	g, err := eh.resolveSchema(c, payload)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	if g == nil {
		g = schema.NewGraph(nil, nil)
	}
	response.RespondOK(c, viewOf(g))
}

// Presets lists the names of the built-in and configured schema presets.
func (h *SchemaHandler) Presets(c *gin.Context) {
	response.RespondOK(c, gin.H{"presets": h.presets.Names()})
}

// GraphSchema reports the labels, relationship types and observed triples of
// the live graph.
func (h *SchemaHandler) GraphSchema(c *gin.Context) {
	labels, relTypes, err := h.store.GetLabelsAndRelationTypes(c.Request.Context())
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	triples, err := h.store.GetGraphTriples(c.Request.Context(), 0)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	out := make([]schema.Triple, 0, len(triples))
	for _, t := range triples {
		out = append(out, schema.Triple{From: t[0], Type: t[1], To: t[2]})
	}
	response.RespondOK(c, schemaView{
		Labels:            labels,
		RelationshipTypes: relTypes,
		Triples:           out,
	})
}
