package api

import (
	"net/http"

	"github.com/okian/fieldmemo/internal/domain/model"
)

type templateRequest struct {
	Regions []model.Region `json:"regions"`
}

type templateResponse struct {
	Issuer  string         `json:"issuer"`
	Regions []model.Region `json:"regions"`
}

// TemplatesHandler serves the per-issuer template endpoints.
type TemplatesHandler struct {
	deps TemplateDependencies
}

// NewTemplatesHandler creates a new templates handler.
func NewTemplatesHandler(deps TemplateDependencies) *TemplatesHandler {
	return &TemplatesHandler{deps: deps}
}

// HandleGet handles GET /templates/{issuer}. An unknown issuer has an empty template.
func (h *TemplatesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	issuer := r.PathValue("issuer")
	regions, err := h.deps.Load(r.Context(), issuer)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templateResponse{Issuer: issuer, Regions: model.FromFieldRegions(regions)})
}

// HandlePut handles PUT /templates/{issuer}, replacing the whole template.
func (h *TemplatesHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	const op = "api.put_template"
	var req templateRequest
	if err := decodeBody(w, r, op, &req); err != nil {
		writeKindError(w, err)
		return
	}
	regions, err := model.ToFieldRegions(req.Regions)
	if err != nil {
		writeKindError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.Save(r.Context(), r.PathValue("issuer"), regions); err != nil {
		writeKindError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMerge handles POST /templates/{issuer}/merge and returns the merged template.
func (h *TemplatesHandler) HandleMerge(w http.ResponseWriter, r *http.Request) {
	const op = "api.merge_template"
	var req templateRequest
	if err := decodeBody(w, r, op, &req); err != nil {
		writeKindError(w, err)
		return
	}
	observed, err := model.ToFieldRegions(req.Regions)
	if err != nil {
		writeKindError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	issuer := r.PathValue("issuer")
	merged, err := h.deps.Merge(r.Context(), issuer, observed)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templateResponse{Issuer: issuer, Regions: model.FromFieldRegions(merged)})
}
