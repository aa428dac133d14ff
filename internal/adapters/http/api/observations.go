package api

import (
	"errors"
	"net/http"
	"time"

	service "github.com/okian/fieldmemo/internal/app"
	"github.com/okian/fieldmemo/internal/domain/model"
)

const maxBatchSize = 500

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type batchRequest struct {
	Observations []model.ObservationRequest `json:"observations"`
}

type batchItem struct {
	ID         string         `json:"id,omitempty"`
	DocumentID string         `json:"document_id"`
	Issuer     string         `json:"issuer"`
	Status     string         `json:"status"`
	Error      *errorResponse `json:"error,omitempty"`
	Regions    []model.Region `json:"regions,omitempty"`
}

type batchResponse struct {
	Results []batchItem `json:"results"`
}

// ObservationsHandler accepts processed invoices for learning.
type ObservationsHandler struct {
	deps ObservationDependencies
	now  func() time.Time
}

// NewObservationsHandler creates a new observations handler.
func NewObservationsHandler(deps ObservationDependencies) *ObservationsHandler {
	return &ObservationsHandler{deps: deps, now: time.Now}
}

// HandlePost handles POST /observations. The observation is merged asynchronously.
func (h *ObservationsHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_observation"
	var req model.ObservationRequest
	if err := decodeBody(w, r, op, &req); err != nil {
		writeKindError(w, err)
		return
	}
	o, err := req.Observation(h.now())
	if err != nil {
		writeKindError(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	status, err := h.deps.Submit(r.Context(), o)
	switch {
	case errors.Is(err, service.ErrBackpressure):
		writeError(w, http.StatusTooManyRequests, "backpressure", NewKind(op, service.ErrBackpressure))
	case err != nil:
		writeKindError(w, err)
	case status == service.SubmitDuplicate:
		writeJSON(w, http.StatusOK, ackResponse{Status: string(status), Duplicate: true})
	default:
		writeJSON(w, http.StatusAccepted, ackResponse{Status: string(status)})
	}
}

// HandleBatch handles POST /observations/batch, merging every item
// synchronously and reporting each outcome. Invalid items do not fail the batch.
func (h *ObservationsHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_observation_batch"
	var req batchRequest
	if err := decodeBody(w, r, op, &req); err != nil {
		writeKindError(w, err)
		return
	}
	if len(req.Observations) > maxBatchSize {
		writeError(w, http.StatusRequestEntityTooLarge, "batch_too_large", NewKind(op, ErrBadRequest))
		return
	}

	items := make([]batchItem, len(req.Observations))
	valid := make([]model.Observation, 0, len(req.Observations))
	slots := make([]int, 0, len(req.Observations))
	now := h.now()
	for i, in := range req.Observations {
		items[i] = batchItem{DocumentID: in.DocumentID, Issuer: in.Issuer}
		o, err := in.Observation(now)
		if err != nil {
			items[i].Status = "rejected"
			items[i].Error = itemError(err)
			continue
		}
		valid = append(valid, o)
		slots = append(slots, i)
	}

	results, err := h.deps.MergeBatch(r.Context(), valid)
	if err != nil && results == nil {
		writeKindError(w, err)
		return
	}
	for j, res := range results {
		item := &items[slots[j]]
		item.ID = res.ID
		switch {
		case res.Duplicate:
			item.Status = "duplicate"
		case res.Err != nil:
			item.Status = "failed"
			item.Error = itemError(res.Err)
		default:
			item.Status = "merged"
			item.Regions = model.FromFieldRegions(res.Regions)
		}
	}
	writeJSON(w, http.StatusOK, batchResponse{Results: items})
}

func itemError(err error) *errorResponse {
	_, code := classify(err)
	return &errorResponse{Code: code, Message: err.Error()}
}
