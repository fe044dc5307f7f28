package handler

import (
	"errors"
	"net/http"

	"farmstall/internal/service"
	"farmstall/pkg/apierror"
	"farmstall/pkg/response"

	"github.com/go-chi/chi/v5"
)

// BatchHandler handles batch intake and flower entry.
type BatchHandler struct {
	workflow *service.BatchWorkflow
}

// NewBatchHandler creates a new batch handler.
func NewBatchHandler(workflow *service.BatchWorkflow) *BatchHandler {
	return &BatchHandler{workflow: workflow}
}

// StartBatchRequest is the body of POST /batch.
type StartBatchRequest struct {
	Type              string   `json:"type"`
	CostPerKg         *float64 `json:"costPerKg"`
	FromExternalBatch bool     `json:"fromExternalBatch"`
}

// StageItemRequest is the body of POST /batch/items.
type StageItemRequest struct {
	Weight    float64 `json:"weight"`
	SalePrice float64 `json:"salePrice"`
}

// CancelBatchRequest is the body of POST /batch/cancel.
type CancelBatchRequest struct {
	Confirm bool `json:"confirm"`
}

// FlowerEntryRequest is the body of POST /flowers.
type FlowerEntryRequest struct {
	Variety       string  `json:"variety"`
	Bunches       int     `json:"bunches"`
	PricePerBunch float64 `json:"pricePerBunch"`
}

// Get handles GET /api/v1/batch
func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.workflow.View())
}

// Start handles POST /api/v1/batch
func (h *BatchHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartBatchRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if req.CostPerKg == nil {
		response.Error(w, apierror.ValidationError("costPerKg is required",
			apierror.FieldError{Field: "costPerKg", Message: "cost per kg is required"}))
		return
	}

	if _, err := h.workflow.StartBatch(r.Context(), req.Type, *req.CostPerKg, req.FromExternalBatch); err != nil {
		fail(w, r, err)
		return
	}
	response.Created(w, h.workflow.View())
}

// StageItem handles POST /api/v1/batch/items
func (h *BatchHandler) StageItem(w http.ResponseWriter, r *http.Request) {
	var req StageItemRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}

	item, err := h.workflow.StageItem(req.Weight, req.SalePrice)
	if err != nil {
		fail(w, r, err)
		return
	}
	response.Created(w, map[string]interface{}{
		"item":    item,
		"summary": h.workflow.Summary(),
	})
}

// RemoveStaged handles DELETE /api/v1/batch/items/{tempID}
func (h *BatchHandler) RemoveStaged(w http.ResponseWriter, r *http.Request) {
	if err := h.workflow.RemoveStaged(chi.URLParam(r, "tempID")); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			response.Error(w, apierror.NotFound("staged item not found"))
			return
		}
		fail(w, r, err)
		return
	}
	response.NoContent(w)
}

// Finish handles POST /api/v1/batch/finish
func (h *BatchHandler) Finish(w http.ResponseWriter, r *http.Request) {
	items, err := h.workflow.FinishBatch(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	response.List(w, items, len(items))
}

// Cancel handles POST /api/v1/batch/cancel
func (h *BatchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelBatchRequest
	if err := decodeOptional(r, &req); err != nil {
		fail(w, r, err)
		return
	}

	if err := h.workflow.CancelBatch(r.Context(), req.Confirm); err != nil {
		fail(w, r, err)
		return
	}
	response.OK(w, h.workflow.View())
}

// FlowerEntry handles POST /api/v1/flowers
func (h *BatchHandler) FlowerEntry(w http.ResponseWriter, r *http.Request) {
	var req FlowerEntryRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}

	item, err := h.workflow.StartFlowerEntry(r.Context(), req.Variety, req.Bunches, req.PricePerBunch)
	if err != nil {
		fail(w, r, err)
		return
	}
	response.Created(w, item)
}
