package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"farmstall/internal/model"
	"farmstall/internal/service"
	"farmstall/pkg/apierror"
	"farmstall/pkg/logger"
	"farmstall/pkg/response"

	"github.com/go-chi/chi/v5"
)

// streamKeepAlive is how often an idle event stream sends a comment line.
const streamKeepAlive = 15 * time.Second

// InventoryHandler handles inventory-related HTTP requests.
type InventoryHandler struct {
	inventory *service.InventoryService
}

// NewInventoryHandler creates a new inventory handler.
func NewInventoryHandler(inventory *service.InventoryService) *InventoryHandler {
	return &InventoryHandler{
		inventory: inventory,
	}
}

// CreateItemRequest is the body of POST /inventory.
type CreateItemRequest struct {
	Type              string  `json:"type"`
	Weight            float64 `json:"weight"`
	CostPrice         float64 `json:"costPrice"`
	SalePrice         float64 `json:"salePrice"`
	FromExternalBatch bool    `json:"fromExternalBatch"`
}

// List handles GET /api/v1/inventory
func (h *InventoryHandler) List(w http.ResponseWriter, r *http.Request) {
	items := h.inventory.Items()
	response.List(w, items, len(items))
}

// Storage handles GET /api/v1/inventory/storage
func (h *InventoryHandler) Storage(w http.ResponseWriter, r *http.Request) {
	items := h.inventory.ActiveInventory()
	response.List(w, items, len(items))
}

// Stall handles GET /api/v1/inventory/stall
func (h *InventoryHandler) Stall(w http.ResponseWriter, r *http.Request) {
	items := h.inventory.FarmStall()
	response.List(w, items, len(items))
}

// Sales handles GET /api/v1/inventory/sales
func (h *InventoryHandler) Sales(w http.ResponseWriter, r *http.Request) {
	items := h.inventory.Sales()
	response.List(w, items, len(items))
}

// Get handles GET /api/v1/inventory/{id}
func (h *InventoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.inventory.Get(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	response.OK(w, item)
}

// Create handles POST /api/v1/inventory
func (h *InventoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}

	item, err := h.inventory.AddItem(r.Context(), model.NewItem{
		Type:              req.Type,
		Weight:            req.Weight,
		CostPrice:         req.CostPrice,
		SalePrice:         req.SalePrice,
		FromExternalBatch: req.FromExternalBatch,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	response.Created(w, item)
}

// Update handles PATCH /api/v1/inventory/{id}
func (h *InventoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	var edit model.ItemEdit
	if err := decode(r, &edit); err != nil {
		fail(w, r, err)
		return
	}

	item, err := h.inventory.UpdateItem(r.Context(), chi.URLParam(r, "id"), edit)
	if err != nil {
		fail(w, r, err)
		return
	}
	response.OK(w, item)
}

// Delete handles DELETE /api/v1/inventory/{id}
func (h *InventoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.inventory.RemoveFromInventory(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, err)
		return
	}
	response.NoContent(w)
}

// MoveToStall handles POST /api/v1/inventory/{id}/stall
func (h *InventoryHandler) MoveToStall(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "stall", h.inventory.MoveToFarmStall)
}

// MoveToStorage handles POST /api/v1/inventory/{id}/storage
func (h *InventoryHandler) MoveToStorage(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "storage", h.inventory.MoveToInventory)
}

// Sell handles POST /api/v1/inventory/{id}/sell
func (h *InventoryHandler) Sell(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "sold", h.inventory.MarkAsSold)
}

func (h *InventoryHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	status string,
	apply func(ctx context.Context, id string) error,
) {
	id := chi.URLParam(r, "id")
	if err := apply(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	response.OK(w, map[string]string{
		"id":     id,
		"status": status,
	})
}

// Stream handles GET /api/v1/inventory/stream
//
// Every snapshot is sent as one "inventory" server-sent event. A slow client
// only ever receives the latest snapshot.
func (h *InventoryHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.Error(w, apierror.InternalError("streaming not supported"))
		return
	}

	updates := make(chan []model.InventoryItem, 1)
	stop := h.inventory.Watch(func(items []model.InventoryItem) {
		for {
			select {
			case updates <- items:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	log := logger.FromContext(r.Context()).With("remote", r.RemoteAddr)
	log.Debugw("stream opened")
	defer log.Debugw("stream ended")

	if err := writeEvent(w, h.inventory.Items()); err != nil {
		log.Debugw("stream write failed", "error", err)
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case items := <-updates:
			if err := writeEvent(w, items); err != nil {
				log.Debugw("stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, items []model.InventoryItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: inventory\ndata: %s\n\n", data)
	return err
}
