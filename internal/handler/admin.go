package handler

import (
	"net/http"
	"runtime"
	"time"

	"farmstall/internal/repository"
	"farmstall/internal/service"
	"farmstall/pkg/response"
)

// AdminHandler handles admin-related HTTP requests.
type AdminHandler struct {
	store     repository.DocumentStore
	storeType string
	inventory *service.InventoryService
	batches   *service.BatchWorkflow
	startTime time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(
	store repository.DocumentStore,
	storeType string,
	inventory *service.InventoryService,
	batches *service.BatchWorkflow,
) *AdminHandler {
	return &AdminHandler{
		store:     store,
		storeType: storeType,
		inventory: inventory,
		batches:   batches,
		startTime: time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]interface{})

	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["store_type"] = h.storeType

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	if h.store != nil {
		storeStats, err := h.store.Stats(r.Context())
		if err == nil {
			storeStats["status"] = "connected"
			stats["store"] = storeStats
		} else {
			stats["store"] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
		}
	}

	if h.inventory != nil {
		stats["inventory"] = map[string]interface{}{
			"ready":   h.inventory.Ready(),
			"storage": len(h.inventory.ActiveInventory()),
			"stall":   len(h.inventory.FarmStall()),
			"sold":    len(h.inventory.Sales()),
			"streams": h.inventory.WatcherCount(),
		}
	}

	if h.batches != nil {
		view := h.batches.View()
		stats["batch"] = map[string]interface{}{
			"state":  view.State,
			"staged": view.Summary.Count,
		}
	}

	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}
