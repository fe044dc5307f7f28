package handler

import (
	"net/http"
	"strconv"
	"time"

	"farmstall/internal/model"
	"farmstall/internal/report"
	"farmstall/internal/service"
	"farmstall/pkg/apierror"
	"farmstall/pkg/response"
)

// ReportHandler serves the dashboard and its individual reports.
type ReportHandler struct {
	inventory *service.InventoryService
	loc       *time.Location
	now       func() time.Time
}

// NewReportHandler creates a report handler. Daily series are bucketed in loc.
func NewReportHandler(inventory *service.InventoryService, loc *time.Location) *ReportHandler {
	if loc == nil {
		loc = time.Local
	}
	return &ReportHandler{
		inventory: inventory,
		loc:       loc,
		now:       time.Now,
	}
}

// Dashboard handles GET /api/v1/dashboard?timeframe=week|month|all
func (h *ReportHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	tf, ok := h.timeframe(w, r, model.TimeframeWeek)
	if !ok {
		return
	}
	response.OK(w, report.Build(h.inventory.Items(), tf, h.now().In(h.loc), h.loc))
}

// Types handles GET /api/v1/reports/types?scope=storage|stall|sales
func (h *ReportHandler) Types(w http.ResponseWriter, r *http.Request) {
	var items []model.InventoryItem
	switch scope := r.URL.Query().Get("scope"); scope {
	case "", "storage":
		items = h.inventory.ActiveInventory()
	case "stall":
		items = h.inventory.FarmStall()
	case "sales":
		items = h.inventory.Sales()
	default:
		response.Error(w, apierror.ValidationError("unknown scope",
			apierror.FieldError{Field: "scope", Message: "must be storage, stall or sales"}))
		return
	}

	rows := report.GroupByType(items)
	response.List(w, rows, len(rows))
}

// Categories handles GET /api/v1/reports/categories?top=N&timeframe=
func (h *ReportHandler) Categories(w http.ResponseWriter, r *http.Request) {
	top := report.DefaultTopN
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.Error(w, apierror.ValidationError("invalid top",
				apierror.FieldError{Field: "top", Message: "must be a non-negative integer"}))
			return
		}
		top = n
	}

	sales, ok := h.sales(w, r)
	if !ok {
		return
	}
	rows := report.CategoryRanking(sales, top)
	response.List(w, rows, len(rows))
}

// Segments handles GET /api/v1/reports/segments?timeframe=
func (h *ReportHandler) Segments(w http.ResponseWriter, r *http.Request) {
	sales, ok := h.sales(w, r)
	if !ok {
		return
	}
	rows := report.SegmentRanking(sales)
	response.List(w, rows, len(rows))
}

func (h *ReportHandler) sales(w http.ResponseWriter, r *http.Request) ([]model.InventoryItem, bool) {
	tf, ok := h.timeframe(w, r, model.TimeframeAll)
	if !ok {
		return nil, false
	}
	return report.FilterTimeframe(h.inventory.Sales(), tf, h.now().In(h.loc)), true
}

func (h *ReportHandler) timeframe(w http.ResponseWriter, r *http.Request, fallback model.Timeframe) (model.Timeframe, bool) {
	raw := r.URL.Query().Get("timeframe")
	if raw == "" {
		return fallback, true
	}
	tf, err := report.ParseTimeframe(raw)
	if err != nil {
		response.Error(w, apierror.ValidationError(err.Error(),
			apierror.FieldError{Field: "timeframe", Message: "must be week, month or all"}))
		return "", false
	}
	return tf, true
}
