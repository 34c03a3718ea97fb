package reporting

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lilas/backoffice/internal/platform/httpx"
)

// Handler exposes report endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/revenue-summary", h.revenueSummary)
	r.Get("/revenue-summary.xlsx", h.revenueSummaryXLSX)
	r.Get("/top-revenue", h.topRevenue)
	r.Get("/inventory-value", h.inventoryValue)
}

func daysParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return 0, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ErrInvalidWindow.WithMessage("days=%q", raw)
	}
	return days, nil
}

func (h *Handler) revenueSummary(w http.ResponseWriter, r *http.Request) {
	days, err := daysParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.RevenueSummary(r.Context(), days)
	if err != nil {
		httpx.Fail(w, h.logger, "revenue summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) revenueSummaryXLSX(w http.ResponseWriter, r *http.Request) {
	days, err := daysParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.RevenueSummary(r.Context(), days)
	if err != nil {
		httpx.Fail(w, h.logger, "revenue summary export", err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=revenue-%d.xlsx", days))
	if err := WriteRevenueXLSX(w, out); err != nil {
		h.logger.ErrorContext(r.Context(), "write revenue workbook", slog.Any("error", err))
	}
}

func (h *Handler) topRevenue(w http.ResponseWriter, r *http.Request) {
	days, err := daysParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.TopRevenue(r.Context(), days)
	if err != nil {
		httpx.Fail(w, h.logger, "top revenue", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) inventoryValue(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.InventoryValue(r.Context(), r.URL.Query().Get("warehouse"))
	if err != nil {
		httpx.Fail(w, h.logger, "inventory value", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}
