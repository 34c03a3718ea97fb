package delivery

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lilas/backoffice/internal/platform/httpx"
	"github.com/lilas/backoffice/internal/shared"
)

// SyncTrigger queues an out-of-schedule sync sweep.
type SyncTrigger interface {
	EnqueueDeliverySync(ctx context.Context) (string, error)
}

// Handler exposes delivery endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	trigger     SyncTrigger
	defaultShop int
}

// NewHandler builds Handler. trigger may be nil, in which case the manual
// sync endpoint answers 503.
func NewHandler(logger *slog.Logger, service *Service, trigger SyncTrigger) *Handler {
	return &Handler{logger: logger, service: service, trigger: trigger}
}

// WithDefaultShop sets the shop used when a create request omits shop_id.
func (h *Handler) WithDefaultShop(shopID int) *Handler {
	h.defaultShop = shopID
	return h
}

// MountRoutes registers delivery routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/sync", h.sync)
	r.Get("/shops", h.listShops)
	r.Post("/shops", h.createShop)
	r.Get("/provinces", h.provinces)
	r.Get("/districts", h.districts)
	r.Get("/wards", h.wards)
	r.Get("/pick-shifts", h.pickShifts)
	r.Get("/{code}", h.get)
	r.Post("/{code}/cancel", h.cancel)
	r.Get("/{code}/print", h.print)
}

type createRequest struct {
	InvoiceID string `json:"invoice_id"`
	ShopID    int    `json:"shop_id"`
	CreateInput
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{Search: q.Get("search"), Status: q.Get("status"), Page: httpx.Page(r)}
	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, h.logger, "list deliveries", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewList(items, filter.Page, total))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.InvoiceID == "" {
		httpx.RespondError(w, shared.FieldInvalid("invoice_id", "required"))
		return
	}
	if req.ShopID == 0 {
		req.ShopID = h.defaultShop
	}
	d, err := h.service.Create(r.Context(), req.InvoiceID, req.ShopID, req.CreateInput)
	if err != nil {
		httpx.Fail(w, h.logger, "create delivery", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.Fail(w, h.logger, "get delivery", err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Cancel(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.Fail(w, h.logger, "cancel delivery", err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) print(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.Print(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.Fail(w, h.logger, "print delivery", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "SYNC_UNAVAILABLE", "job queue not configured")
		return
	}
	id, err := h.trigger.EnqueueDeliverySync(r.Context())
	if err != nil {
		httpx.Fail(w, h.logger, "enqueue delivery sync", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

func (h *Handler) listShops(w http.ResponseWriter, r *http.Request) {
	filter := ShopFilter{Search: r.URL.Query().Get("search"), Page: httpx.Page(r)}
	items, total, err := h.service.ListShops(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, h.logger, "list shops", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewList(items, filter.Page, total))
}

func (h *Handler) createShop(w http.ResponseWriter, r *http.Request) {
	var in ShopInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	shop, err := h.service.CreateShop(r.Context(), in)
	if err != nil {
		httpx.Fail(w, h.logger, "create shop", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, shop)
}

func (h *Handler) provinces(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Provinces(r.Context())
	respondReference(w, h.logger, "list provinces", out, err)
}

func (h *Handler) districts(w http.ResponseWriter, r *http.Request) {
	id, err := intQuery(r, "province_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.Districts(r.Context(), id)
	respondReference(w, h.logger, "list districts", out, err)
}

func (h *Handler) wards(w http.ResponseWriter, r *http.Request) {
	id, err := intQuery(r, "district_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.Wards(r.Context(), id)
	respondReference(w, h.logger, "list wards", out, err)
}

func (h *Handler) pickShifts(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.PickShifts(r.Context())
	respondReference(w, h.logger, "list pick shifts", out, err)
}

func respondReference[T any](w http.ResponseWriter, logger *slog.Logger, op string, items []T, err error) {
	if err != nil {
		httpx.Fail(w, logger, op, err)
		return
	}
	if items == nil {
		items = []T{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func intQuery(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return 0, shared.FieldInvalid(name, "required")
	}
	return v, nil
}
