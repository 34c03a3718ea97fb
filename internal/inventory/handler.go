package inventory

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lilas/backoffice/internal/platform/httpx"
)

// Handler wires product and transfer endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountProductRoutes registers product and product group routes.
func (h *Handler) MountProductRoutes(r chi.Router) {
	r.Get("/", h.listProducts)
	r.Post("/", h.createProduct)
	r.Get("/groups", h.listGroups)
	r.Post("/groups", h.createGroup)
	r.Delete("/groups/{name}", h.deleteGroup)
	r.Get("/{id}", h.getProduct)
	r.Put("/{id}", h.updateProduct)
	r.Post("/{id}/deactivate", h.setActive(false))
	r.Post("/{id}/activate", h.setActive(true))
}

// MountTransferRoutes registers stock transfer routes.
func (h *Handler) MountTransferRoutes(r chi.Router) {
	r.Get("/", h.listTransfers)
	r.Post("/", h.createTransfer)
	r.Get("/{id}", h.getTransfer)
	r.Put("/{id}", h.updateTransfer)
	r.Post("/{id}/dispatch", h.transferAction("dispatch transfer", h.service.DispatchTransfer))
	r.Post("/{id}/complete", h.transferAction("complete transfer", h.service.CompleteTransfer))
	r.Post("/{id}/cancel", h.transferAction("cancel transfer", h.service.CancelTransfer))
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := httpx.Page(r)
	filter := ProductFilter{
		Search:       q.Get("search"),
		GroupName:    q.Get("group_name"),
		ActiveOnly:   q.Get("active") == "true",
		SellableOnly: q.Get("sellable") == "true",
		Page:         page,
	}
	items, total, err := h.service.ListProducts(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, h.logger, "list products", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewList(items, page, total))
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var input CreateProductInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.CreateProduct(r.Context(), input)
	if err != nil {
		httpx.Fail(w, h.logger, "create product", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, h.logger, "get product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	var input UpdateProductInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.UpdateProduct(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		httpx.Fail(w, h.logger, "update product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := h.service.SetProductActive(r.Context(), chi.URLParam(r, "id"), active)
		if err != nil {
			httpx.Fail(w, h.logger, "set product active", err)
			return
		}
		httpx.JSON(w, http.StatusOK, p)
	}
}

func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.ListGroups(r.Context())
	if err != nil {
		httpx.Fail(w, h.logger, "list product groups", err)
		return
	}
	if groups == nil {
		groups = []Group{}
	}
	httpx.JSON(w, http.StatusOK, groups)
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var input GroupInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	g, err := h.service.CreateGroup(r.Context(), input)
	if err != nil {
		httpx.Fail(w, h.logger, "create product group", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, g)
}

func (h *Handler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteGroup(r.Context(), chi.URLParam(r, "name")); err != nil {
		httpx.Fail(w, h.logger, "delete product group", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listTransfers(w http.ResponseWriter, r *http.Request) {
	page := httpx.Page(r)
	filter := TransferFilter{
		Status: TransferStatus(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("search"),
		Page:   page,
	}
	items, total, err := h.service.ListTransfers(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, h.logger, "list transfers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewList(items, page, total))
}

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	var input TransferInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.CreateTransfer(r.Context(), input)
	if err != nil {
		httpx.Fail(w, h.logger, "create transfer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) getTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.GetTransfer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, h.logger, "get transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) updateTransfer(w http.ResponseWriter, r *http.Request) {
	var input TransferInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.UpdateTransfer(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		httpx.Fail(w, h.logger, "update transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) transferAction(op string, fn func(ctx context.Context, id string) (Transfer, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := fn(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.Fail(w, h.logger, op, err)
			return
		}
		httpx.JSON(w, http.StatusOK, t)
	}
}
