package sales

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/platform/httpx"
	"github.com/lilas/backoffice/internal/shared"
)

// Handler wires customer, customer group and invoice endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountCustomerRoutes registers customer routes.
func (h *Handler) MountCustomerRoutes(r chi.Router) {
	r.Get("/", h.listCustomers)
	r.Post("/", h.createCustomer)
	r.Get("/top", h.topCustomers)
	r.Get("/{id}", h.getCustomer)
	r.Put("/{id}", h.updateCustomer)
	r.Post("/{id}/deactivate", h.deactivateCustomer)
	r.Post("/{id}/pay-amount", h.payAmount)
	r.Get("/{id}/transactions", h.listTransactions)
}

// MountGroupRoutes registers customer group routes.
func (h *Handler) MountGroupRoutes(r chi.Router) {
	r.Get("/", h.listGroups)
	r.Post("/", h.createGroup)
	r.Get("/{id}", h.getGroup)
	r.Put("/{id}", h.updateGroup)
	r.Delete("/{id}", h.deleteGroup)
}

// MountInvoiceRoutes registers invoice routes.
func (h *Handler) MountInvoiceRoutes(r chi.Router) {
	r.Get("/", h.listInvoices)
	r.Post("/", h.createInvoice)
	r.Get("/{id}", h.getInvoice)
	r.Put("/{id}", h.updateInvoice)
	r.Post("/{id}/confirm", h.invoiceAction("confirm invoice", h.service.ConfirmInvoice))
	r.Post("/{id}/cancel", h.invoiceAction("cancel invoice", h.service.CancelInvoice))
	r.Post("/{id}/return", h.invoiceAction("return invoice", h.service.ReturnInvoice))
	r.Post("/{id}/pay", h.payInvoice)
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := httpx.Page(r)
	groupID, _ := strconv.ParseInt(q.Get("group_id"), 10, 64)
	filter := CustomerFilter{
		Search:     q.Get("search"),
		GroupID:    groupID,
		ActiveOnly: q.Get("active") == "true",
		Page:       page,
	}
	items, total, err := h.service.ListCustomers(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, h.logger, "list customers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewList(items, page, total))
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var input CustomerInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.CreateCustomer(r.Context(), input)
	if err != nil {
		httpx.Fail(w, h.logger, "create customer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) topCustomers(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.service.TopCustomers(r.Context(), limit)
	if err != nil {
		httpx.Fail(w, h.logger, "top customers", err)
		return
	}
	if items == nil {
		items = []Customer{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, h.logger, "get customer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) updateCustomer(w http.ResponseWriter, r *http.Request) {
	var input CustomerInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.UpdateCustomer(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		httpx.Fail(w, h.logger, "update customer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) deactivateCustomer(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeactivateCustomer(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.Fail(w, h.logger, "deactivate customer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) payAmount(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.PayAmount(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		httpx.Fail(w, h.logger, "pay customer amount", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	page := httpx.Page(r)
	filter := TransactionFilter{
		CustomerID: chi.URLParam(r, "id"),
		ActiveOnly: r.URL.Query().Get("active") == "true",
		Page:       page,
	}
	items, total, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, h.logger, "list customer transactions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewList(items, page, total))
}

func groupID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, shared.FieldInvalid("id", "numeric")
	}
	return id, nil
}

func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.ListGroups(r.Context())
	if err != nil {
		httpx.Fail(w, h.logger, "list customer groups", err)
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
		httpx.Fail(w, h.logger, "create customer group", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, g)
}

func (h *Handler) getGroup(w http.ResponseWriter, r *http.Request) {
	id, err := groupID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	g, err := h.service.GetGroup(r.Context(), id)
	if err != nil {
		httpx.Fail(w, h.logger, "get customer group", err)
		return
	}
	httpx.JSON(w, http.StatusOK, g)
}

func (h *Handler) updateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := groupID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input GroupInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	g, err := h.service.UpdateGroup(r.Context(), id, input)
	if err != nil {
		httpx.Fail(w, h.logger, "update customer group", err)
		return
	}
	httpx.JSON(w, http.StatusOK, g)
}

func (h *Handler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := groupID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteGroup(r.Context(), id); err != nil {
		httpx.Fail(w, h.logger, "delete customer group", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	filter, err := invoiceFilterFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, total, err := h.service.ListInvoices(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, h.logger, "list invoices", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewList(items, filter.Page, total))
}

// invoiceFilterFrom reads invoice list filters. Dates use YYYY-MM-DD and the
// upper bound is inclusive.
func invoiceFilterFrom(r *http.Request) (InvoiceFilter, error) {
	q := r.URL.Query()
	filter := InvoiceFilter{
		Search:        q.Get("search"),
		Status:        InvoiceStatus(q.Get("status")),
		PaymentStatus: PaymentStatus(q.Get("payment_status")),
		WithActiveTx:  q.Get("active_transaction") == "true",
		Page:          httpx.Page(r),
	}
	if v := q.Get("branch"); v != "" {
		b, err := inventory.ParseBranch(v)
		if err != nil {
			return filter, err
		}
		filter.Branch = &b
	}
	if v := q.Get("is_delivery"); v != "" {
		d, err := strconv.ParseBool(v)
		if err != nil {
			return filter, shared.FieldInvalid("is_delivery", "boolean")
		}
		filter.IsDelivery = &d
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return filter, shared.FieldInvalid("from", "date")
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return filter, shared.FieldInvalid("to", "date")
		}
		end := t.AddDate(0, 0, 1)
		filter.To = &end
	}
	return filter, nil
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var input CreateInvoiceInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if input.UserID == "" {
		input.UserID = shared.ActorFromContext(r.Context())
	}
	inv, err := h.service.CreateInvoice(r.Context(), input)
	if err != nil {
		httpx.Fail(w, h.logger, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, h.logger, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) updateInvoice(w http.ResponseWriter, r *http.Request) {
	var input UpdateInvoiceInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.UpdateInvoice(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		httpx.Fail(w, h.logger, "update invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) invoiceAction(op string, fn func(ctx context.Context, id string) (Invoice, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inv, err := fn(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.Fail(w, h.logger, op, err)
			return
		}
		httpx.JSON(w, http.StatusOK, inv)
	}
}

func (h *Handler) payInvoice(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.PayInvoice(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		httpx.Fail(w, h.logger, "pay invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}
