package procurement

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/platform/httpx"
)

// Handler wires supplier, import bill, inspection and return bill endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountSupplierRoutes registers supplier routes.
func (h *Handler) MountSupplierRoutes(r chi.Router) {
	r.Get("/", h.listSuppliers)
	r.Post("/", h.createSupplier)
	r.Get("/{id}", h.getSupplier)
	r.Put("/{id}", h.updateSupplier)
	r.Post("/{id}/deactivate", h.deactivateSupplier)
	r.Post("/{id}/pay-amount", h.paySupplier)
	r.Get("/{id}/transactions", h.listSupplierTransactions)
}

// MountImportBillRoutes registers import bill routes.
func (h *Handler) MountImportBillRoutes(r chi.Router) {
	r.Get("/", h.listImportBills)
	r.Post("/", h.createImportBill)
	r.Get("/{id}", h.getImportBill)
	r.Put("/{id}", h.updateImportBill)
	r.Post("/{id}/confirm", billAction(h, "confirm import bill", h.service.ConfirmImportBill))
	r.Post("/{id}/pay", h.payImportBill)
	r.Post("/{id}/cancel", billAction(h, "cancel import bill", h.service.CancelImportBill))
	r.Post("/{id}/deactivate", billAction(h, "deactivate import bill", h.service.DeactivateImportBill))
	r.Post("/{id}/reactivate", billAction(h, "reactivate import bill", h.service.ReactivateImportBill))
}

// MountInspectionRoutes registers inspection report routes.
func (h *Handler) MountInspectionRoutes(r chi.Router) {
	r.Get("/", h.listInspections)
	r.Post("/", h.createInspection)
	r.Get("/{id}", billAction(h, "get inspection report", h.service.GetInspection))
	r.Put("/{id}", h.updateInspection)
	r.Post("/{id}/complete", billAction(h, "complete inspection report", h.service.CompleteInspection))
	r.Get("/{id}/history", h.inspectionHistory)
}

// MountReturnBillRoutes registers return bill routes.
func (h *Handler) MountReturnBillRoutes(r chi.Router) {
	r.Get("/", h.listReturnBills)
	r.Post("/", h.createReturnBill)
	r.Get("/{id}", billAction(h, "get return bill", h.service.GetReturnBill))
	r.Put("/{id}", h.updateReturnBill)
	r.Post("/{id}/confirm", billAction(h, "confirm return bill", h.service.ConfirmReturnBill))
	r.Post("/{id}/cancel", billAction(h, "cancel return bill", h.service.CancelReturnBill))
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// billAction adapts an id-only service call.
func billAction[T any](h *Handler, op string, fn func(ctx context.Context, id string) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := fn(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.Fail(w, h.logger, op, err)
			return
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

// decodeAndRun decodes the request body into In and answers with status.
func decodeAndRun[In, Out any](h *Handler, op string, status int, fn func(r *http.Request, in In) (Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in In
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.RespondError(w, err)
			return
		}
		out, err := fn(r, in)
		if err != nil {
			httpx.Fail(w, h.logger, op, err)
			return
		}
		httpx.JSON(w, status, out)
	}
}

func billFilterFrom(r *http.Request) (BillFilter, error) {
	q := r.URL.Query()
	filter := BillFilter{
		Search:     q.Get("search"),
		SupplierID: q.Get("supplier_id"),
		Status:     q.Get("status"),
		Page:       httpx.Page(r),
	}
	if v := q.Get("branch"); v != "" {
		b, err := inventory.ParseBranch(v)
		if err != nil {
			return filter, err
		}
		filter.Branch = &b
	}
	return filter, nil
}

func (h *Handler) listSuppliers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := SupplierFilter{
		Search:     q.Get("search"),
		ActiveOnly: q.Get("active") == "true",
		Page:       httpx.Page(r),
	}
	items, total, err := h.service.ListSuppliers(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, h.logger, "list suppliers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewList(items, filter.Page, total))
}

func (h *Handler) createSupplier(w http.ResponseWriter, r *http.Request) {
	decodeAndRun(h, "create supplier", http.StatusCreated, func(r *http.Request, in SupplierInput) (Supplier, error) {
		return h.service.CreateSupplier(r.Context(), in)
	})(w, r)
}

func (h *Handler) getSupplier(w http.ResponseWriter, r *http.Request) {
	sup, err := h.service.GetSupplier(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, h.logger, "get supplier", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sup)
}

func (h *Handler) updateSupplier(w http.ResponseWriter, r *http.Request) {
	decodeAndRun(h, "update supplier", http.StatusOK, func(r *http.Request, in SupplierInput) (Supplier, error) {
		return h.service.UpdateSupplier(r.Context(), chi.URLParam(r, "id"), in)
	})(w, r)
}

func (h *Handler) deactivateSupplier(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeactivateSupplier(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.Fail(w, h.logger, "deactivate supplier", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) paySupplier(w http.ResponseWriter, r *http.Request) {
	decodeAndRun(h, "pay supplier", http.StatusCreated, func(r *http.Request, in amountRequest) (SupplierTransaction, error) {
		return h.service.PaySupplier(r.Context(), chi.URLParam(r, "id"), in.Amount)
	})(w, r)
}

func (h *Handler) listSupplierTransactions(w http.ResponseWriter, r *http.Request) {
	page := httpx.Page(r)
	items, total, err := h.service.ListSupplierTransactions(r.Context(), chi.URLParam(r, "id"), page)
	if err != nil {
		httpx.Fail(w, h.logger, "list supplier transactions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewList(items, page, total))
}

func (h *Handler) listImportBills(w http.ResponseWriter, r *http.Request) {
	filter, err := billFilterFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, total, err := h.service.ListImportBills(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, h.logger, "list import bills", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewList(items, filter.Page, total))
}

func (h *Handler) createImportBill(w http.ResponseWriter, r *http.Request) {
	decodeAndRun(h, "create import bill", http.StatusCreated, func(r *http.Request, in ImportBillInput) (ImportBill, error) {
		return h.service.CreateImportBill(r.Context(), in)
	})(w, r)
}

func (h *Handler) getImportBill(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.GetImportBill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, h.logger, "get import bill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) updateImportBill(w http.ResponseWriter, r *http.Request) {
	decodeAndRun(h, "update import bill", http.StatusOK, func(r *http.Request, in UpdateImportBillInput) (ImportBill, error) {
		return h.service.UpdateImportBill(r.Context(), chi.URLParam(r, "id"), in)
	})(w, r)
}

func (h *Handler) payImportBill(w http.ResponseWriter, r *http.Request) {
	decodeAndRun(h, "pay import bill", http.StatusOK, func(r *http.Request, in amountRequest) (ImportBill, error) {
		return h.service.PayImportBill(r.Context(), chi.URLParam(r, "id"), in.Amount)
	})(w, r)
}

func (h *Handler) listInspections(w http.ResponseWriter, r *http.Request) {
	filter, err := billFilterFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, total, err := h.service.ListInspections(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, h.logger, "list inspection reports", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewList(items, filter.Page, total))
}

func (h *Handler) createInspection(w http.ResponseWriter, r *http.Request) {
	decodeAndRun(h, "create inspection report", http.StatusCreated, func(r *http.Request, in InspectionInput) (InspectionReport, error) {
		return h.service.CreateInspection(r.Context(), in)
	})(w, r)
}

func (h *Handler) updateInspection(w http.ResponseWriter, r *http.Request) {
	decodeAndRun(h, "update inspection report", http.StatusOK, func(r *http.Request, in UpdateInspectionInput) (InspectionReport, error) {
		return h.service.UpdateInspection(r.Context(), chi.URLParam(r, "id"), in)
	})(w, r)
}

func (h *Handler) inspectionHistory(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.InspectionHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, h.logger, "inspection history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) listReturnBills(w http.ResponseWriter, r *http.Request) {
	filter, err := billFilterFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, total, err := h.service.ListReturnBills(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, h.logger, "list return bills", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewList(items, filter.Page, total))
}

func (h *Handler) createReturnBill(w http.ResponseWriter, r *http.Request) {
	decodeAndRun(h, "create return bill", http.StatusCreated, func(r *http.Request, in ReturnBillInput) (ReturnBill, error) {
		return h.service.CreateReturnBill(r.Context(), in)
	})(w, r)
}

func (h *Handler) updateReturnBill(w http.ResponseWriter, r *http.Request) {
	decodeAndRun(h, "update return bill", http.StatusOK, func(r *http.Request, in UpdateReturnBillInput) (ReturnBill, error) {
		return h.service.UpdateReturnBill(r.Context(), chi.URLParam(r, "id"), in)
	})(w, r)
}
