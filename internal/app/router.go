package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/lilas/backoffice/internal/audit"
	"github.com/lilas/backoffice/internal/delivery"
	"github.com/lilas/backoffice/internal/inventory"
	"github.com/lilas/backoffice/internal/observability"
	"github.com/lilas/backoffice/internal/procurement"
	"github.com/lilas/backoffice/internal/reporting"
	"github.com/lilas/backoffice/internal/sales"
	"github.com/lilas/backoffice/internal/users"
	"github.com/lilas/backoffice/jobs"
)

// RouterParams groups dependencies for building the HTTP router. Nil
// handlers leave their routes unmounted.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	InventoryHandler   *inventory.Handler
	UsersHandler       *users.Handler
	SalesHandler       *sales.Handler
	ProcurementHandler *procurement.Handler
	DeliveryHandler    *delivery.Handler
	ReportingHandler   *reporting.Handler
	AuditHandler       *audit.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router serving the back-office API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		if h := params.InventoryHandler; h != nil {
			r.Route("/products", h.MountProductRoutes)
			r.Route("/transfers", h.MountTransferRoutes)
		}
		if h := params.UsersHandler; h != nil {
			r.Route("/users", h.MountRoutes)
		}
		if h := params.SalesHandler; h != nil {
			r.Route("/customers", h.MountCustomerRoutes)
			r.Route("/customer-groups", h.MountGroupRoutes)
			r.Route("/invoices", h.MountInvoiceRoutes)
		}
		if h := params.ProcurementHandler; h != nil {
			r.Route("/suppliers", h.MountSupplierRoutes)
			r.Route("/import-bills", h.MountImportBillRoutes)
			r.Route("/inspections", h.MountInspectionRoutes)
			r.Route("/return-bills", h.MountReturnBillRoutes)
		}
		if h := params.DeliveryHandler; h != nil {
			r.Route("/deliveries", h.MountRoutes)
		}
		if h := params.ReportingHandler; h != nil {
			r.Route("/reports", h.MountRoutes)
		}
		if h := params.AuditHandler; h != nil {
			r.Route("/audit-logs", h.MountRoutes)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
