package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/vitacare-erp/vitacare/internal/catalog"
	"github.com/vitacare-erp/vitacare/internal/inventory"
	"github.com/vitacare-erp/vitacare/internal/observability"
	"github.com/vitacare-erp/vitacare/internal/sales"
	"github.com/vitacare-erp/vitacare/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	CatalogHandler   *catalog.Handler
	InventoryHandler *inventory.Handler
	SalesHandler     *sales.Handler
	PaymentHandler   *sales.PaymentHandler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with VitaCare defaults.
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

	r.Route("/products", params.CatalogHandler.MountRoutes)
	r.Route("/inventory", params.InventoryHandler.MountRoutes)
	r.Route("/sales", params.SalesHandler.MountRoutes)
	if params.PaymentHandler != nil {
		r.Route("/payments", params.PaymentHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
