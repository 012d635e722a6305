package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/event-driven-arch/internal/api/handler"
	apimw "github.com/notifyhub/event-driven-arch/internal/api/middleware"
	"github.com/notifyhub/event-driven-arch/internal/ingestion"
	"github.com/notifyhub/event-driven-arch/internal/statusingress"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	svc *ingestion.Service,
	status *statusingress.Service,
	lag handler.LagReporter,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1 << 20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)      // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	nh := handler.NewNotificationHandler(svc, logger)
	bh := handler.NewBatchHandler(svc, logger)
	mh := handler.NewMetricsHandler(lag)
	hh := handler.NewHealthHandler()
	sh := handler.NewStatusHandler(status, logger)

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Notifications — note: /batch must be registered before /{id}
		// so chi does not treat the literal string "batch" as an ID.
		r.Post("/notifications/batch", bh.CreateBatch)
		r.Post("/notifications", nh.Create)
		r.Get("/notifications", nh.List)
		r.Get("/notifications/{id}", nh.GetByID)
		r.Delete("/notifications/{id}", nh.Cancel)

		// Batches
		r.Get("/batches/{id}", bh.GetBatch)

		// Status Ingress — provider delivery callbacks
		r.Post("/callbacks/{provider}", sh.Callback)

		// JSON metrics snapshot
		r.Get("/metrics", mh.GetMetrics)
	})

	return r
}
