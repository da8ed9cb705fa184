package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cyclekeeper/internal/platform/auth"
)

// RouterConfig wires the router's collaborators.
type RouterConfig struct {
	Cycles  CycleService
	Exports ExportService
	Auth    auth.Validator
	Logger  *slog.Logger
	// Registerer receives the HTTP collectors; nil skips request metrics.
	Registerer prometheus.Registerer
	// Gatherer backs GET /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// NewRouter returns the full API handler.
func NewRouter(cfg RouterConfig) http.Handler {
	h := NewHandler(cfg.Cycles, cfg.Exports, cfg.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Registerer != nil {
		r.Use(newRequestMetrics(cfg.Registerer).middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.RequireAuth(cfg.Auth, h.logger))

		r.Route("/cycles", func(r chi.Router) {
			r.Get("/", h.listCycles)
			r.Post("/", h.createCycle)
			r.Route("/{cycleID}", func(r chi.Router) {
				r.Get("/", h.getCycle)
				r.Patch("/", h.patchCycle)
				r.Delete("/", h.deleteCycle)

				r.Post("/injections", h.addInjection)
				r.Patch("/injections/{injectionID}", h.patchInjection)
				r.Delete("/injections/{injectionID}", h.deleteInjection)

				r.Put("/retrieval", upsert(h, "retrieval", retrievalRequest.record, h.cycles.UpsertRetrieval))
				r.Put("/fertilization", upsert(h, "fertilization", fertilizationRequest.record, h.cycles.UpsertFertilization))
				r.Put("/culture", upsert(h, "culture", cultureRequest.record, h.cycles.UpsertCulture))
				r.Put("/transfer", upsert(h, "transfer", transferRequest.record, h.cycles.UpsertTransfer))
				r.Put("/freeze", upsert(h, "freeze", freezeRequest.record, h.cycles.UpsertFreeze))
				r.Put("/pgt", upsert(h, "pgt", pgtRequest.record, h.cycles.UpsertPGT))
			})
		})

		if cfg.Exports != nil {
			r.Route("/exports", func(r chi.Router) {
				r.Get("/", h.listExports)
				r.Post("/", h.createExport)
				r.Get("/download", h.downloadExport)
				r.Get("/link", h.linkExport)
			})
		}
	})
	return r
}

type requestMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newRequestMetrics(reg prometheus.Registerer) *requestMetrics {
	factory := promauto.With(reg)
	return &requestMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyclekeeper",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cyclekeeper",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *requestMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
