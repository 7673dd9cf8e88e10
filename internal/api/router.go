package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/AlexZinkM/paygate/internal/handler"
	"github.com/AlexZinkM/paygate/internal/logging"
	"github.com/AlexZinkM/paygate/internal/metrics"
)

// Service is everything the routes call.
type Service interface {
	handler.PaymentService
	handler.AdminService
}

// Options configures the router.
type Options struct {
	AdminToken      string
	RateLimitPerMin int
	Gatherer        prometheus.Gatherer
	Metrics         *metrics.Metrics
	Log             *slog.Logger
}

// SetupRouter sets up router with handlers
func SetupRouter(svc Service, opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}
	payments := handler.NewPaymentsHandler(svc, log)
	admin := handler.NewAdminHandler(svc, log)

	r := chi.NewRouter()
	r.Use(Observe(opts.Metrics, log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := svc.DatabaseStatus(false)
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"success": status.Healthy, "healthy": status.Healthy})
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	r.Route("/api/payments", func(pr chi.Router) {
		pr.Use(NewRateLimiter(opts.RateLimitPerMin).Middleware)
		pr.Post("/address", payments.Allocate)
		pr.Post("/record", payments.Record)
		pr.Get("/{address}", payments.Status)
		pr.Post("/{address}/detect", payments.Detect)
	})

	r.Route("/api/admin", func(ar chi.Router) {
		ar.Use(RequireToken(opts.AdminToken, log))
		ar.Post("/release", admin.Release)
		ar.Get("/release/{txHash}", admin.ConfirmRelease)
		ar.Get("/exposure", admin.Exposure)
		ar.Get("/transactions", admin.Transactions)
		ar.Delete("/addresses/{address}", admin.RemoveAddress)

		ar.Route("/database", func(dr chi.Router) {
			dr.Get("/status", admin.DatabaseStatus)
			dr.Post("/backup", admin.CreateBackup)
			dr.Get("/backups", admin.ListBackups)
			dr.Post("/backups/verify", admin.VerifyBackup)
			dr.Post("/backups/upload", admin.Upload)
			dr.Post("/backups/cleanup", admin.Cleanup)
			dr.Post("/restore", admin.Restore)
			dr.Post("/recover", admin.Recover)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
