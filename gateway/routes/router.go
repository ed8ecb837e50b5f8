package routes

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vesselchain/gateway/middleware"
)

// Config bundles the collaborators served by the read-only API.
type Config struct {
	Vessels     VesselQuerier
	Assets      AssetLister
	Stability   StabilityQuerier
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger
}

// New builds the daemon router.
func New(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	api := &vesselRoutes{vessels: cfg.Vessels, assets: cfg.Assets, stability: cfg.Stability}
	r.Route("/v1", func(sr chi.Router) {
		mount := func(name, pattern string, handler http.HandlerFunc) {
			sr.With(
				middleware.Observe(name, logger),
				cfg.RateLimiter.Middleware(name),
			).Get(pattern, handler)
		}
		mount("assets", "/assets", api.listAssets)
		mount("snapshot", "/assets/{asset}", api.snapshot)
		mount("vessel", "/assets/{asset}/vessels/{owner}", api.vessel)
		mount("redemption_hints", "/assets/{asset}/redemption-hints", api.redemptionHints)
		mount("stability_deposit", "/stability/deposits/{depositor}", api.stabilityDeposit)
	})
	return r
}
