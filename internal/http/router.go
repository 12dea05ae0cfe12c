package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/micro-ha/transmission-sync/internal/http/handlers"
)

// RouterOptions tunes the local API surface.
type RouterOptions struct {
	// RequestLimit is the per-IP budget for /api calls in Window. Zero
	// disables the limiter.
	RequestLimit int
	Window       time.Duration
}

// NewRouter builds the local status and control API.
func NewRouter(api *handlers.API, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecoverJSON(api))
	r.Use(middleware.Timeout(20 * time.Second))
	r.Use(StripIngressPrefix)
	r.Use(RequestLogger(api))

	r.Get("/healthz", api.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(apiRouter chi.Router) {
		if opts.RequestLimit > 0 {
			apiRouter.Use(RateLimit(opts.RequestLimit, opts.Window))
		}

		apiRouter.Get("/channel", api.Channel)
		apiRouter.Get("/channel/transitions", api.ListTransitions)
		apiRouter.Get("/notifications", api.ListNotifications)

		apiRouter.Get("/devices", api.ListDevices)
		apiRouter.Route("/devices/{id}", func(device chi.Router) {
			device.Get("/", func(w http.ResponseWriter, r *http.Request) {
				api.GetDevice(w, r, chi.URLParam(r, "id"))
			})
			device.Put("/", func(w http.ResponseWriter, r *http.Request) {
				api.OpenDevice(w, r, chi.URLParam(r, "id"))
			})
			device.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				api.CloseDevice(w, r, chi.URLParam(r, "id"))
			})
			device.Post("/refresh", func(w http.ResponseWriter, r *http.Request) {
				api.RefreshDevice(w, r, chi.URLParam(r, "id"))
			})
			device.Post("/actions/{action}", func(w http.ResponseWriter, r *http.Request) {
				api.RunAction(w, r, chi.URLParam(r, "id"), chi.URLParam(r, "action"))
			})
			device.Get("/history", func(w http.ResponseWriter, r *http.Request) {
				api.DeviceHistory(w, r, chi.URLParam(r, "id"))
			})
			device.Post("/export", func(w http.ResponseWriter, r *http.Request) {
				api.ExportHistory(w, r, chi.URLParam(r, "id"))
			})
		})
	})
	return r
}
