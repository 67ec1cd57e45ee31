/*
Package httpapi exposes the engine over HTTP.

Visitor-scoped routes identify the visitor with the X-Device-ID header and an
optional X-Identity-ID header. Responses are JSON; /metrics serves Prometheus.
*/
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/khanglvm/personalize/internal/engine"
	"github.com/khanglvm/personalize/internal/logging"
)

// Visitor headers.
const (
	DeviceHeader   = "X-Device-ID"
	IdentityHeader = "X-Identity-ID"
)

// Handler serves the HTTP API.
type Handler struct {
	ops      engine.Operations
	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler creates a handler over ops.
func NewHandler(ops engine.Operations) *Handler {
	return &Handler{
		ops:      ops,
		validate: validator.New(),
		log:      logging.Component("http"),
	}
}

// Routes returns the router with every endpoint mounted.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(10 * time.Second))

		// Visitor-scoped.
		r.Group(func(r chi.Router) {
			r.Use(requireVisitor)

			r.Post("/signals/category", h.TrackCategory)
			r.Post("/signals/item", h.TrackItem)
			r.Post("/signals/search", h.TrackSearch)
			r.Get("/profile", h.Profile)

			r.Get("/recommendations/for-you", h.ForYou)
			r.Get("/recommendations/continue", h.ContinueShopping)
			r.Get("/recommendations/searches", h.FromSearches)

			r.Get("/experiments/{name}/assignment", h.Assignment)
			r.Post("/experiments/{name}/conversion", h.Conversion)
		})

		r.Get("/items/{itemID}/similar", h.Similar)
		r.Get("/items/{itemID}/complementary", h.Complementary)

		r.Get("/experiments", h.ListExperiments)
		r.Get("/experiments/{name}/report", h.Report)
	})

	return r
}

// NewServer returns an http.Server for addr serving h.
func NewServer(addr string, h *Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.log.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
