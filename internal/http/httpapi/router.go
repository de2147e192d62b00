package httpapi

import (
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"tryon/internal/http/handlers"
	"tryon/internal/middleware"
	"tryon/internal/quota"
)

// Options configures the middleware around the API routes.
type Options struct {
	Quota          quota.Store
	AllowedOrigins []string
	// TrustedProxies may set X-Forwarded-For for quota identity.
	TrustedProxies []netip.Prefix
	Logger         zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID(opts.Logger),
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
	)

	r.Get("/healthz", app.Health)
	r.Method(http.MethodGet, "/metrics", app.Metrics())
	r.Get("/openapi.json", app.OpenAPIJSON)
	r.Get("/docs", app.OpenAPIDocs)

	// Preflight is answered by CORS before routing, so OPTIONS never reaches
	// the quota.
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.CORS(opts.AllowedOrigins))
		r.With(middleware.RateLimit(opts.Quota, opts.TrustedProxies, opts.Logger)).Post("/tryon", app.Tryon)
		r.Post("/resize", app.Resize)
	})

	return r
}
