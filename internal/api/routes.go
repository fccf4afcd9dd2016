package api

import (
	"net/http"

	"lettertool/internal/geo"
	"lettertool/internal/models"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

type routeOptions struct {
	middleware  []mux.MiddlewareFunc
	letterLimit func(http.Handler) http.Handler
	geoRouter   *geo.Router
}

// RouteOption configures optional route behavior.
type RouteOption func(*routeOptions)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(o *routeOptions) {
		o.middleware = append(o.middleware, otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" && r.URL.Path != "/api/health"
			}),
		))
	}
}

// WithLetterRateLimit protects the letter submission endpoint.
func WithLetterRateLimit(middleware func(http.Handler) http.Handler) RouteOption {
	return func(o *routeOptions) {
		o.letterLimit = middleware
	}
}

// WithGeoRouter puts the geo router in front of every route. It wraps the
// whole mux, so unmatched paths are redirected too.
func WithGeoRouter(rt *geo.Router) RouteOption {
	return func(o *routeOptions) {
		o.geoRouter = rt
	}
}

// SetupRoutes configures the HTTP routes for the letter tool
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) http.Handler {
	var o routeOptions
	for _, opt := range opts {
		opt(&o)
	}

	router := mux.NewRouter()
	for _, mw := range o.middleware {
		router.Use(mw)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	api.HandleFunc("/stats", handlers.Stats).Methods("GET")
	api.HandleFunc("/letters/{id}", handlers.GetLetter).Methods("GET")

	var submit http.Handler = http.HandlerFunc(handlers.SubmitLetter)
	if o.letterLimit != nil {
		submit = o.letterLimit(submit)
	}
	api.Handle("/{country}/letters", submit).Methods("POST")
	api.HandleFunc("/{country}/letters", methodNotAllowedHandler).Methods("GET", "PUT", "DELETE", "PATCH")

	// Preflight catch-all. A MatcherFunc keeps other methods on unknown paths
	// reporting 404 rather than 405.
	api.PathPrefix("").MatcherFunc(func(r *http.Request, _ *mux.RouteMatch) bool {
		return r.Method == http.MethodOptions
	}).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	router.HandleFunc("/", handlers.Sites).Methods("GET", "HEAD")
	router.HandleFunc("/{country:[a-z]{2}}", handlers.CountrySite).Methods("GET", "HEAD")
	router.PathPrefix("/{country:[a-z]{2}}/").HandlerFunc(handlers.CountrySite).Methods("GET", "HEAD")

	if config.Server.CORS.Enabled {
		router.Use(corsMiddleware(config.Server.CORS))
	}

	router.NotFoundHandler = http.HandlerFunc(notFoundHandler)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	var handler http.Handler = router
	if o.geoRouter != nil {
		handler = o.geoRouter.Middleware(handler)
	}
	handler = loggingMiddleware(handler)
	handler = recoveryMiddleware(handler)

	return handler
}
