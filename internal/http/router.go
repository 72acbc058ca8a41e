// Package httpapi assembles the gateway: quota-protected routes forwarded to
// the upstream, the admin quota API, health and metrics.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	stdhttputil "net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nova/internal/platform/config"
	"nova/internal/platform/metrics"
	"nova/internal/ratelimit/handler"
	"nova/internal/ratelimit/identifier"
	ratelimitmw "nova/internal/ratelimit/middleware"
	"nova/internal/ratelimit/models"
	"nova/pkg/platform/httputil"
	"nova/pkg/platform/middleware/admin"
	"nova/pkg/platform/middleware/auth"
	"nova/pkg/platform/middleware/request"
	"nova/pkg/platform/middleware/requesttime"
	"nova/pkg/requestcontext"
)

// Limiter is the slice of the limiter façade the gateway needs.
type Limiter interface {
	ratelimitmw.RateLimiter
	handler.Service
	Ping(ctx context.Context) error
}

// Deps carries everything NewRouter wires together.
type Deps struct {
	Logger   *slog.Logger
	Limiter  Limiter
	Resolver *identifier.Resolver
	// TokenValidator enables bearer principals. Nil keeps every caller anonymous.
	TokenValidator auth.TokenValidator
	AdminTokenHash string
	Routes         []config.RouteConfig
	// Upstream receives admitted traffic. Nil answers 501.
	Upstream *url.URL
	Disabled bool
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// NewRouter builds the chi router. Routes whose class is not a known preset
// are rejected here rather than at request time.
func NewRouter(d Deps) (http.Handler, error) {
	if d.Limiter == nil {
		return nil, errors.New("limiter is required")
	}
	if d.Resolver == nil {
		return nil, errors.New("identifier resolver is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(d.Resolver.Middleware)
	r.Use(request.Logger(d.Logger))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	r.Get("/healthz", healthHandler(d.Limiter, d.Logger))
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	limiter := ratelimitmw.New(d.Limiter, d.Resolver, d.Logger, ratelimitmw.WithDisabled(d.Disabled))
	upstream := upstreamHandler(d.Upstream, d.Logger)

	var routeErr error
	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth(d.TokenValidator, d.Logger))
		for _, route := range d.Routes {
			class, err := models.ParseEndpointClass(route.Class)
			if err != nil {
				routeErr = err
				return
			}
			r.With(limiter.RateLimit(route.Endpoint, class)).Handle(route.Path, upstream)
		}
	})
	if routeErr != nil {
		return nil, routeErr
	}

	if d.AdminTokenHash != "" {
		r.Group(func(r chi.Router) {
			r.Use(admin.RequireAdminToken(d.AdminTokenHash, d.Logger))
			handler.New(d.Limiter, d.Logger).RegisterAdmin(r)
		})
	}

	return r, nil
}

func healthHandler(limiter Limiter, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := limiter.Ping(ctx); err != nil {
			logger.WarnContext(ctx, "health check failed",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func upstreamHandler(target *url.URL, logger *slog.Logger) http.Handler {
	if target == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteJSON(w, http.StatusNotImplemented, map[string]string{
				"error":             "not_implemented",
				"error_description": "no upstream configured for " + r.URL.Path,
			})
		})
	}

	proxy := stdhttputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		ctx := r.Context()
		logger.ErrorContext(ctx, "upstream request failed",
			"error", err,
			"upstream", target.Host,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteJSON(w, http.StatusBadGateway, map[string]string{
			"error":             "bad_gateway",
			"error_description": "upstream unavailable",
		})
	}
	return proxy
}
