package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"nova/internal/ratelimit/models"
	"nova/internal/ratelimit/response"
	"nova/internal/ratelimit/service"
	"nova/pkg/platform/httputil"
	"nova/pkg/platform/privacy"
)

type RateLimiter interface {
	CheckClass(ctx context.Context, identifier, endpoint string, class models.EndpointClass) (*models.RateLimitResult, error)
}

type IdentifierResolver interface {
	Resolve(r *http.Request) string
}

type Middleware struct {
	limiter  RateLimiter
	resolver IdentifierResolver
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled makes RateLimit return next unchanged (demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func New(limiter RateLimiter, resolver IdentifierResolver, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter:  limiter,
		resolver: resolver,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Warn("rate limiting disabled, every route is unmetered")
	}
	return m
}

// RateLimit charges each request to the resolved caller on endpoint, using
// the preset for class. Admitted requests carry the quota headers; denied
// ones get a 429 and never reach next.
func (m *Middleware) RateLimit(endpoint string, class models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m.disabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identifier := m.resolver.Resolve(r)

			result, err := m.limiter.CheckClass(ctx, identifier, endpoint, class)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to check rate limit",
					"error", err,
					"endpoint", endpoint,
					"class", class,
					"identifier", privacy.AnonymizeIP(identifier),
				)
				if service.IsStoreUnavailable(err) {
					response.WriteUnavailable(w)
					return
				}
				httputil.WriteError(w, err)
				return
			}

			if !result.Allowed {
				response.WriteExceeded(w, result)
				return
			}

			response.SetHeaders(w, result)
			next.ServeHTTP(w, r)
		})
	}
}
