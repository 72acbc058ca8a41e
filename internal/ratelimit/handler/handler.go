// Package handler serves the admin quota endpoints: inspect a counter
// without consuming it, and reset it.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"nova/internal/ratelimit/models"
	"nova/pkg/platform/httputil"
	"nova/pkg/platform/privacy"
)

type Service interface {
	StatusClass(ctx context.Context, identifier, endpoint string, class models.EndpointClass) (*models.RateLimitResult, error)
	Clear(ctx context.Context, identifier, endpoint string) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterAdmin mounts the admin routes. Callers guard r with the admin
// token middleware.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/admin/rate-limit/status", h.HandleStatus)
	r.Delete("/admin/rate-limit", h.HandleClear)
}

// HandleStatus handles GET /admin/rate-limit/status?identifier=&endpoint=&class=.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	req := &models.StatusRequest{
		Identifier: q.Get("identifier"),
		Endpoint:   q.Get("endpoint"),
		Class:      models.EndpointClass(q.Get("class")),
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.StatusClass(ctx, req.Identifier, req.Endpoint, req.Class)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read rate limit status",
			"error", err,
			"identifier", privacy.AnonymizeIP(req.Identifier),
			"endpoint", req.Endpoint,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, &models.StatusResponse{
		Identifier: req.Identifier,
		Endpoint:   req.Endpoint,
		Class:      req.Class,
		Allowed:    result.Allowed,
		Limit:      result.Limit,
		Remaining:  result.Remaining,
		ResetAt:    result.ResetAt,
		RetryAfter: result.RetryAfter,
	})
}

// HandleClear handles DELETE /admin/rate-limit?identifier=&endpoint=.
func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	req := &models.ClearRequest{
		Identifier: q.Get("identifier"),
		Endpoint:   q.Get("endpoint"),
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.service.Clear(ctx, req.Identifier, req.Endpoint); err != nil {
		h.logger.ErrorContext(ctx, "failed to clear rate limit",
			"error", err,
			"identifier", privacy.AnonymizeIP(req.Identifier),
			"endpoint", req.Endpoint,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, &models.ClearResponse{
		Identifier: req.Identifier,
		Endpoint:   req.Endpoint,
		Cleared:    true,
	})
}
