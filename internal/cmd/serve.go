package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpapi "nova/internal/http"
	jwttoken "nova/internal/jwt_token"
	"nova/internal/platform/httpserver"
	platformmetrics "nova/internal/platform/metrics"
	"nova/internal/ratelimit/identifier"
	"nova/internal/ratelimit/metrics"
	"nova/internal/ratelimit/ports"
	"nova/internal/ratelimit/sweeper"
	"nova/pkg/platform/middleware/auth"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the quota gateway",
		Long: `Start the HTTP gateway. Configured routes are charged against their quota
and forwarded to the upstream; the admin API, /metrics and /healthz are served
alongside.

SIGINT or SIGTERM drains in-flight requests and flushes pending audit events.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	limiterMetrics := metrics.NewWithRegistry(registry)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	defer closeStore()

	publisher, closePublisher, err := openAuditPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher(context.WithoutCancel(ctx))

	limiter, err := newLimiter(cfg, store, logger, limiterMetrics, publisher)
	if err != nil {
		return err
	}

	identityCfg, err := cfg.IdentifierConfig()
	if err != nil {
		return err
	}

	var validator auth.TokenValidator
	if cfg.Auth.JWTSigningKey != "" {
		validator = jwttoken.NewIssuer(jwtConfig(cfg))
	}

	var upstream *url.URL
	if cfg.Gateway.Upstream != "" {
		upstream, err = url.Parse(cfg.Gateway.Upstream)
		if err != nil {
			return fmt.Errorf("parse gateway upstream: %w", err)
		}
	}

	router, err := httpapi.NewRouter(httpapi.Deps{
		Logger:         logger,
		Limiter:        limiter,
		Resolver:       identifier.NewResolver(identityCfg),
		TokenValidator: validator,
		AdminTokenHash: cfg.Auth.AdminTokenHash,
		Routes:         cfg.Gateway.Routes,
		Upstream:       upstream,
		Disabled:       cfg.RateLimit.Disabled,
		Metrics:        platformmetrics.NewWithRegistry(registry),
		Gatherer:       registry,
	})
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "starting nova",
		"addr", cfg.Server.Addr,
		"store", cfg.Store.Backend,
		"failure_policy", string(limiter.FailurePolicy()),
		"routes", len(cfg.Gateway.Routes),
		"audit_sink", cfg.Audit.Sink,
	)

	g, gctx := errgroup.WithContext(ctx)

	srv := httpserver.New(cfg.Server.Addr, router, cfg.Server.ReadHeaderTimeout)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout, logger)
	})

	if sweepable, ok := store.(ports.Sweepable); ok && cfg.Sweeper.Enabled {
		sw, err := sweeper.New(sweepable,
			sweeper.WithInterval(cfg.Sweeper.Interval),
			sweeper.WithLogger(logger),
			sweeper.WithMetrics(limiterMetrics),
		)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return sw.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("nova stopped")
	return nil
}
