package e2e

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"testing"

	"github.com/cucumber/godog"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	httpapi "nova/internal/http"
	"nova/internal/platform/config"
	"nova/internal/ratelimit/identifier"
	"nova/internal/ratelimit/service"
	"nova/internal/ratelimit/store/memory"
)

const adminToken = "e2e-admin-token"

func TestFeatures(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			initializeScenario(t, sc, string(hash))
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("feature scenarios failed")
	}
}

// initializeScenario gives every scenario a fresh gateway over an empty store
// that trusts forwarding headers from the loopback test client.
func initializeScenario(t *testing.T, sc *godog.ScenarioContext, adminHash string) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	limiter, err := service.New(memory.New(), service.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	resolver := identifier.NewResolver(identifier.Config{
		TrustedProxies: []netip.Prefix{netip.MustParsePrefix("127.0.0.0/8"), netip.MustParsePrefix("::1/128")},
		UsePeerAddress: true,
	})

	router, err := httpapi.NewRouter(httpapi.Deps{
		Logger:         logger,
		Limiter:        limiter,
		Resolver:       resolver,
		AdminTokenHash: adminHash,
		Routes:         config.DefaultRoutes(),
		Gatherer:       prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatal(err)
	}

	tc := NewTestContext(router, adminToken)
	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		tc.Close()
		return ctx, nil
	})
	RegisterSteps(sc, tc)
}
