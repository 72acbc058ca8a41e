package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"nova/internal/ratelimit/models"
	"nova/internal/ratelimit/ports"
	"nova/internal/ratelimit/service"
	"nova/internal/ratelimit/sweeper"
	"nova/pkg/requestcontext"
)

// operatorActor is recorded as the actor of resets issued from the CLI.
const operatorActor = "nova-cli"

type target struct {
	identifier string
	endpoint   string
}

func (t *target) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.identifier, "identifier", "", "user:<principal id> or client address the counter belongs to")
	cmd.Flags().StringVar(&t.endpoint, "endpoint", "", "endpoint name the counter is scoped to")
	_ = cmd.MarkFlagRequired("identifier")
	_ = cmd.MarkFlagRequired("endpoint")
}

func newStatusCommand(a *app) *cobra.Command {
	var t target
	var class string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a quota counter without consuming it",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &models.StatusRequest{
				Identifier: t.identifier,
				Endpoint:   t.endpoint,
				Class:      models.EndpointClass(class),
			}
			req.Normalize()
			if err := req.Validate(); err != nil {
				return err
			}

			return a.withLimiter(cmd, func(limiter *service.Service) error {
				result, err := limiter.StatusClass(cmd.Context(), req.Identifier, req.Endpoint, req.Class)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), &models.StatusResponse{
					Identifier: req.Identifier,
					Endpoint:   req.Endpoint,
					Class:      req.Class,
					Allowed:    result.Allowed,
					Limit:      result.Limit,
					Remaining:  result.Remaining,
					ResetAt:    result.ResetAt,
					RetryAfter: result.RetryAfter,
				})
			})
		},
	}
	t.bind(cmd)
	cmd.Flags().StringVar(&class, "class", string(models.ClassAIGeneration), "preset class whose limit applies")
	return cmd
}

func newClearCommand(a *app) *cobra.Command {
	var t target

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Reset a quota counter",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &models.ClearRequest{Identifier: t.identifier, Endpoint: t.endpoint}
			req.Normalize()
			if err := req.Validate(); err != nil {
				return err
			}

			return a.withLimiter(cmd, func(limiter *service.Service) error {
				ctx := requestcontext.WithUserID(cmd.Context(), operatorActor)
				if err := limiter.Clear(ctx, req.Identifier, req.Endpoint); err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), &models.ClearResponse{
					Identifier: req.Identifier,
					Endpoint:   req.Endpoint,
					Cleared:    true,
				})
			})
		},
	}
	t.bind(cmd)
	return cmd
}

func newSweepCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired counters once",
		Long: `Run a single expiry pass against backends without native key expiry
(memory, SQL, consul, zookeeper). Redis and etcd expire keys themselves.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeStore, err := openStore(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			sweepable, ok := store.(ports.Sweepable)
			if !ok {
				return fmt.Errorf("store backend %q expires entries natively", a.cfg.Store.Backend)
			}
			sw, err := sweeper.New(sweepable, sweeper.WithLogger(a.logger))
			if err != nil {
				return err
			}

			started := time.Now()
			removed, err := sw.RunOnce(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"backend":     a.cfg.Store.Backend,
				"removed":     removed,
				"duration_ms": time.Since(started).Milliseconds(),
			})
		},
	}
}

// withLimiter opens the store, builds the limiter and runs fn. Operator
// commands always surface store failures, whatever the failure policy.
func (a *app) withLimiter(cmd *cobra.Command, fn func(*service.Service) error) error {
	ctx := cmd.Context()
	store, closeStore, err := openStore(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, closePublisher, err := openAuditPublisher(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer closePublisher(ctx)

	limiter, err := newLimiter(a.cfg, store, a.logger, nil, publisher)
	if err != nil {
		return err
	}
	return fn(limiter)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
