// Package cmd implements the nova command line: the gateway server and the
// operator commands that inspect, reset and sweep quota counters.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"nova/internal/platform/config"
	"nova/internal/platform/logger"
)

// Execute runs the root command. Called once by main.
func Execute() error {
	return NewRootCommand().Execute()
}

// app is the state shared by every subcommand after the config is loaded.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "nova",
		Short: "Quota enforcement gateway",
		Long: `nova enforces fixed-window request quotas in front of an upstream service.

Counters live in a shared store (memory, redis, SQL, etcd, consul or
zookeeper) so every replica sees the same limits.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default searches ./nova.yaml, ~/.nova, /etc/nova)")

	root.AddCommand(
		newServeCommand(a),
		newStatusCommand(a),
		newClearCommand(a),
		newSweepCommand(a),
		newTokenCommand(a),
		newHashAdminTokenCommand(),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(config.NewViper(a.cfgFile))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	a.logger = logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(a.logger)
	return nil
}
