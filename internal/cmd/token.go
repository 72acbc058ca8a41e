package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	jwttoken "nova/internal/jwt_token"
	"nova/pkg/platform/middleware/admin"
)

func newTokenCommand(a *app) *cobra.Command {
	var userID string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		Long: `Mint an HS256 access token signed with auth.jwt_signing_key. Requests
carrying it are charged to --user instead of the client address.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Auth.JWTSigningKey == "" {
				return errors.New("auth.jwt_signing_key is not configured")
			}
			token, err := jwttoken.NewIssuer(jwtConfig(a.cfg)).Mint(userID, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to embed in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newHashAdminTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-admin-token [token]",
		Short: "Print the bcrypt hash to store in auth.admin_token_hash",
		Long: `Hash an admin token for auth.admin_token_hash. The token is read from the
argument or, when omitted, from the first line of stdin.`,
		Args: cobra.MaximumNArgs(1),
		// The hash needs no configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token: %w", err)
				}
				token = line
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return errors.New("token must not be empty")
			}

			hash, err := admin.HashToken(token)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}
