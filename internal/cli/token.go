package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/garyjia/approval-routing/internal/interfaces/http"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	User       string
	Privileged bool
	TTL        time.Duration
}

// TokenResult is the issued bearer token
type TokenResult struct {
	User       string    `json:"user"`
	Privileged bool      `json:"privileged"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		Long: `Issue a signed bearer token for the action API. The signing secret
comes from the config file or AUTH_JWT_SECRET.

Examples:
  approvalctl token --config configs/config.yaml --user mgr-a
  AUTH_JWT_SECRET=... approvalctl token --user controller --privileged --ttl 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "user ID the token acts as (required)")
	_ = cmd.MarkFlagRequired("user")
	cmd.Flags().BoolVar(&opts.Privileged, "privileged", false, "grant the privileged override")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 8*time.Hour, "token lifetime")

	return cmd
}

func runToken(opts *TokenOptions, cmd *cobra.Command) error {
	authCfg := httpapi.AuthConfig{Secret: os.Getenv("AUTH_JWT_SECRET"), Issuer: "approval-routing"}
	if opts.ConfigPath != "" {
		s, err := resolveSettings(opts.RootOptions)
		if err != nil {
			return err
		}
		authCfg = httpapi.AuthConfig{Secret: s.auth.Secret, Issuer: s.auth.Issuer}
	}
	if opts.TTL <= 0 {
		return NewExitError(ExitCommandError, "ttl must be positive")
	}

	auth, err := httpapi.NewAuthenticator(authCfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot sign tokens", err)
	}

	expiresAt := time.Now().Add(opts.TTL).UTC().Truncate(time.Second)
	raw, err := auth.Issue(opts.User, opts.Privileged, opts.TTL)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to issue token", err)
	}

	if opts.Format == "json" {
		return printJSON(cmd.OutOrStdout(), TokenResult{
			User:       opts.User,
			Privileged: opts.Privileged,
			Token:      raw,
			ExpiresAt:  expiresAt,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), raw)
	return nil
}
