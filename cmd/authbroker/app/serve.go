package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trenner1/bazel-auth-broker/pkg/broker/config"
	"github.com/trenner1/bazel-auth-broker/pkg/broker/httpapi"
	"github.com/trenner1/bazel-auth-broker/pkg/broker/jwtissuer"
	"github.com/trenner1/bazel-auth-broker/pkg/broker/keys"
	"github.com/trenner1/bazel-auth-broker/pkg/broker/oidcclient"
	"github.com/trenner1/bazel-auth-broker/pkg/broker/session"
	"github.com/trenner1/bazel-auth-broker/pkg/broker/vaultclient"
	"github.com/trenner1/bazel-auth-broker/pkg/logger"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broker's HTTP server",
		Long: `Run the broker's HTTP server: the browser login flow, the CLI
polling flow, JWKS publication, and the /exchange endpoint that mints
team-scoped Vault child tokens.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, cfg, err := buildServer(ctx)
	if err != nil {
		return err
	}

	logger.Infow("bazel-auth-broker starting", "bind", cfg.Bind, "issuer", cfg.Issuer)
	if err := srv.Serve(ctx, cfg.Bind); err != nil {
		return NewRuntimeError(fmt.Errorf("http server: %w", err))
	}
	return nil
}

// buildServer wires every downstream collaborator into a ready-to-serve
// httpapi.Server: dependencies are constructed leaf-first and handed
// downward into the Server, which never hands itself back to them.
func buildServer(ctx context.Context) (*httpapi.Server, *config.BrokerConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, NewConfigError(fmt.Errorf("loading broker config: %w", err))
	}

	teams, err := config.LoadTeamConfig(cfg.TeamsFile)
	if err != nil {
		return nil, nil, NewConfigError(fmt.Errorf("loading team config: %w", err))
	}

	keyManager, err := keys.NewFileProvider(keys.Config{SigningKeyFile: cfg.SigningKeyPath})
	if err != nil {
		return nil, nil, NewConfigError(fmt.Errorf("loading signing key: %w", err))
	}

	oidc, err := oidcclient.New(ctx, oidcclient.Config{
		IssuerURL:    cfg.IssuerURL(),
		ClientID:     cfg.OktaClientID,
		ClientSecret: cfg.OktaClientSecret,
		RedirectURI:  cfg.OktaRedirectURI,
	})
	if err != nil {
		return nil, nil, NewConfigError(fmt.Errorf("initializing oidc client: %w", err))
	}

	vault, err := vaultclient.New(vaultclient.Config{
		Addr:        cfg.VaultAddr,
		ParentToken: cfg.VaultRootToken,
	})
	if err != nil {
		return nil, nil, NewConfigError(fmt.Errorf("initializing vault client: %w", err))
	}

	sessions := session.NewStore(cfg.SessionTTL, session.WithMaxSessions(cfg.SessionMax))
	issuer := jwtissuer.New(cfg.Issuer, cfg.JWTAudience, keyManager)

	srv := httpapi.NewServer(oidc, sessions, teams, issuer, vault, keyManager, cfg.SessionTTL, cfg.ExchangeTTL)
	return srv, cfg, nil
}
