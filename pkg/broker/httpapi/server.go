// Package httpapi implements the broker's HTTP surface and the flow
// orchestration that sequences the IdP client, session store, team
// resolver, JWT issuer, and Vault client across a login's state machine
// transitions.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/trenner1/bazel-auth-broker/pkg/broker/config"
	"github.com/trenner1/bazel-auth-broker/pkg/broker/jwtissuer"
	"github.com/trenner1/bazel-auth-broker/pkg/broker/keys"
	"github.com/trenner1/bazel-auth-broker/pkg/broker/oidcclient"
	"github.com/trenner1/bazel-auth-broker/pkg/broker/session"
	"github.com/trenner1/bazel-auth-broker/pkg/broker/vaultclient"
	"github.com/trenner1/bazel-auth-broker/pkg/logger"
)

const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Server holds every downstream collaborator the handlers dispatch to.
// Dependencies point only downward: Server calls into the IdP client,
// session store, team resolver, issuer, and Vault client and gets plain
// data back; none of them ever calls back into Server.
type Server struct {
	oidc       *oidcclient.Client
	sessions   *session.Store
	teams      *config.TeamConfig
	issuer     *jwtissuer.Issuer
	vault      *vaultclient.Client
	keyManager *keys.Manager

	sessionTTL  time.Duration
	exchangeTTL time.Duration
	authMethod  string
}

// NewServer builds a Server from its downstream collaborators.
func NewServer(
	oidc *oidcclient.Client,
	sessions *session.Store,
	teams *config.TeamConfig,
	issuer *jwtissuer.Issuer,
	vault *vaultclient.Client,
	keyManager *keys.Manager,
	sessionTTL, exchangeTTL time.Duration,
) *Server {
	return &Server{
		oidc:        oidc,
		sessions:    sessions,
		teams:       teams,
		issuer:      issuer,
		vault:       vault,
		keyManager:  keyManager,
		sessionTTL:  sessionTTL,
		exchangeTTL: exchangeTTL,
		authMethod:  "okta_oidc",
	}
}

// Router builds the chi router exposing the broker's routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(middlewareTimeout),
		requestLoggingMiddleware,
	)

	r.Get("/health", s.handleHealth)
	r.Get("/.well-known/jwks.json", s.handleJWKS)

	r.Post("/cli/start", s.handleCLIStart)

	r.Get("/", s.handleIndex)
	r.Get("/auth/login", s.handleAuthLogin)
	r.Get("/auth/callback", s.handleAuthCallback)
	r.Get("/auth/select-team", s.handleSelectTeamGet)
	r.Post("/auth/select-team", s.handleSelectTeamPost)

	r.Post("/exchange", s.handleExchange)

	return r
}

// Serve runs the HTTP server on addr until ctx is cancelled, then shuts
// it down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("starting http server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info("http server stopped")
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Infow("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
