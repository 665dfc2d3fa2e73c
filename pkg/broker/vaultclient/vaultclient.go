// Package vaultclient implements the broker's hybrid Vault
// authentication: authenticate to Vault as a team via its JWT auth role,
// then mint a bounded, team-scoped child token via that team's token
// role.
package vaultclient

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	vapi "github.com/hashicorp/vault/api"

	"github.com/trenner1/bazel-auth-broker/pkg/brokererrors"
	"github.com/trenner1/bazel-auth-broker/pkg/logger"
)

const (
	// jwtLoginPath is the Vault JWT auth mount's login endpoint.
	jwtLoginPath = "auth/jwt/login"
	// tokenCreatePathFmt is the Vault token auth mount's per-role token
	// creation endpoint.
	tokenCreatePathFmt = "auth/token/create/%s"

	callTimeout = 5 * time.Second

	retryInitialInterval = 250 * time.Millisecond
	retryMaxInterval     = 4 * time.Second
	retryMaxTries        = 3
)

// Config configures the Vault client.
type Config struct {
	// Addr is Vault's base URL.
	Addr string
	// ParentToken is the broker's own authentication material used to
	// reach the JWT login endpoint. In the demo deployment this is a
	// root-equivalent token; production equivalents (AppRole, an
	// approved identity) present the same wire contract to this client.
	ParentToken string
}

// ParentAuth is the outcome of authenticating to Vault as a team.
// EntityID is stable across logins sharing the same team (and therefore
// the same JWT `sub`), so any number of users on one team reuse one
// Vault identity entity.
type ParentAuth struct {
	ClientToken string
	Policies    []string
	EntityID    string
	TTL         time.Duration
}

// ChildTokenRequest bounds a child-token mint.
type ChildTokenRequest struct {
	TokenRole string
	Policies  []string
	Metadata  map[string]string
	TTL       time.Duration
	Uses      int
}

// ChildToken is the bounded-use Vault token returned to the client.
type ChildToken struct {
	Token         string
	TTLSeconds    int
	UsesRemaining int
	Policies      []string
	Metadata      map[string]string
}

// Client is the broker's Vault HTTP API client.
type Client struct {
	addr        string
	parentToken string
	newAPI      func(addr string) (*vapi.Client, error)
}

// New builds a Client targeting cfg.Addr, authenticated with cfg.ParentToken
// for the JWT login step.
func New(cfg Config) (*Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("vaultclient: Addr is required")
	}
	return &Client{
		addr:        cfg.Addr,
		parentToken: cfg.ParentToken,
		newAPI:      newAPIClient,
	}, nil
}

func newAPIClient(addr string) (*vapi.Client, error) {
	cfg := vapi.DefaultConfig()
	cfg.Address = addr
	return vapi.NewClient(cfg)
}

// AuthenticateAsTeam authenticates to Vault's JWT auth mount using
// brokerJWT against the role named team. The role's bound_subject must
// equal team for this to succeed; the broker never passes any other role
// name here, so the JWT's sub and the role it logs in against cannot
// diverge.
func (c *Client) AuthenticateAsTeam(ctx context.Context, team, brokerJWT string) (*ParentAuth, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	client, err := c.newAPI(c.addr)
	if err != nil {
		return nil, brokererrors.NewVaultUnreachableError("building vault client", err)
	}
	if c.parentToken != "" {
		client.SetToken(c.parentToken)
	}

	secret, err := c.retryWrite(ctx, client, jwtLoginPath, map[string]interface{}{
		"jwt":  brokerJWT,
		"role": team,
	})
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.Auth == nil {
		return nil, brokererrors.NewVaultAuthRejectedError("vault returned no auth block for jwt login", nil)
	}

	ttl := time.Duration(secret.Auth.LeaseDuration) * time.Second
	logger.Debugw("vault jwt login succeeded", "team", team, "entity_id", secret.Auth.EntityID)

	return &ParentAuth{
		ClientToken: secret.Auth.ClientToken,
		Policies:    secret.Auth.Policies,
		EntityID:    secret.Auth.EntityID,
		TTL:         ttl,
	}, nil
}

// CreateChildToken mints a child token from req.TokenRole using parent
// as the authenticating token. parent is used at most once by the
// caller; this method never re-reads or reuses it.
func (c *Client) CreateChildToken(ctx context.Context, parent *ParentAuth, req ChildTokenRequest) (*ChildToken, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	client, err := c.newAPI(c.addr)
	if err != nil {
		return nil, brokererrors.NewVaultUnreachableError("building vault client", err)
	}
	client.SetToken(parent.ClientToken)

	body := map[string]interface{}{
		"ttl":       req.TTL.String(),
		"num_uses":  req.Uses,
		"renewable": false,
	}
	// Policies are left to the token role's own allowed_policies default
	// unless the caller explicitly narrows them; policy enforcement lives
	// in the role, not in this request body.
	if len(req.Policies) > 0 {
		body["policies"] = req.Policies
	}
	if len(req.Metadata) > 0 {
		body["meta"] = req.Metadata
	}

	path := fmt.Sprintf(tokenCreatePathFmt, req.TokenRole)
	secret, err := c.retryWrite(ctx, client, path, body)
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.Auth == nil {
		return nil, brokererrors.NewVaultPolicyDeniedError("vault returned no auth block for child token create", nil)
	}

	// The token-create auth block carries no use count, so the count this
	// request asked for is reported.
	return &ChildToken{
		Token:         secret.Auth.ClientToken,
		TTLSeconds:    secret.Auth.LeaseDuration,
		UsesRemaining: req.Uses,
		Policies:      secret.Auth.Policies,
		Metadata:      req.Metadata,
	}, nil
}

// Healthy probes Vault's sys/health endpoint with a short timeout, for
// the broker's own /health response.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	client, err := c.newAPI(c.addr)
	if err != nil {
		return false
	}
	resp, err := client.Sys().HealthWithContext(ctx)
	return err == nil && resp != nil
}

// retryWrite performs a Logical().Write against Vault, retrying only
// transport/5xx failures with exponential backoff: at most 3 attempts,
// with waits of about 250ms and then about 1s between them (each
// jittered by up to ±50%; any wait is capped at 4s). A 4xx response (bad
// role, policy denial) is classified immediately and never retried.
func (c *Client) retryWrite(ctx context.Context, client *vapi.Client, path string, body map[string]interface{}) (*vapi.Secret, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.Multiplier = 4

	return backoff.Retry(ctx, func() (*vapi.Secret, error) {
		secret, err := client.Logical().WriteWithContext(ctx, path, body)
		if err == nil {
			return secret, nil
		}
		classified := classifyWriteError(path, err)
		if brokererrors.Is(classified, brokererrors.ErrVaultUnreachable) {
			return nil, classified
		}
		return nil, backoff.Permanent(classified)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(retryMaxTries))
}

// classifyWriteError maps a vault/api error into the broker's error
// taxonomy. VAULT_UNREACHABLE is the only retryable classification.
func classifyWriteError(path string, err error) error {
	respErr, ok := err.(*vapi.ResponseError)
	if !ok {
		return brokererrors.NewVaultUnreachableError("vault transport error on "+path, err)
	}

	switch {
	case respErr.StatusCode == 404 || respErr.StatusCode == 400:
		return brokererrors.NewVaultRoleMissingError("vault role or mount missing for "+path, err)
	case respErr.StatusCode == 403:
		return brokererrors.NewVaultPolicyDeniedError("vault denied request to "+path, err)
	case respErr.StatusCode >= 500:
		return brokererrors.NewVaultUnreachableError("vault server error on "+path, err)
	default:
		return brokererrors.NewVaultAuthRejectedError("vault rejected request to "+path, err)
	}
}
