package oidcclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/trenner1/bazel-auth-broker/pkg/brokererrors"
)

// defaultScopes is used whenever Config.Scopes is empty.
var defaultScopes = []string{"openid", "profile", "email", "groups"}

// callTimeout bounds every outbound call this client makes to the IdP.
const callTimeout = 5 * time.Second

// Config configures the IdP client.
type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	Audience     string
}

// Claims is the set of ID-token or userinfo claims this broker requires.
type Claims struct {
	Subject     string   `json:"sub"`
	Email       string   `json:"email"`
	DisplayName string   `json:"name"`
	Groups      []string `json:"groups"`
}

// Client is the broker's OIDC relying-party client: discovery, PKCE
// authorization URL construction, code exchange, and ID token
// verification, all scoped to a single configured IdP.
type Client struct {
	cfg      Config
	provider *gooidc.Provider
	verifier *gooidc.IDTokenVerifier
	oauth2   oauth2.Config
	httpc    *http.Client
}

// New discovers the IdP's OIDC configuration and builds a ready-to-use
// Client. Discovery itself is not time-bounded by callTimeout; callers
// should wrap ctx with their own startup deadline if desired.
func New(ctx context.Context, cfg Config) (*Client, error) {
	httpc := &http.Client{Timeout: 30 * time.Second}
	ctx = gooidc.ClientContext(ctx, httpc)

	provider, err := gooidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, brokererrors.NewIDPUnreachableError("OIDC discovery failed", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	return &Client{
		cfg:      cfg,
		provider: provider,
		verifier: provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint:     provider.Endpoint(),
		},
		httpc: httpc,
	}, nil
}

// BuildAuthorizeURL builds the authorization-code-with-PKCE URL the
// browser is redirected to.
func (c *Client) BuildAuthorizeURL(state, codeChallenge, nonce string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("nonce", nonce),
	}
	if c.cfg.Audience != "" {
		opts = append(opts, oauth2.SetAuthURLParam("audience", c.cfg.Audience))
	}
	return c.oauth2.AuthCodeURL(state, opts...)
}

// ExchangeResult is the outcome of a successful code exchange.
type ExchangeResult struct {
	IDToken     string
	AccessToken string
	ExpiresIn   int
}

// ExchangeCode exchanges an authorization code and its PKCE verifier for
// tokens at the IdP's token endpoint. Fails with IDP_UNREACHABLE on
// transport error, IDP_BAD_RESPONSE if the response omits an id_token.
func (c *Client) ExchangeCode(ctx context.Context, code, pkceVerifier string) (*ExchangeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	ctx = gooidc.ClientContext(ctx, c.httpc)

	token, err := c.oauth2.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", pkceVerifier))
	if err != nil {
		// A response the IdP actually produced (non-2xx) is a config or
		// code problem, not a transport failure, and is never retryable.
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, brokererrors.NewIDPBadResponseError("token exchange rejected by idp", err)
		}
		return nil, brokererrors.NewIDPUnreachableError("token exchange failed", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, brokererrors.NewIDPBadResponseError("token response missing id_token", nil)
	}

	expiresIn := 0
	if !token.Expiry.IsZero() {
		expiresIn = int(time.Until(token.Expiry).Seconds())
	}

	return &ExchangeResult{
		IDToken:     rawIDToken,
		AccessToken: token.AccessToken,
		ExpiresIn:   expiresIn,
	}, nil
}

// VerifyIDToken validates rawIDToken's signature, issuer, audience,
// expiry, and nonce, returning its claims. Nonce mismatch is reported
// distinctly (NONCE_MISMATCH) from other validation failures
// (ID_TOKEN_INVALID).
func (c *Client) VerifyIDToken(ctx context.Context, rawIDToken, expectedNonce string) (*Claims, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	ctx = gooidc.ClientContext(ctx, c.httpc)

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, brokererrors.NewIDTokenInvalidError("id token verification failed", err)
	}

	if idToken.Nonce != expectedNonce {
		return nil, brokererrors.NewNonceMismatchError("id token nonce does not match session nonce", nil)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, brokererrors.NewIDTokenInvalidError("failed to decode id token claims", err)
	}
	return &claims, nil
}

// FetchUserinfo fetches email/name/groups from the IdP's userinfo
// endpoint, used when the provider does not include groups in the ID
// token itself.
func (c *Client) FetchUserinfo(ctx context.Context, accessToken string) (*Claims, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	userInfo, err := c.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		return nil, brokererrors.NewIDPUnreachableError("userinfo request failed", err)
	}

	var claims Claims
	if err := userInfo.Claims(&claims); err != nil {
		return nil, brokererrors.NewIDPBadResponseError("failed to decode userinfo claims", err)
	}
	return &claims, nil
}
