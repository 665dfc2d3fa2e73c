// Package config loads and validates the broker's runtime configuration
// from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/trenner1/bazel-auth-broker/pkg/logger"
)

// BrokerConfig is the broker's fully-resolved, process-wide configuration.
// All values are concrete (no further env lookups); Validate reports any
// missing or malformed setting before the server starts.
type BrokerConfig struct {
	// OktaDomain, OktaClientID, OktaClientSecret, OktaAuthServerID, and
	// OktaRedirectURI configure the IdP client. OktaClientSecret is
	// optional: a public client relying on PKCE alone is allowed.
	OktaDomain       string
	OktaClientID     string
	OktaClientSecret string
	OktaAuthServerID string
	OktaRedirectURI  string

	// VaultAddr is Vault's base URL. VaultRootToken is the broker's own
	// parent authentication material; in production this is replaced by
	// an AppRole or equivalent, but the wire contract to C6 is the same.
	VaultAddr      string
	VaultRootToken string

	// SigningKeyPath is the PEM file holding the broker's RSA private key.
	SigningKeyPath string

	// Bind is the HTTP listen address.
	Bind string

	// Issuer and JWTAudience are stamped into every broker JWT's iss/aud.
	Issuer      string
	JWTAudience string

	// SessionTTL bounds a session in PENDING_CALLBACK/AWAITING_TEAM_SELECTION.
	// ExchangeTTL is the TTL a session is given once it reaches
	// READY_FOR_EXCHANGE. SessionMax bounds the session store's size.
	SessionTTL  time.Duration
	ExchangeTTL time.Duration
	SessionMax  int

	// TeamsFile points at the YAML file describing TeamConfig. Empty uses
	// a built-in single-team default suitable for a zero-config demo run.
	TeamsFile string
}

// Load reads BrokerConfig from the process environment via viper and,
// when the root command's --config flag names a YAML file, from that file
// (environment variables take precedence), applies defaults, and
// validates the result.
func Load() (*BrokerConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	if path := viper.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	v.SetDefault("BROKER_BIND", ":8081")
	v.SetDefault("BROKER_ISSUER", "bazel-auth-broker")
	v.SetDefault("BROKER_JWT_AUDIENCE", "bazel-vault")
	v.SetDefault("BROKER_SESSION_TTL_SECS", 600)
	v.SetDefault("BROKER_EXCHANGE_TTL_SECS", 300)
	v.SetDefault("BROKER_SESSION_MAX", 10000)

	cfg := &BrokerConfig{
		OktaDomain:       v.GetString("OKTA_DOMAIN"),
		OktaClientID:     v.GetString("OKTA_CLIENT_ID"),
		OktaClientSecret: v.GetString("OKTA_CLIENT_SECRET"),
		OktaAuthServerID: v.GetString("OKTA_AUTH_SERVER_ID"),
		OktaRedirectURI:  v.GetString("OKTA_REDIRECT_URI"),
		VaultAddr:        v.GetString("VAULT_ADDR"),
		VaultRootToken:   v.GetString("VAULT_ROOT_TOKEN"),
		SigningKeyPath:   v.GetString("BROKER_SIGNING_KEY_PATH"),
		Bind:             v.GetString("BROKER_BIND"),
		Issuer:           v.GetString("BROKER_ISSUER"),
		JWTAudience:      v.GetString("BROKER_JWT_AUDIENCE"),
		SessionTTL:       time.Duration(v.GetInt("BROKER_SESSION_TTL_SECS")) * time.Second,
		ExchangeTTL:      time.Duration(v.GetInt("BROKER_EXCHANGE_TTL_SECS")) * time.Second,
		SessionMax:       v.GetInt("BROKER_SESSION_MAX"),
		TeamsFile:        v.GetString("BROKER_TEAMS_FILE"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that BrokerConfig is complete enough to start the server.
func (c *BrokerConfig) Validate() error {
	logger.Debugw("validating broker config", "issuer", c.Issuer, "bind", c.Bind)

	if c.OktaDomain == "" {
		return fmt.Errorf("OKTA_DOMAIN is required")
	}
	if c.OktaClientID == "" {
		return fmt.Errorf("OKTA_CLIENT_ID is required")
	}
	if c.OktaRedirectURI == "" {
		return fmt.Errorf("OKTA_REDIRECT_URI is required")
	}
	if c.VaultAddr == "" {
		return fmt.Errorf("VAULT_ADDR is required")
	}
	if c.SigningKeyPath == "" {
		return fmt.Errorf("BROKER_SIGNING_KEY_PATH is required")
	}
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if c.JWTAudience == "" {
		return fmt.Errorf("jwt audience is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.ExchangeTTL <= 0 {
		return fmt.Errorf("exchange TTL must be positive")
	}
	if c.SessionMax <= 0 {
		return fmt.Errorf("session max must be positive")
	}

	logger.Debugw("broker config validation passed",
		"issuer", c.Issuer,
		"sessionTTL", c.SessionTTL,
		"exchangeTTL", c.ExchangeTTL,
		"sessionMax", c.SessionMax,
	)
	return nil
}

// IssuerURL is the base OIDC issuer URL derived from OktaDomain and,
// when set, the custom authorization server ID.
func (c *BrokerConfig) IssuerURL() string {
	if c.OktaAuthServerID != "" {
		return "https://" + c.OktaDomain + "/oauth2/" + c.OktaAuthServerID
	}
	return "https://" + c.OktaDomain
}
