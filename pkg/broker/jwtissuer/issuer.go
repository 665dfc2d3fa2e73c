// Package jwtissuer mints the broker's own short-lived RS256 JWTs:
// the credential the broker presents to Vault's JWT auth mount on a
// user's behalf, scoped to the team the user selected rather than to the
// user's individual identity.
package jwtissuer

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/trenner1/bazel-auth-broker/pkg/broker/session"
)

// TTL is how long a broker JWT is valid for.
const TTL = 5 * time.Minute

// Metadata carries the free-form, caller-supplied fields woven into the
// broker JWT and, from there, into the Vault child token's metadata.
type Metadata struct {
	Pipeline string
	Repo     string
	Target   string
	RunID    string
}

// Claims is the broker JWT's payload. Sub is always
// the selected team, never the user's own identity — that distinction is
// what lets many users collapse onto one stable Vault entity per team.
type Claims struct {
	jwt.RegisteredClaims
	UserEmail string   `json:"user_email"`
	UserName  string   `json:"user_name"`
	UserSub   string   `json:"user_sub"`
	Groups    []string `json:"groups"`
	Pipeline  string   `json:"pipeline,omitempty"`
	Repo      string   `json:"repo,omitempty"`
	Target    string   `json:"target,omitempty"`
	RunID     string   `json:"run_id,omitempty"`
}

// Manager is the interface jwtissuer needs from pkg/broker/keys.Manager,
// narrowed to avoid importing context into this package's public surface
// just to satisfy an interface method signature.
type Manager interface {
	SigningKeyRSA() (*rsa.PrivateKey, string, error)
}

// Issuer mints broker JWTs using a key manager for its signing key.
type Issuer struct {
	issuer   string
	audience string
	keys     Manager
}

// New builds an Issuer stamping iss=issuer and aud=audience on every JWT
// it mints.
func New(issuer, audience string, km Manager) *Issuer {
	return &Issuer{issuer: issuer, audience: audience, keys: km}
}

// Mint builds and signs a broker JWT for a session that has reached team
// selection. sub is always selectedTeam by construction: there is no
// parameter through which a raw group name could reach sub instead.
func (i *Issuer) Mint(user session.User, selectedTeam string, meta Metadata) (string, error) {
	if selectedTeam == "" {
		return "", fmt.Errorf("jwtissuer: selectedTeam must not be empty")
	}

	signer, kid, err := i.keys.SigningKeyRSA()
	if err != nil {
		return "", fmt.Errorf("jwtissuer: loading signing key: %w", err)
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   selectedTeam,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TTL)),
		},
		UserEmail: user.Email,
		UserName:  user.DisplayName,
		UserSub:   user.Subject,
		Groups:    append([]string(nil), user.Groups...),
		Pipeline:  meta.Pipeline,
		Repo:      meta.Repo,
		Target:    meta.Target,
		RunID:     meta.RunID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(signer)
	if err != nil {
		return "", fmt.Errorf("jwtissuer: signing broker jwt: %w", err)
	}
	return signed, nil
}
