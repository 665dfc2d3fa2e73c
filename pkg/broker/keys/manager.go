package keys

import (
	"context"
	"crypto"
	"crypto/rsa"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/trenner1/bazel-auth-broker/pkg/logger"
)

// Config describes where the key manager should load key material from.
// SigningKeyFile is the active signer; FallbackKeyFiles are published in
// JWKS alongside it but never used to sign, which lets a future rotation
// publish a new key ahead of switching the active signer.
type Config struct {
	KeyDir           string
	SigningKeyFile   string
	FallbackKeyFiles []string
}

// ActiveKey is the broker's single signing key and its derived JOSE
// parameters.
type ActiveKey struct {
	KeyID     string
	Algorithm string
	Key       crypto.Signer
}

// Manager holds the broker's RSA signing keypair and publishes JWKS. It
// is read-only after construction, so it needs no internal locking.
type Manager struct {
	signing   ActiveKey
	fallbacks []ActiveKey
}

// NewFileProvider loads the signing key (and any fallback keys, published
// in JWKS but never used to sign) from PEM files under cfg.KeyDir.
func NewFileProvider(cfg Config) (*Manager, error) {
	if cfg.SigningKeyFile == "" {
		return nil, fmt.Errorf("signing key file is required")
	}

	signer, err := loadKeyFile(cfg.KeyDir, cfg.SigningKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	m := &Manager{signing: signer}
	for _, f := range cfg.FallbackKeyFiles {
		fk, err := loadKeyFile(cfg.KeyDir, f)
		if err != nil {
			return nil, fmt.Errorf("failed to load fallback key %s: %w", f, err)
		}
		m.fallbacks = append(m.fallbacks, fk)
	}

	logger.Infow("key manager initialized", "keyID", m.signing.KeyID, "algorithm", m.signing.Algorithm, "fallbackCount", len(m.fallbacks))
	return m, nil
}

func loadKeyFile(dir, file string) (ActiveKey, error) {
	path := file
	if dir != "" {
		path = dir + "/" + file
	}
	signer, err := LoadSigningKey(path)
	if err != nil {
		return ActiveKey{}, err
	}
	params, err := DeriveSigningKeyParams(signer, "", "")
	if err != nil {
		return ActiveKey{}, err
	}
	return ActiveKey{KeyID: params.KeyID, Algorithm: params.Algorithm, Key: signer}, nil
}

// SigningKey returns the broker's active signing key.
func (m *Manager) SigningKey(_ context.Context) (ActiveKey, error) {
	return m.signing, nil
}

// SigningKeyRSA returns the active signing key as an *rsa.PrivateKey
// alongside its kid, for callers (pkg/broker/jwtissuer) that sign with
// golang-jwt directly rather than through Manager.Sign.
func (m *Manager) SigningKeyRSA() (*rsa.PrivateKey, string, error) {
	rsaKey, ok := m.signing.Key.(*rsa.PrivateKey)
	if !ok {
		return nil, "", fmt.Errorf("active signing key is not RSA: %T", m.signing.Key)
	}
	return rsaKey, m.signing.KeyID, nil
}

// PublicKeys returns the public half of every key known to this manager
// (the active signer first, then any fallbacks), for JWKS publication.
func (m *Manager) PublicKeys(_ context.Context) ([]ActiveKey, error) {
	all := make([]ActiveKey, 0, 1+len(m.fallbacks))
	all = append(all, m.signing)
	all = append(all, m.fallbacks...)
	return all, nil
}

// Sign computes an RSA PKCS1v15 signature over digest, which must already
// be a SHA-256 digest (Sign does not hash it), using the active signing
// key, returning the signature and its kid.
func (m *Manager) Sign(digest []byte) (signature []byte, kid string, err error) {
	rsaKey, ok := m.signing.Key.(*rsa.PrivateKey)
	if !ok {
		return nil, "", fmt.Errorf("active signing key is not RSA: %T", m.signing.Key)
	}
	sig, err := rsaKey.Sign(nil, digest, crypto.SHA256)
	if err != nil {
		return nil, "", fmt.Errorf("signing failed: %w", err)
	}
	return sig, m.signing.KeyID, nil
}

// JWKS builds the broker's JSON Web Key Set document: the public half of
// every known key, each tagged with its kid and intended signing use.
func (m *Manager) JWKS(ctx context.Context) (jwk.Set, error) {
	pubs, err := m.PublicKeys(ctx)
	if err != nil {
		return nil, err
	}

	set := jwk.NewSet()
	for _, pk := range pubs {
		key, err := jwk.Import(pk.Key.Public())
		if err != nil {
			return nil, fmt.Errorf("importing public key %s: %w", pk.KeyID, err)
		}
		if err := key.Set(jwk.KeyIDKey, pk.KeyID); err != nil {
			return nil, err
		}
		if err := key.Set(jwk.AlgorithmKey, pk.Algorithm); err != nil {
			return nil, err
		}
		if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
			return nil, err
		}
		if err := set.AddKey(key); err != nil {
			return nil, fmt.Errorf("adding key %s to set: %w", pk.KeyID, err)
		}
	}
	return set, nil
}
