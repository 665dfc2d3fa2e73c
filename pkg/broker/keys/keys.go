// Package keys loads the broker's RSA signing key and derives the JWKS
// document published at /.well-known/jwks.json.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
)

// MinRSAKeyBits is the minimum RSA modulus size this broker will sign with.
const MinRSAKeyBits = 2048

// LoadSigningKey reads a PEM-encoded private key from path and returns it
// as a crypto.Signer. Supports RSA (PKCS1 or PKCS8), EC (SEC1 or PKCS8),
// and Ed25519 (PKCS8) encodings; an RSA key below MinRSAKeyBits is
// rejected.
func LoadSigningKey(path string) (crypto.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block from %s", path)
	}

	signer, err := parsePrivateKey(block)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}

	if rsaKey, ok := signer.(*rsa.PrivateKey); ok && rsaKey.N.BitLen() < MinRSAKeyBits {
		return nil, fmt.Errorf("RSA key is below minimum required size: got %d bits, want at least %d", rsaKey.N.BitLen(), MinRSAKeyBits)
	}

	return signer, nil
}

func parsePrivateKey(block *pem.Block) (crypto.Signer, error) {
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	default:
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("parsed key of type %T does not implement crypto.Signer", key)
		}
		return signer, nil
	}
}

// DeriveAlgorithm infers the JOSE algorithm name for a signer based on its
// concrete key type (and, for EC keys, its curve).
func DeriveAlgorithm(signer crypto.Signer) (string, error) {
	switch key := signer.Public().(type) {
	case *rsa.PublicKey:
		return "RS256", nil
	case *ecdsa.PublicKey:
		switch key.Curve.Params().Name {
		case "P-256":
			return "ES256", nil
		case "P-384":
			return "ES384", nil
		case "P-521":
			return "ES512", nil
		default:
			return "", fmt.Errorf("unsupported EC curve: %s", key.Curve.Params().Name)
		}
	case ed25519.PublicKey:
		return "EdDSA", nil
	default:
		return "", fmt.Errorf("unsupported key type: %T", key)
	}
}

// ValidateAlgorithmForKey checks that alg is a JOSE algorithm compatible
// with signer's concrete key type (and curve, for EC keys).
func ValidateAlgorithmForKey(alg string, signer crypto.Signer) error {
	switch key := signer.Public().(type) {
	case *rsa.PublicKey:
		switch alg {
		case "RS256", "RS384", "RS512":
			return nil
		default:
			return fmt.Errorf("algorithm %s is not compatible with RSA keys", alg)
		}
	case *ecdsa.PublicKey:
		curveAlg := map[string]string{"P-256": "ES256", "P-384": "ES384", "P-521": "ES512"}[key.Curve.Params().Name]
		switch alg {
		case "ES256", "ES384", "ES512":
			if alg != curveAlg {
				return fmt.Errorf("algorithm %s is not compatible with EC key on curve %s", alg, key.Curve.Params().Name)
			}
			return nil
		default:
			return fmt.Errorf("algorithm %s is not compatible with EC keys", alg)
		}
	case ed25519.PublicKey:
		if alg != "EdDSA" {
			return fmt.Errorf("algorithm %s is not compatible with Ed25519 keys", alg)
		}
		return nil
	default:
		return fmt.Errorf("unsupported key type: %T", key)
	}
}

// SigningKeyParams is the resolved (keyID, algorithm) pair for a signer.
type SigningKeyParams struct {
	KeyID     string
	Algorithm string
}

// DeriveSigningKeyParams resolves keyID and algorithm for signer, deriving
// whichever of the two is left empty and validating any explicit algorithm
// against the key's type.
func DeriveSigningKeyParams(signer crypto.Signer, keyID, algorithm string) (SigningKeyParams, error) {
	if algorithm == "" {
		alg, err := DeriveAlgorithm(signer)
		if err != nil {
			return SigningKeyParams{}, err
		}
		algorithm = alg
	} else if err := ValidateAlgorithmForKey(algorithm, signer); err != nil {
		return SigningKeyParams{}, err
	}

	if keyID == "" {
		id, err := DeriveKeyID(signer)
		if err != nil {
			return SigningKeyParams{}, err
		}
		keyID = id
	}

	return SigningKeyParams{KeyID: keyID, Algorithm: algorithm}, nil
}

// DeriveKeyID derives a stable, unique kid for signer: the URL-safe
// base64 encoding of the SHA-256 digest of the DER-encoded public key.
func DeriveKeyID(signer crypto.Signer) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
