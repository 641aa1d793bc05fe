package audit

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

const digestPrefix = "sha256:"

// Digest returns the prefixed lowercase-hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return digestPrefix + hex.EncodeToString(sum[:])
}

// DigestValue canonicalizes v and digests the result.
func DigestValue(v any) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return Digest(canonical), nil
}

type Signer interface {
	KeyID() string
	Sign(digest []byte) ([]byte, error)
}

type Ed25519Signer struct {
	ID      string
	Private ed25519.PrivateKey
}

func (s Ed25519Signer) KeyID() string { return s.ID }

func (s Ed25519Signer) Sign(digest []byte) ([]byte, error) {
	if len(s.Private) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeyLength
	}
	return ed25519.Sign(s.Private, digest), nil
}

func (s Ed25519Signer) Public() ed25519.PublicKey {
	return s.Private.Public().(ed25519.PublicKey)
}

// NewSignerFromSeed derives a signer from a 32-byte seed.
func NewSignerFromSeed(keyID string, seed []byte) (Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return Ed25519Signer{}, ErrInvalidKeyLength
	}
	return Ed25519Signer{ID: keyID, Private: ed25519.NewKeyFromSeed(seed)}, nil
}

// LoadSigner reads an Ed25519 key from path. The file may hold a raw 32-byte
// seed or 64-byte private key, either as bytes or encoded with a "hex:" or
// "base64:" prefix (bare hex and base64 are tried as well).
func LoadSigner(keyID, path string) (Ed25519Signer, error) {
	// #nosec G304 -- path is operator-configured.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Ed25519Signer{}, err
	}
	key, err := decodeKey(raw)
	if err != nil {
		return Ed25519Signer{}, fmt.Errorf("signing key %s: %w", path, err)
	}
	switch len(key) {
	case ed25519.SeedSize:
		return Ed25519Signer{ID: keyID, Private: ed25519.NewKeyFromSeed(key)}, nil
	case ed25519.PrivateKeySize:
		return Ed25519Signer{ID: keyID, Private: ed25519.PrivateKey(key)}, nil
	default:
		return Ed25519Signer{}, ErrInvalidKeyLength
	}
}

func decodeKey(raw []byte) ([]byte, error) {
	text := strings.TrimSpace(string(raw))
	switch {
	case strings.HasPrefix(text, "hex:"):
		return hex.DecodeString(strings.TrimPrefix(text, "hex:"))
	case strings.HasPrefix(text, "base64:"):
		return base64.StdEncoding.DecodeString(strings.TrimPrefix(text, "base64:"))
	}
	if out, err := hex.DecodeString(text); err == nil && text != "" {
		return out, nil
	}
	if len(raw) == ed25519.SeedSize || len(raw) == ed25519.PrivateKeySize {
		return raw, nil
	}
	if text == "" {
		return nil, fmt.Errorf("empty key file")
	}
	if out, err := base64.StdEncoding.DecodeString(text); err == nil {
		return out, nil
	}
	return nil, fmt.Errorf("unrecognized key encoding")
}
