package auth

import (
	"crypto/sha256"
	"io"

	"github.com/go-faster/errors"
	"golang.org/x/crypto/hkdf"
)

const (
	keySize  = 32
	hkdfSalt = "pco-services-mcp"

	signingKeyInfo = "session-jwt-signing-key"
	storageKeyInfo = "upstream-token-encryption-key"
)

// DeriveKey expands material into a 32-byte key bound to info.
func DeriveKey(material []byte, info string) ([]byte, error) {
	if len(material) == 0 {
		return nil, errors.New("empty key material")
	}
	r := hkdf.New(sha256.New, material, []byte(hkdfSalt), []byte(info))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errors.Wrap(err, "derive key")
	}
	return key, nil
}

// SigningKey returns the HS256 key for session tokens. When configured is
// empty the key is derived from the upstream client secret, so it is stable
// across restarts without extra configuration.
func SigningKey(configured, clientSecret string) ([]byte, error) {
	material := configured
	if material == "" {
		material = clientSecret
	}
	if material == "" {
		return nil, errors.New("no signing key material: set JWT_SIGNING_KEY or PCO_CLIENT_SECRET")
	}
	return DeriveKey([]byte(material), signingKeyInfo)
}

// StorageKey returns the AES-256 key used to seal upstream tokens at rest.
func StorageKey(signingKey []byte) ([]byte, error) {
	return DeriveKey(signingKey, storageKeyInfo)
}
