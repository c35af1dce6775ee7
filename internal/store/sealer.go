package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/go-faster/errors"
)

const sealVersion = "v1"

// Sealer encrypts secrets at rest with AES-256-GCM.
// Output format: "v1:" + base64(nonce || ciphertext || tag).
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a Sealer from a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, errors.Errorf("sealing key must be 32 bytes (got %d)", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "create gcm")
	}
	return &Sealer{aead: gcm}, nil
}

// Seal encrypts plaintext.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "read nonce")
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)
	return sealVersion + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Unversioned input is read as v1.
func (s *Sealer) Open(ciphertext string) ([]byte, error) {
	data := strings.TrimPrefix(ciphertext, sealVersion+":")

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode ciphertext")
	}
	nonceSize := s.aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	plain, err := s.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, errors.Wrap(err, "open ciphertext")
	}
	return plain, nil
}

// SealJSON marshals v and seals the result.
func (s *Sealer) SealJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "marshal")
	}
	return s.Seal(b)
}

// OpenJSON opens ciphertext and unmarshals it into v.
func (s *Sealer) OpenJSON(ciphertext string, v any) error {
	b, err := s.Open(ciphertext)
	if err != nil {
		return err
	}
	return errors.Wrap(json.Unmarshal(b, v), "unmarshal")
}
