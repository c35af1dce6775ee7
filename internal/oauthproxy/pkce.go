package oauthproxy

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"

	"golang.org/x/oauth2"
)

const pkceMethodS256 = "S256"

// randomToken returns n random bytes, base64url encoded.
func randomToken(n int) string {
	b := make([]byte, n)
	// crypto/rand.Read never returns an error.
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// verifyPKCE checks an RFC 7636 S256 verifier against the stored challenge.
func verifyPKCE(verifier, challenge, method string) bool {
	if verifier == "" || challenge == "" || method != pkceMethodS256 {
		return false
	}
	if len(verifier) < 43 || len(verifier) > 128 {
		return false
	}
	computed := oauth2.S256ChallengeFromVerifier(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
