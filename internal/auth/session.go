package auth

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidSession is returned for any session token that does not verify.
var ErrInvalidSession = errors.New("invalid session token")

// SessionClaims are the claims of a bridge-issued access token. The grant id
// points at the stored upstream credentials.
type SessionClaims struct {
	jwt.RegisteredClaims
	GrantID  string `json:"gid"`
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
}

// SessionSigner issues and verifies HS256 session tokens.
type SessionSigner struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionSigner creates a signer. issuer is the bridge base URL and
// audience the protected resource URL.
func NewSessionSigner(key []byte, issuer, audience string, ttl time.Duration) *SessionSigner {
	return &SessionSigner{
		key:      key,
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}
}

// TTL is the lifetime of issued tokens.
func (s *SessionSigner) TTL() time.Duration { return s.ttl }

// Issue signs a new access token for a grant.
func (s *SessionSigner) Issue(subject, grantID, clientID string, scopes []string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.audience},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		GrantID:  grantID,
		ClientID: clientID,
		Scope:    strings.Join(scopes, " "),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign session token")
	}
	return signed, exp, nil
}

// Verify checks signature, issuer, audience and expiry.
func (s *SessionSigner) Verify(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5*time.Second),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidSession, err.Error())
	}
	if claims.GrantID == "" {
		return nil, errors.Wrap(ErrInvalidSession, "missing grant id")
	}
	return claims, nil
}
