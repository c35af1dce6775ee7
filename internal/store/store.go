// Package store persists the authorization bridge's state: registered
// clients, in-flight authorizations, authorization codes and grants.
//
// Authorization codes and refresh tokens are addressed by their SHA-256 hash
// (see HashToken); the raw values are never stored.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"time"

	"github.com/go-faster/errors"
)

// PendingAuthorizationTTL bounds the time between /authorize and the
// upstream callback.
const PendingAuthorizationTTL = 10 * time.Minute

var (
	// ErrNotFound is returned when a record does not exist or was consumed.
	ErrNotFound = errors.New("not found")
	// ErrExpired is returned when a record exists but is past its lifetime.
	ErrExpired = errors.New("expired")
)

// HashToken returns the storage key for a secret token value.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Client is a dynamically registered OAuth client.
type Client struct {
	ID                      string
	SecretHash              string
	Name                    string
	RedirectURIs            []string
	GrantTypes              []string
	TokenEndpointAuthMethod string
	CreatedAt               time.Time
}

// IsPublic reports whether the client authenticates without a secret.
func (c *Client) IsPublic() bool {
	return c.SecretHash == ""
}

// HasRedirectURI reports whether uri was registered exactly.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// PendingAuthorization is a client authorization request waiting for the
// upstream callback. It is keyed by the bridge's own state value.
type PendingAuthorization struct {
	ClientID            string
	RedirectURI         string
	ClientState         string
	CodeChallenge       string
	CodeChallengeMethod string
	Scopes              []string
	Resource            string
	UpstreamVerifier    string
	CreatedAt           time.Time
}

// Expired reports whether the pending authorization is past its TTL.
func (p *PendingAuthorization) Expired(now time.Time) bool {
	return now.After(p.CreatedAt.Add(PendingAuthorizationTTL))
}

// UpstreamTokens are the PCO credentials obtained for a user.
type UpstreamTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// AuthorizationCode is a single-use code handed to the client after the
// upstream callback succeeded.
type AuthorizationCode struct {
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	Scopes              []string
	Resource            string
	Subject             string
	Upstream            UpstreamTokens
	ExpiresAt           time.Time
}

// Grant ties a client session to the upstream credentials. Session tokens
// carry the grant id.
type Grant struct {
	ID               string
	ClientID         string
	Subject          string
	Scopes           []string
	Upstream         UpstreamTokens
	RefreshTokenHash string
	RefreshExpiresAt time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Expired reports whether the grant can no longer be refreshed or used.
func (g *Grant) Expired(now time.Time) bool {
	return !g.RefreshExpiresAt.IsZero() && now.After(g.RefreshExpiresAt)
}

// Store is implemented by the memory, redis and gorm backends.
type Store interface {
	RegisterClient(ctx context.Context, c *Client) error
	GetClient(ctx context.Context, id string) (*Client, error)

	StorePendingAuthorization(ctx context.Context, state string, p *PendingAuthorization) error
	// TakePendingAuthorization loads and deletes in one step.
	TakePendingAuthorization(ctx context.Context, state string) (*PendingAuthorization, error)

	StoreAuthorizationCode(ctx context.Context, codeHash string, c *AuthorizationCode) error
	// TakeAuthorizationCode loads and deletes in one step.
	TakeAuthorizationCode(ctx context.Context, codeHash string) (*AuthorizationCode, error)

	// SaveGrant inserts or replaces a grant and its refresh-token index.
	SaveGrant(ctx context.Context, g *Grant) error
	GetGrant(ctx context.Context, id string) (*Grant, error)
	GetGrantByRefreshToken(ctx context.Context, refreshHash string) (*Grant, error)
	// RotateRefreshToken swaps the grant's refresh hash from oldHash to
	// newHash in one step. Only one caller can rotate a given oldHash; the
	// others get ErrNotFound.
	RotateRefreshToken(ctx context.Context, oldHash, newHash string, expiresAt time.Time) (*Grant, error)
	// UpdateUpstream replaces only the upstream credentials of a grant.
	UpdateUpstream(ctx context.Context, id string, tokens UpstreamTokens) error
	DeleteGrant(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}

func cloneClient(c *Client) *Client {
	out := *c
	out.RedirectURIs = slices.Clone(c.RedirectURIs)
	out.GrantTypes = slices.Clone(c.GrantTypes)
	return &out
}

func clonePending(p *PendingAuthorization) *PendingAuthorization {
	out := *p
	out.Scopes = slices.Clone(p.Scopes)
	return &out
}

func cloneCode(c *AuthorizationCode) *AuthorizationCode {
	out := *c
	out.Scopes = slices.Clone(c.Scopes)
	return &out
}

func cloneGrant(g *Grant) *Grant {
	out := *g
	out.Scopes = slices.Clone(g.Scopes)
	return &out
}
