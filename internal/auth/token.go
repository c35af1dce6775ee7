package auth

import (
	"slices"
	"strings"

	"github.com/go-faster/errors"
)

// ClientID is the fixed client identifier carried by every AccessToken.
const ClientID = "pco"

var defaultScopes = []string{"services", "people"}

// DefaultScopes returns the scopes requested from and granted by PCO.
func DefaultScopes() []string {
	return slices.Clone(defaultScopes)
}

// ErrInvalidToken is returned for every rejected upstream token. The cause is
// never exposed to callers.
var ErrInvalidToken = errors.New("invalid token")

// UpstreamIdentity is the PCO person behind an upstream token.
type UpstreamIdentity struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
}

// DisplayName joins first and last name and trims surrounding whitespace.
func (u UpstreamIdentity) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Claims are the identity claims attached to an AccessToken.
type Claims struct {
	Subject             string
	Name                string
	Email               string
	UpstreamAccessToken string
}

// AccessToken is a verified credential. It is never modified after creation.
type AccessToken struct {
	// Token is the bearer credential the client presented.
	Token    string
	ClientID string
	Scopes   []string
	Claims   Claims
}

// NewAccessToken maps a verified identity to an AccessToken. bearer is what
// the client presented; upstream is the PCO token that was verified.
func NewAccessToken(bearer, upstream string, id UpstreamIdentity) *AccessToken {
	return &AccessToken{
		Token:    bearer,
		ClientID: ClientID,
		Scopes:   DefaultScopes(),
		Claims: Claims{
			Subject:             id.ID,
			Name:                id.DisplayName(),
			Email:               id.Email,
			UpstreamAccessToken: upstream,
		},
	}
}
