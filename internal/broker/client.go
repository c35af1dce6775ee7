package broker

import (
	"net/http"

	"github.com/go-faster/errors"

	"pcoservices/server/internal/auth"
	"pcoservices/server/pkg/pcoapi"
)

// ErrNoUpstreamToken means a verified access token reached a tool without an
// upstream credential. It is a server defect, not an authorization failure.
var ErrNoUpstreamToken = errors.New("verified access token carries no upstream credential")

// ClientFactory builds one pcoapi.Client per tool invocation.
type ClientFactory struct {
	baseURL string
	base    *http.Client
}

// NewClientFactory returns a factory for clients against baseURL. base
// supplies the transport; nil means http.DefaultClient.
func NewClientFactory(baseURL string, base *http.Client) *ClientFactory {
	if base == nil {
		base = http.DefaultClient
	}
	return &ClientFactory{baseURL: baseURL, base: base}
}

// Build returns a new client bound to the token's upstream credential.
func (f *ClientFactory) Build(at *auth.AccessToken) (*pcoapi.Client, error) {
	if at == nil || at.Claims.UpstreamAccessToken == "" {
		return nil, ErrNoUpstreamToken
	}
	return pcoapi.New(at.Claims.UpstreamAccessToken,
		pcoapi.WithBaseURL(f.baseURL),
		pcoapi.WithHTTPClient(f.base),
	), nil
}
