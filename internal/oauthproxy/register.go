package oauthproxy

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"

	"pcoservices/server/internal/store"
)

const (
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"

	authMethodNone        = "none"
	authMethodSecretPost  = "client_secret_post"
	authMethodSecretBasic = "client_secret_basic"

	maxRegistrationSize = 64 * 1024
	maxRedirectURIs     = 10
)

// RegistrationRequest is the RFC 7591 client metadata the bridge accepts.
type RegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// RegistrationResponse is returned with 201 Created.
type RegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	Scope                   string   `json:"scope"`
}

func (p *Proxy) ServeRegister(w http.ResponseWriter, r *http.Request) {
	ctx, span := p.tracer.Start(r.Context(), "oauth.register")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRegistrationSize))
	if err != nil {
		writeError(w, newOAuthError(ErrorCodeInvalidRequest, "failed to read request", http.StatusBadRequest))
		return
	}
	var req RegistrationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, newOAuthError(ErrorCodeInvalidClientMeta, "request body must be JSON client metadata", http.StatusBadRequest))
		return
	}
	if err := validateRegistration(&req); err != nil {
		writeError(w, err)
		return
	}

	now := p.now()
	client := &store.Client{
		ID:                      uuid.NewString(),
		Name:                    req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              req.GrantTypes,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
		CreatedAt:               now,
	}
	var secret string
	if req.TokenEndpointAuthMethod != authMethodNone {
		secret = randomToken(32)
		client.SecretHash = store.HashToken(secret)
	}
	if err := p.store.RegisterClient(ctx, client); err != nil {
		p.log.Errorw("failed to register client", "error", err)
		writeError(w, newOAuthError(ErrorCodeServerError, "failed to register client", http.StatusInternalServerError))
		return
	}
	p.log.Infow("client registered", "client_id", client.ID, "client_name", client.Name, "auth_method", client.TokenEndpointAuthMethod)

	writeJSON(w, http.StatusCreated, RegistrationResponse{
		ClientID:                client.ID,
		ClientSecret:            secret,
		ClientIDIssuedAt:        now.Unix(),
		ClientName:              client.Name,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		Scope:                   strings.Join(p.cfg.Scopes, " "),
	})
}

// validateRegistration checks the request and fills in defaults.
func validateRegistration(req *RegistrationRequest) error {
	if len(req.RedirectURIs) == 0 {
		return newOAuthError(ErrorCodeInvalidRedirectURI, "at least one redirect_uri is required", http.StatusBadRequest)
	}
	if len(req.RedirectURIs) > maxRedirectURIs {
		return newOAuthError(ErrorCodeInvalidRedirectURI, "too many redirect_uris", http.StatusBadRequest)
	}
	for _, uri := range req.RedirectURIs {
		if !validRedirectURI(uri) {
			return newOAuthError(ErrorCodeInvalidRedirectURI, "invalid redirect_uri: "+uri, http.StatusBadRequest)
		}
	}

	if req.TokenEndpointAuthMethod == "" {
		req.TokenEndpointAuthMethod = authMethodNone
	}
	switch req.TokenEndpointAuthMethod {
	case authMethodNone, authMethodSecretPost, authMethodSecretBasic:
	default:
		return newOAuthError(ErrorCodeInvalidClientMeta, "unsupported token_endpoint_auth_method", http.StatusBadRequest)
	}

	if len(req.GrantTypes) == 0 {
		req.GrantTypes = []string{grantAuthorizationCode, grantRefreshToken}
	}
	for _, gt := range req.GrantTypes {
		if gt != grantAuthorizationCode && gt != grantRefreshToken {
			return newOAuthError(ErrorCodeInvalidClientMeta, "unsupported grant_type: "+gt, http.StatusBadRequest)
		}
	}
	if !slices.Contains(req.GrantTypes, grantAuthorizationCode) {
		return newOAuthError(ErrorCodeInvalidClientMeta, "authorization_code grant is required", http.StatusBadRequest)
	}
	for _, rt := range req.ResponseTypes {
		if rt != "code" {
			return newOAuthError(ErrorCodeInvalidClientMeta, "unsupported response_type: "+rt, http.StatusBadRequest)
		}
	}
	return nil
}

// validRedirectURI accepts https URIs, http on loopback hosts and private-use
// schemes used by native apps.
func validRedirectURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Fragment != "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return u.Host != ""
	case "http":
		return isLoopback(u.Hostname())
	case "javascript", "data", "file", "vbscript":
		return false
	default:
		return true
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
