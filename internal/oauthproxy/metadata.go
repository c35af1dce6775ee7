package oauthproxy

import (
	"net/http"
)

// AuthorizationServerMetadata is the RFC 8414 document.
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
}

// ProtectedResourceMetadata is the RFC 9728 document.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	ResourceName           string   `json:"resource_name,omitempty"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported        []string `json:"scopes_supported"`
}

func (p *Proxy) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	base := p.cfg.BaseURL
	writeMetadata(w, AuthorizationServerMetadata{
		Issuer:                            base,
		AuthorizationEndpoint:             base + PathAuthorize,
		TokenEndpoint:                     base + PathToken,
		RegistrationEndpoint:              base + PathRegister,
		RevocationEndpoint:                base + PathRevoke,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{grantAuthorizationCode, grantRefreshToken},
		CodeChallengeMethodsSupported:     []string{pkceMethodS256},
		ScopesSupported:                   p.cfg.Scopes,
		TokenEndpointAuthMethodsSupported: []string{authMethodNone, authMethodSecretPost, authMethodSecretBasic},
	})
}

func (p *Proxy) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	writeMetadata(w, ProtectedResourceMetadata{
		Resource:               p.ResourceURL(),
		ResourceName:           "Planning Center Services",
		AuthorizationServers:   []string{p.cfg.BaseURL},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        p.cfg.Scopes,
	})
}

func writeMetadata(w http.ResponseWriter, v any) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_ = jsonEncode(w, v)
}
