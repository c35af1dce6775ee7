package oauthproxy

import (
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"

	"pcoservices/server/internal/broker"
	"pcoservices/server/internal/observability"
	"pcoservices/server/internal/store"
)

// ServeAuthorize validates the client request, parks it as a pending
// authorization and sends the user agent to PCO.
func (p *Proxy) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx, span := p.tracer.Start(r.Context(), "oauth.authorize")
	defer span.End()

	q := r.URL.Query()
	clientID := q.Get("client_id")
	if clientID == "" {
		writeError(w, newOAuthError(ErrorCodeInvalidRequest, "client_id is required", http.StatusBadRequest))
		return
	}
	client, err := p.store.GetClient(ctx, clientID)
	if err != nil {
		writeError(w, newOAuthError(ErrorCodeInvalidClient, "unknown client", http.StatusBadRequest))
		return
	}
	span.SetAttributes(attribute.String("oauth.client_id", clientID))

	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" && len(client.RedirectURIs) == 1 {
		redirectURI = client.RedirectURIs[0]
	}
	// Errors before the redirect URI is trusted are shown to the user agent.
	if !client.HasRedirectURI(redirectURI) {
		writeError(w, newOAuthError(ErrorCodeInvalidRequest, "redirect_uri is not registered for this client", http.StatusBadRequest))
		return
	}

	clientState := q.Get("state")
	fail := func(code, description string) {
		span.SetStatus(codes.Error, code)
		redirectWithParams(w, r, redirectURI, url.Values{
			"error":             {code},
			"error_description": {description},
		}, clientState)
	}

	if q.Get("response_type") != "code" {
		fail(ErrorCodeUnsupportedResponse, "response_type must be code")
		return
	}
	challenge := q.Get("code_challenge")
	if challenge == "" {
		fail(ErrorCodeInvalidRequest, "code_challenge is required")
		return
	}
	if q.Get("code_challenge_method") != pkceMethodS256 {
		fail(ErrorCodeInvalidRequest, "code_challenge_method must be S256")
		return
	}
	resource := q.Get("resource")
	if resource != "" && resource != p.ResourceURL() {
		fail(ErrorCodeInvalidTarget, "unknown resource")
		return
	}

	state := randomToken(32)
	verifier := oauth2.GenerateVerifier()
	err = p.store.StorePendingAuthorization(ctx, state, &store.PendingAuthorization{
		ClientID:            client.ID,
		RedirectURI:         redirectURI,
		ClientState:         clientState,
		CodeChallenge:       challenge,
		CodeChallengeMethod: pkceMethodS256,
		Scopes:              p.cfg.Scopes,
		Resource:            resource,
		UpstreamVerifier:    verifier,
		CreatedAt:           p.now(),
	})
	if err != nil {
		p.log.Errorw("failed to store pending authorization", "client_id", client.ID, "error", err)
		fail(ErrorCodeServerError, "failed to start authorization")
		return
	}

	http.Redirect(w, r, p.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), http.StatusFound)
}

// ServeCallback completes the upstream leg and issues the bridge's own
// authorization code to the client. Every upstream failure is reported to the
// client as access_denied.
func (p *Proxy) ServeCallback(w http.ResponseWriter, r *http.Request) {
	ctx, span := p.tracer.Start(r.Context(), "oauth.callback")
	defer span.End()

	q := r.URL.Query()
	pending, err := p.store.TakePendingAuthorization(ctx, q.Get("state"))
	if err != nil {
		span.SetStatus(codes.Error, "unknown state")
		writeError(w, newOAuthError(ErrorCodeInvalidRequest, "unknown or expired authorization request", http.StatusBadRequest))
		return
	}
	span.SetAttributes(attribute.String("oauth.client_id", pending.ClientID))

	deny := func(reason string, err error) {
		span.SetStatus(codes.Error, reason)
		details := map[string]any{"client_id": pending.ClientID, "reason": reason}
		if err != nil {
			details["error"] = err.Error()
		}
		observability.LogSecurityEvent("", "", "upstream_authorization_failed", details)
		redirectWithParams(w, r, pending.RedirectURI, url.Values{
			"error": {ErrorCodeAccessDenied},
		}, pending.ClientState)
	}

	if q.Get("error") != "" {
		deny("upstream_error", nil)
		return
	}
	code := q.Get("code")
	if code == "" {
		deny("missing_code", nil)
		return
	}

	tok, err := p.oauth.Exchange(p.upstreamContext(ctx), code, oauth2.VerifierOption(pending.UpstreamVerifier))
	if err != nil {
		deny("exchange_failed", err)
		return
	}
	id, err := p.identify(ctx, tok.AccessToken)
	if err != nil {
		deny("identity_check_failed", err)
		return
	}

	clientCode := randomToken(32)
	err = p.store.StoreAuthorizationCode(ctx, store.HashToken(clientCode), &store.AuthorizationCode{
		ClientID:            pending.ClientID,
		RedirectURI:         pending.RedirectURI,
		CodeChallenge:       pending.CodeChallenge,
		CodeChallengeMethod: pending.CodeChallengeMethod,
		Scopes:              pending.Scopes,
		Resource:            pending.Resource,
		Subject:             id.ID,
		Upstream:            broker.TokensFromOAuth2(tok),
		ExpiresAt:           p.now().Add(authorizationCodeTTL),
	})
	if err != nil {
		p.log.Errorw("failed to store authorization code", "client_id", pending.ClientID, "error", err)
		deny("store_failed", err)
		return
	}

	p.log.Infow("authorization completed", "client_id", pending.ClientID, "subject", id.ID)
	redirectWithParams(w, r, pending.RedirectURI, url.Values{"code": {clientCode}}, pending.ClientState)
}

// redirectWithParams appends params and state to a registered redirect URI.
func redirectWithParams(w http.ResponseWriter, r *http.Request, redirectURI string, params url.Values, state string) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		writeError(w, newOAuthError(ErrorCodeInvalidRequest, "invalid redirect_uri", http.StatusBadRequest))
		return
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}
