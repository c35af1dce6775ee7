package oauthproxy

import (
	"context"
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"pcoservices/server/internal/store"
)

// TokenResponse is the RFC 6749 section 5.1 response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

func (p *Proxy) ServeToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, newOAuthError(ErrorCodeInvalidRequest, "failed to parse request", http.StatusBadRequest))
		return
	}

	var (
		resp *TokenResponse
		err  error
	)
	switch gt := r.PostForm.Get("grant_type"); gt {
	case grantAuthorizationCode:
		resp, err = p.exchangeAuthorizationCode(r)
	case grantRefreshToken:
		resp, err = p.exchangeRefreshToken(r)
	case "":
		err = newOAuthError(ErrorCodeInvalidRequest, "grant_type is required", http.StatusBadRequest)
	default:
		err = newOAuthError(ErrorCodeUnsupportedGrantType, "grant type "+gt+" is not supported", http.StatusBadRequest)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (p *Proxy) exchangeAuthorizationCode(r *http.Request) (*TokenResponse, error) {
	ctx, span := p.tracer.Start(r.Context(), "oauth.token.authorization_code")
	defer span.End()

	code := r.PostForm.Get("code")
	if code == "" {
		return nil, newOAuthError(ErrorCodeInvalidRequest, "code is required", http.StatusBadRequest)
	}
	client, err := p.authenticateClient(ctx, r)
	if err != nil {
		span.SetStatus(codes.Error, "client authentication failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("oauth.client_id", client.ID))

	invalid := newOAuthError(ErrorCodeInvalidGrant, "authorization code is invalid or expired", http.StatusBadRequest)
	ac, err := p.store.TakeAuthorizationCode(ctx, store.HashToken(code))
	if err != nil {
		p.log.Debugw("authorization code rejected", "client_id", client.ID, "error", err)
		return nil, invalid
	}
	if ac.ClientID != client.ID {
		p.log.Warnw("authorization code presented by another client", "client_id", client.ID)
		return nil, invalid
	}
	if ru := r.PostForm.Get("redirect_uri"); ru != "" && ru != ac.RedirectURI {
		return nil, invalid
	}
	if !verifyPKCE(r.PostForm.Get("code_verifier"), ac.CodeChallenge, ac.CodeChallengeMethod) {
		return nil, newOAuthError(ErrorCodeInvalidGrant, "code_verifier does not match", http.StatusBadRequest)
	}
	if res := r.PostForm.Get("resource"); res != "" && res != p.ResourceURL() {
		return nil, newOAuthError(ErrorCodeInvalidTarget, "unknown resource", http.StatusBadRequest)
	}

	now := p.now()
	refresh := randomToken(32)
	g := &store.Grant{
		ID:               uuid.NewString(),
		ClientID:         client.ID,
		Subject:          ac.Subject,
		Scopes:           ac.Scopes,
		Upstream:         ac.Upstream,
		RefreshTokenHash: store.HashToken(refresh),
		RefreshExpiresAt: now.Add(p.cfg.RefreshTokenTTL),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := p.store.SaveGrant(ctx, g); err != nil {
		p.log.Errorw("failed to save grant", "client_id", client.ID, "error", err)
		return nil, newOAuthError(ErrorCodeServerError, "failed to issue token", http.StatusInternalServerError)
	}
	p.log.Infow("grant created", "client_id", client.ID, "subject", g.Subject, "grant_id", g.ID)
	return p.issue(g, refresh)
}

func (p *Proxy) exchangeRefreshToken(r *http.Request) (*TokenResponse, error) {
	ctx, span := p.tracer.Start(r.Context(), "oauth.token.refresh_token")
	defer span.End()

	refresh := r.PostForm.Get("refresh_token")
	if refresh == "" {
		return nil, newOAuthError(ErrorCodeInvalidRequest, "refresh_token is required", http.StatusBadRequest)
	}
	client, err := p.authenticateClient(ctx, r)
	if err != nil {
		span.SetStatus(codes.Error, "client authentication failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("oauth.client_id", client.ID))

	invalid := newOAuthError(ErrorCodeInvalidGrant, "refresh token is invalid or expired", http.StatusBadRequest)
	g, err := p.store.GetGrantByRefreshToken(ctx, store.HashToken(refresh))
	if err != nil {
		p.log.Debugw("refresh token rejected", "client_id", client.ID, "error", err)
		return nil, invalid
	}
	if g.ClientID != client.ID {
		p.log.Warnw("refresh token presented by another client", "client_id", client.ID, "grant_id", g.ID)
		return nil, invalid
	}

	now := p.now()
	next := randomToken(32)
	g, err = p.store.RotateRefreshToken(ctx, store.HashToken(refresh), store.HashToken(next), now.Add(p.cfg.RefreshTokenTTL))
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrExpired):
		p.log.Debugw("refresh token already rotated", "client_id", client.ID, "error", err)
		return nil, invalid
	case err != nil:
		p.log.Errorw("failed to rotate refresh token", "client_id", client.ID, "error", err)
		return nil, newOAuthError(ErrorCodeServerError, "failed to issue token", http.StatusInternalServerError)
	}

	g, err = p.broker.Ensure(ctx, g)
	if err != nil {
		return nil, invalid
	}
	return p.issue(g, next)
}

func (p *Proxy) issue(g *store.Grant, refresh string) (*TokenResponse, error) {
	token, _, err := p.signer.Issue(g.Subject, g.ID, g.ClientID, g.Scopes)
	if err != nil {
		p.log.Errorw("failed to sign session token", "grant_id", g.ID, "error", err)
		return nil, newOAuthError(ErrorCodeServerError, "failed to issue token", http.StatusInternalServerError)
	}
	return &TokenResponse{
		AccessToken:  token,
		TokenType:    "Bearer",
		ExpiresIn:    int64(p.signer.TTL() / time.Second),
		RefreshToken: refresh,
		Scope:        strings.Join(g.Scopes, " "),
	}, nil
}

// ServeRevoke implements RFC 7009. Unknown tokens are not an error.
func (p *Proxy) ServeRevoke(w http.ResponseWriter, r *http.Request) {
	ctx, span := p.tracer.Start(r.Context(), "oauth.revoke")
	defer span.End()

	if err := r.ParseForm(); err != nil {
		writeError(w, newOAuthError(ErrorCodeInvalidRequest, "failed to parse request", http.StatusBadRequest))
		return
	}
	token := r.PostForm.Get("token")
	if token == "" {
		writeError(w, newOAuthError(ErrorCodeInvalidRequest, "token is required", http.StatusBadRequest))
		return
	}
	client, err := p.authenticateClient(ctx, r)
	if err != nil {
		writeError(w, err)
		return
	}

	if grantID := p.grantForToken(ctx, token, r.PostForm.Get("token_type_hint")); grantID != "" {
		g, err := p.store.GetGrant(ctx, grantID)
		if err == nil && g.ClientID == client.ID {
			if err := p.store.DeleteGrant(ctx, grantID); err != nil {
				p.log.Errorw("failed to revoke grant", "grant_id", grantID, "error", err)
			} else {
				p.log.Infow("grant revoked", "client_id", client.ID, "grant_id", grantID)
			}
		}
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}

// grantForToken resolves a refresh token or session token to its grant id.
func (p *Proxy) grantForToken(ctx context.Context, token, hint string) string {
	byRefresh := func() string {
		if g, err := p.store.GetGrantByRefreshToken(ctx, store.HashToken(token)); err == nil {
			return g.ID
		}
		return ""
	}
	byAccess := func() string {
		if claims, err := p.signer.Verify(token); err == nil {
			return claims.GrantID
		}
		return ""
	}
	if hint == "access_token" {
		if id := byAccess(); id != "" {
			return id
		}
		return byRefresh()
	}
	if id := byRefresh(); id != "" {
		return id
	}
	return byAccess()
}

// authenticateClient identifies the client from HTTP Basic credentials or
// form parameters. Public clients only need a known client_id.
func (p *Proxy) authenticateClient(ctx context.Context, r *http.Request) (*store.Client, error) {
	clientID := r.PostForm.Get("client_id")
	secret := r.PostForm.Get("client_secret")
	if id, s, ok := r.BasicAuth(); ok {
		// RFC 6749 section 2.3.1 form-encodes Basic credentials.
		if dec, err := url.QueryUnescape(id); err == nil {
			id = dec
		}
		if dec, err := url.QueryUnescape(s); err == nil {
			s = dec
		}
		clientID, secret = id, s
	}

	unauthorized := newOAuthError(ErrorCodeInvalidClient, "client authentication failed", http.StatusUnauthorized)
	if clientID == "" {
		return nil, unauthorized
	}
	client, err := p.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, unauthorized
	}
	if client.IsPublic() {
		return client, nil
	}
	if secret == "" || subtle.ConstantTimeCompare([]byte(store.HashToken(secret)), []byte(client.SecretHash)) != 1 {
		return nil, unauthorized
	}
	return client, nil
}
