// Package broker resolves grants to live upstream credentials and builds the
// per-request PCO clients that tool handlers use.
package broker

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"pcoservices/server/internal/logger"
	"pcoservices/server/internal/store"
)

// tokenRefreshBuffer is how long before expiry a token is refreshed.
const tokenRefreshBuffer = 5 * time.Minute

// TokenBroker loads grants from the store and transparently refreshes the
// upstream token when it is expired or about to expire.
type TokenBroker struct {
	store  store.Store
	oauth  *oauth2.Config
	client *http.Client
	group  singleflight.Group
	log    *zap.SugaredLogger
	now    func() time.Time
}

// NewTokenBroker creates a broker. cfg must carry the upstream token endpoint
// and client credentials.
func NewTokenBroker(st store.Store, cfg *oauth2.Config, client *http.Client) *TokenBroker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TokenBroker{
		store:  st,
		oauth:  cfg,
		client: client,
		log:    logger.Named("broker"),
		now:    time.Now,
	}
}

// Grant returns the grant with a usable upstream token.
func (b *TokenBroker) Grant(ctx context.Context, grantID string) (*store.Grant, error) {
	g, err := b.store.GetGrant(ctx, grantID)
	if err != nil {
		return nil, errors.Wrap(err, "load grant")
	}
	return b.Ensure(ctx, g)
}

// Ensure refreshes the grant's upstream token if it needs it. A failed
// refresh falls back to the existing token.
func (b *TokenBroker) Ensure(ctx context.Context, g *store.Grant) (*store.Grant, error) {
	if g.Upstream.RefreshToken == "" || !b.needsRefresh(g.Upstream) {
		return g, nil
	}

	b.log.Debugw("upstream token expiring, refreshing", "grant_id", g.ID, "subject", g.Subject)
	v, err, _ := b.group.Do(g.ID, func() (interface{}, error) {
		return b.refresh(ctx, g)
	})
	if err != nil {
		b.log.Warnw("upstream token refresh failed", "grant_id", g.ID, "error", err)
		return g, nil
	}
	refreshed := v.(*store.Grant)
	out := *g
	out.Upstream = refreshed.Upstream
	out.UpdatedAt = refreshed.UpdatedAt
	return &out, nil
}

// needsRefresh checks if the token should be refreshed.
func (b *TokenBroker) needsRefresh(t store.UpstreamTokens) bool {
	if t.Expiry.IsZero() {
		return false
	}
	return !b.now().Before(t.Expiry.Add(-tokenRefreshBuffer))
}

// refresh exchanges the refresh token and persists the result.
func (b *TokenBroker) refresh(ctx context.Context, g *store.Grant) (*store.Grant, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.client)
	// An empty access token forces the source to hit the token endpoint.
	src := b.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: g.Upstream.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, errors.Wrap(err, "refresh upstream token")
	}

	out := *g
	out.Upstream = TokensFromOAuth2(tok)
	out.UpdatedAt = b.now()
	// Only the upstream fields are written; the session refresh hash may
	// have been rotated since g was loaded.
	if err := b.store.UpdateUpstream(ctx, g.ID, out.Upstream); err != nil {
		b.log.Errorw("failed to save refreshed upstream token", "grant_id", g.ID, "error", err)
	}
	b.log.Infow("upstream token refreshed", "grant_id", g.ID, "subject", g.Subject)
	return &out, nil
}

// TokensFromOAuth2 converts an oauth2 token into the stored form.
func TokensFromOAuth2(tok *oauth2.Token) store.UpstreamTokens {
	return store.UpstreamTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
}
