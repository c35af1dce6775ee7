package oauthproxy

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"

	"pcoservices/server/internal/auth"
	"pcoservices/server/internal/store"
)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 5 * time.Minute
)

// verificationCache remembers identities of upstream tokens that passed the
// identity check. Failures are never cached.
type verificationCache struct {
	lru *expirable.LRU[string, auth.UpstreamIdentity]
}

func newVerificationCache(size int, ttl time.Duration) *verificationCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &verificationCache{lru: expirable.NewLRU[string, auth.UpstreamIdentity](size, nil, ttl)}
}

func (c *verificationCache) get(upstream string) (auth.UpstreamIdentity, bool) {
	return c.lru.Get(store.HashToken(upstream))
}

func (c *verificationCache) add(upstream string, id auth.UpstreamIdentity) {
	c.lru.Add(store.HashToken(upstream), id)
}

// VerifyBearer resolves a presented bearer credential to an AccessToken.
// Session tokens are resolved through their grant; raw PCO tokens are
// accepted only when configured. Every failure returns ErrUnauthenticated.
func (p *Proxy) VerifyBearer(ctx context.Context, bearer string) (*auth.AccessToken, error) {
	ctx, span := p.tracer.Start(ctx, "oauth.verify_bearer")
	defer span.End()

	if bearer == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := p.signer.Verify(bearer)
	if err == nil {
		span.SetAttributes(attribute.String("oauth.token_kind", "session"))
		return p.verifySession(ctx, bearer, claims)
	}

	if !p.cfg.AcceptUpstreamTokens {
		p.log.Debugw("bearer rejected", "reason", "not a session token")
		return nil, ErrUnauthenticated
	}
	span.SetAttributes(attribute.String("oauth.token_kind", "upstream"))
	id, err := p.identify(ctx, bearer)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	return auth.NewAccessToken(bearer, bearer, id), nil
}

func (p *Proxy) verifySession(ctx context.Context, bearer string, claims *auth.SessionClaims) (*auth.AccessToken, error) {
	g, err := p.broker.Grant(ctx, claims.GrantID)
	if err != nil {
		p.log.Debugw("bearer rejected", "reason", "grant unavailable", "grant_id", claims.GrantID, "error", err)
		return nil, ErrUnauthenticated
	}
	if g.ClientID != claims.ClientID || g.Subject != claims.Subject {
		p.log.Warnw("session token does not match its grant", "grant_id", g.ID)
		return nil, ErrUnauthenticated
	}
	id, err := p.identify(ctx, g.Upstream.AccessToken)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	if id.ID != g.Subject {
		p.log.Warnw("upstream identity changed for grant", "grant_id", g.ID)
		return nil, ErrUnauthenticated
	}
	return auth.NewAccessToken(bearer, g.Upstream.AccessToken, id), nil
}

// identify runs the upstream identity check through the cache.
func (p *Proxy) identify(ctx context.Context, upstream string) (auth.UpstreamIdentity, error) {
	if id, ok := p.cache.get(upstream); ok {
		return id, nil
	}
	id, err := p.verifier.Identify(ctx, upstream)
	if err != nil {
		return auth.UpstreamIdentity{}, err
	}
	p.cache.add(upstream, *id)
	return *id, nil
}
