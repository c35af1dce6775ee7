// Package oauthproxy is the authorization bridge between MCP clients and the
// Planning Center OAuth server.
//
// Clients talk OAuth 2.1 to the bridge (dynamic registration, PKCE, refresh
// tokens). The bridge runs its own authorization code flow against PCO,
// keeps the upstream tokens in a Grant and hands the client a signed session
// token that points at that grant.
package oauthproxy

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"pcoservices/server/internal/auth"
	"pcoservices/server/internal/broker"
	"pcoservices/server/internal/logger"
	"pcoservices/server/internal/store"
)

// Upstream OAuth endpoints, relative to the PCO API host.
const (
	UpstreamAuthorizePath = "/oauth/authorize"
	UpstreamTokenPath     = "/oauth/token"
)

// Bridge endpoints.
const (
	PathAuthorizationServerMetadata = "/.well-known/oauth-authorization-server"
	PathProtectedResourceMetadata   = "/.well-known/oauth-protected-resource"
	PathRegister                    = "/register"
	PathAuthorize                   = "/authorize"
	PathCallback                    = "/auth/callback"
	PathToken                       = "/token"
	PathRevoke                      = "/revoke"
)

const authorizationCodeTTL = 5 * time.Minute

// Config configures a Proxy.
type Config struct {
	// BaseURL is the public URL of this server. It is the issuer and the
	// prefix of every bridge endpoint.
	BaseURL string
	// ResourcePath is the protected MCP endpoint, "/mcp" by default.
	ResourcePath string
	// UpstreamBaseURL hosts the PCO OAuth endpoints.
	UpstreamBaseURL string

	ClientID     string
	ClientSecret string
	Scopes       []string

	RefreshTokenTTL time.Duration

	CacheTTL  time.Duration
	CacheSize int

	// AcceptUpstreamTokens lets clients present raw PCO access tokens.
	AcceptUpstreamTokens bool

	// HTTPClient carries upstream token requests.
	HTTPClient *http.Client
}

// Proxy implements the bridge endpoints and bearer verification.
type Proxy struct {
	cfg      Config
	oauth    *oauth2.Config
	store    store.Store
	signer   *auth.SessionSigner
	verifier *auth.IdentityVerifier
	broker   *broker.TokenBroker
	cache    *verificationCache
	tracer   trace.Tracer
	log      *zap.SugaredLogger
	now      func() time.Time
}

// UpstreamOAuthConfig returns the oauth2 configuration for PCO.
func UpstreamOAuthConfig(cfg Config) *oauth2.Config {
	host := strings.TrimRight(cfg.UpstreamBaseURL, "/")
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   host + UpstreamAuthorizePath,
			TokenURL:  host + UpstreamTokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: strings.TrimRight(cfg.BaseURL, "/") + PathCallback,
		Scopes:      cfg.Scopes,
	}
}

// New creates a Proxy.
func New(cfg Config, st store.Store, signer *auth.SessionSigner, verifier *auth.IdentityVerifier, tb *broker.TokenBroker) (*Proxy, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("upstream client credentials are required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ResourcePath == "" {
		cfg.ResourcePath = "/mcp"
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = auth.DefaultScopes()
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Proxy{
		cfg:      cfg,
		oauth:    UpstreamOAuthConfig(cfg),
		store:    st,
		signer:   signer,
		verifier: verifier,
		broker:   tb,
		cache:    newVerificationCache(cfg.CacheSize, cfg.CacheTTL),
		tracer:   otel.Tracer("pcoservices/server/internal/oauthproxy"),
		log:      logger.Named("oauthproxy"),
		now:      time.Now,
	}, nil
}

// ResourceURL is the protected resource identifier.
func (p *Proxy) ResourceURL() string {
	return p.cfg.BaseURL + p.cfg.ResourcePath
}

// ResourceMetadataURL is advertised in WWW-Authenticate challenges.
func (p *Proxy) ResourceMetadataURL() string {
	return p.cfg.BaseURL + PathProtectedResourceMetadata
}

// Routes mounts the bridge endpoints on r.
func (p *Proxy) Routes(r chi.Router) {
	r.Get(PathAuthorizationServerMetadata, p.ServeAuthorizationServerMetadata)
	r.Get(PathProtectedResourceMetadata, p.ServeProtectedResourceMetadata)
	r.Get(PathProtectedResourceMetadata+p.cfg.ResourcePath, p.ServeProtectedResourceMetadata)
	r.Post(PathRegister, p.ServeRegister)
	r.Get(PathAuthorize, p.ServeAuthorize)
	r.Get(PathCallback, p.ServeCallback)
	r.Post(PathToken, p.ServeToken)
	r.Post(PathRevoke, p.ServeRevoke)
}

// upstreamContext routes oauth2 token requests through the configured client.
func (p *Proxy) upstreamContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.cfg.HTTPClient)
}
