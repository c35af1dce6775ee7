package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every key written by the redis backend.
const DefaultKeyPrefix = "pco-mcp:auth:"

const (
	keyTypeClient  = "client"
	keyTypePending = "pending"
	keyTypeCode    = "code"
	keyTypeGrant   = "grant"
	keyTypeRefresh = "refresh"
)

// RedisStore keeps bridge state in Redis. Upstream tokens and PKCE
// verifiers are sealed before they are written.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	sealer    *Sealer
	now       func() time.Time
}

type storedClient struct {
	ID                      string    `json:"id"`
	SecretHash              string    `json:"secret_hash,omitempty"`
	Name                    string    `json:"name,omitempty"`
	RedirectURIs            []string  `json:"redirect_uris"`
	GrantTypes              []string  `json:"grant_types"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method"`
	CreatedAt               time.Time `json:"created_at"`
}

type storedPending struct {
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	ClientState         string    `json:"client_state,omitempty"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	Scopes              []string  `json:"scopes"`
	Resource            string    `json:"resource,omitempty"`
	SealedVerifier      string    `json:"upstream_verifier,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

type storedCode struct {
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	Scopes              []string  `json:"scopes"`
	Resource            string    `json:"resource,omitempty"`
	Subject             string    `json:"subject"`
	SealedUpstream      string    `json:"upstream"`
	ExpiresAt           time.Time `json:"expires_at"`
}

type storedGrant struct {
	ID               string    `json:"id"`
	ClientID         string    `json:"client_id"`
	Subject          string    `json:"subject"`
	Scopes           []string  `json:"scopes"`
	SealedUpstream   string    `json:"upstream"`
	RefreshTokenHash string    `json:"refresh_token_hash,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewRedisStore connects to redisURL (redis:// or rediss://) and checks the
// connection.
func NewRedisStore(ctx context.Context, redisURL, keyPrefix string, sealer *Sealer) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "connect to redis")
	}
	return NewRedisStoreWithClient(client, keyPrefix, sealer), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string, sealer *Sealer) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		sealer:    sealer,
		now:       time.Now,
	}
}

func (s *RedisStore) key(typ, id string) string {
	return s.keyPrefix + typ + ":" + id
}

func (s *RedisStore) RegisterClient(ctx context.Context, c *Client) error {
	data, err := json.Marshal(storedClient{
		ID:                      c.ID,
		SecretHash:              c.SecretHash,
		Name:                    c.Name,
		RedirectURIs:            c.RedirectURIs,
		GrantTypes:              c.GrantTypes,
		TokenEndpointAuthMethod: c.TokenEndpointAuthMethod,
		CreatedAt:               c.CreatedAt,
	})
	if err != nil {
		return errors.Wrap(err, "marshal client")
	}
	return s.client.Set(ctx, s.key(keyTypeClient, c.ID), data, 0).Err()
}

func (s *RedisStore) GetClient(ctx context.Context, id string) (*Client, error) {
	data, err := s.client.Get(ctx, s.key(keyTypeClient, id)).Bytes()
	if err != nil {
		return nil, notFound(err, "get client")
	}
	var stored storedClient
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, errors.Wrap(err, "unmarshal client")
	}
	return &Client{
		ID:                      stored.ID,
		SecretHash:              stored.SecretHash,
		Name:                    stored.Name,
		RedirectURIs:            stored.RedirectURIs,
		GrantTypes:              stored.GrantTypes,
		TokenEndpointAuthMethod: stored.TokenEndpointAuthMethod,
		CreatedAt:               stored.CreatedAt,
	}, nil
}

func (s *RedisStore) StorePendingAuthorization(ctx context.Context, state string, p *PendingAuthorization) error {
	stored := storedPending{
		ClientID:            p.ClientID,
		RedirectURI:         p.RedirectURI,
		ClientState:         p.ClientState,
		CodeChallenge:       p.CodeChallenge,
		CodeChallengeMethod: p.CodeChallengeMethod,
		Scopes:              p.Scopes,
		Resource:            p.Resource,
		CreatedAt:           p.CreatedAt,
	}
	if p.UpstreamVerifier != "" {
		sealed, err := s.sealer.Seal([]byte(p.UpstreamVerifier))
		if err != nil {
			return errors.Wrap(err, "seal verifier")
		}
		stored.SealedVerifier = sealed
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return errors.Wrap(err, "marshal pending authorization")
	}
	return s.client.Set(ctx, s.key(keyTypePending, state), data, PendingAuthorizationTTL).Err()
}

func (s *RedisStore) TakePendingAuthorization(ctx context.Context, state string) (*PendingAuthorization, error) {
	data, err := s.client.GetDel(ctx, s.key(keyTypePending, state)).Bytes()
	if err != nil {
		return nil, notFound(err, "take pending authorization")
	}
	var stored storedPending
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, errors.Wrap(err, "unmarshal pending authorization")
	}
	p := &PendingAuthorization{
		ClientID:            stored.ClientID,
		RedirectURI:         stored.RedirectURI,
		ClientState:         stored.ClientState,
		CodeChallenge:       stored.CodeChallenge,
		CodeChallengeMethod: stored.CodeChallengeMethod,
		Scopes:              stored.Scopes,
		Resource:            stored.Resource,
		CreatedAt:           stored.CreatedAt,
	}
	// The key TTL normally removes expired entries first.
	if p.Expired(s.now()) {
		return nil, ErrExpired
	}
	if stored.SealedVerifier != "" {
		v, err := s.sealer.Open(stored.SealedVerifier)
		if err != nil {
			return nil, errors.Wrap(err, "open verifier")
		}
		p.UpstreamVerifier = string(v)
	}
	return p, nil
}

func (s *RedisStore) StoreAuthorizationCode(ctx context.Context, codeHash string, c *AuthorizationCode) error {
	ttl := c.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrExpired
	}
	upstream, err := s.sealer.SealJSON(c.Upstream)
	if err != nil {
		return errors.Wrap(err, "seal upstream tokens")
	}
	data, err := json.Marshal(storedCode{
		ClientID:            c.ClientID,
		RedirectURI:         c.RedirectURI,
		CodeChallenge:       c.CodeChallenge,
		CodeChallengeMethod: c.CodeChallengeMethod,
		Scopes:              c.Scopes,
		Resource:            c.Resource,
		Subject:             c.Subject,
		SealedUpstream:      upstream,
		ExpiresAt:           c.ExpiresAt,
	})
	if err != nil {
		return errors.Wrap(err, "marshal authorization code")
	}
	return s.client.Set(ctx, s.key(keyTypeCode, codeHash), data, ttl).Err()
}

func (s *RedisStore) TakeAuthorizationCode(ctx context.Context, codeHash string) (*AuthorizationCode, error) {
	data, err := s.client.GetDel(ctx, s.key(keyTypeCode, codeHash)).Bytes()
	if err != nil {
		return nil, notFound(err, "take authorization code")
	}
	var stored storedCode
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, errors.Wrap(err, "unmarshal authorization code")
	}
	if s.now().After(stored.ExpiresAt) {
		return nil, ErrExpired
	}
	c := &AuthorizationCode{
		ClientID:            stored.ClientID,
		RedirectURI:         stored.RedirectURI,
		CodeChallenge:       stored.CodeChallenge,
		CodeChallengeMethod: stored.CodeChallengeMethod,
		Scopes:              stored.Scopes,
		Resource:            stored.Resource,
		Subject:             stored.Subject,
		ExpiresAt:           stored.ExpiresAt,
	}
	if err := s.sealer.OpenJSON(stored.SealedUpstream, &c.Upstream); err != nil {
		return nil, errors.Wrap(err, "open upstream tokens")
	}
	return c, nil
}

func (s *RedisStore) SaveGrant(ctx context.Context, g *Grant) error {
	var ttl time.Duration
	if !g.RefreshExpiresAt.IsZero() {
		ttl = g.RefreshExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return ErrExpired
		}
	}

	upstream, err := s.sealer.SealJSON(g.Upstream)
	if err != nil {
		return errors.Wrap(err, "seal upstream tokens")
	}
	data, err := json.Marshal(storedGrant{
		ID:               g.ID,
		ClientID:         g.ClientID,
		Subject:          g.Subject,
		Scopes:           g.Scopes,
		SealedUpstream:   upstream,
		RefreshTokenHash: g.RefreshTokenHash,
		RefreshExpiresAt: g.RefreshExpiresAt,
		CreatedAt:        g.CreatedAt,
		UpdatedAt:        g.UpdatedAt,
	})
	if err != nil {
		return errors.Wrap(err, "marshal grant")
	}

	oldHash, err := s.refreshHashOf(ctx, g.ID)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(keyTypeGrant, g.ID), data, ttl)
		if oldHash != "" && oldHash != g.RefreshTokenHash {
			pipe.Del(ctx, s.key(keyTypeRefresh, oldHash))
		}
		if g.RefreshTokenHash != "" {
			pipe.Set(ctx, s.key(keyTypeRefresh, g.RefreshTokenHash), g.ID, ttl)
		}
		return nil
	})
	return errors.Wrap(err, "save grant")
}

// RotateRefreshToken claims the old refresh index entry with GETDEL, so
// only one caller can rotate it, then rewrites the grant under WATCH.
func (s *RedisStore) RotateRefreshToken(ctx context.Context, oldHash, newHash string, expiresAt time.Time) (*Grant, error) {
	id, err := s.client.GetDel(ctx, s.key(keyTypeRefresh, oldHash)).Result()
	if err != nil {
		return nil, notFound(err, "claim refresh token")
	}
	var stored storedGrant
	err = s.updateGrant(ctx, id, func(sg *storedGrant) {
		sg.RefreshTokenHash = newHash
		sg.RefreshExpiresAt = expiresAt
		sg.UpdatedAt = s.now()
		stored = *sg
	})
	if err != nil {
		return nil, err
	}
	g := &Grant{
		ID:               stored.ID,
		ClientID:         stored.ClientID,
		Subject:          stored.Subject,
		Scopes:           stored.Scopes,
		RefreshTokenHash: stored.RefreshTokenHash,
		RefreshExpiresAt: stored.RefreshExpiresAt,
		CreatedAt:        stored.CreatedAt,
		UpdatedAt:        stored.UpdatedAt,
	}
	if err := s.sealer.OpenJSON(stored.SealedUpstream, &g.Upstream); err != nil {
		return nil, errors.Wrap(err, "open upstream tokens")
	}
	return g, nil
}

func (s *RedisStore) UpdateUpstream(ctx context.Context, id string, tokens UpstreamTokens) error {
	upstream, err := s.sealer.SealJSON(tokens)
	if err != nil {
		return errors.Wrap(err, "seal upstream tokens")
	}
	return s.updateGrant(ctx, id, func(sg *storedGrant) {
		sg.SealedUpstream = upstream
		sg.UpdatedAt = s.now()
	})
}

const maxGrantUpdateRetries = 5

// updateGrant applies fn to the stored grant inside a WATCH transaction
// and keeps the refresh index pointing at the grant's current hash.
func (s *RedisStore) updateGrant(ctx context.Context, id string, fn func(*storedGrant)) error {
	key := s.key(keyTypeGrant, id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return notFound(err, "get grant")
		}
		var stored storedGrant
		if err := json.Unmarshal(data, &stored); err != nil {
			return errors.Wrap(err, "unmarshal grant")
		}
		oldHash := stored.RefreshTokenHash
		fn(&stored)

		var ttl time.Duration
		if !stored.RefreshExpiresAt.IsZero() {
			ttl = stored.RefreshExpiresAt.Sub(s.now())
			if ttl <= 0 {
				return ErrExpired
			}
		}
		out, err := json.Marshal(stored)
		if err != nil {
			return errors.Wrap(err, "marshal grant")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, ttl)
			if oldHash != "" && oldHash != stored.RefreshTokenHash {
				pipe.Del(ctx, s.key(keyTypeRefresh, oldHash))
			}
			if stored.RefreshTokenHash != "" {
				pipe.Set(ctx, s.key(keyTypeRefresh, stored.RefreshTokenHash), id, ttl)
			}
			return nil
		})
		return err
	}
	for i := 0; i < maxGrantUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrExpired) {
			return errors.Wrap(err, "update grant")
		}
		return err
	}
	return errors.New("update grant: too much contention")
}

// refreshHashOf returns the refresh hash currently indexed for a grant.
func (s *RedisStore) refreshHashOf(ctx context.Context, id string) (string, error) {
	data, err := s.client.Get(ctx, s.key(keyTypeGrant, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "get grant")
	}
	var stored storedGrant
	if err := json.Unmarshal(data, &stored); err != nil {
		return "", errors.Wrap(err, "unmarshal grant")
	}
	return stored.RefreshTokenHash, nil
}

func (s *RedisStore) GetGrant(ctx context.Context, id string) (*Grant, error) {
	data, err := s.client.Get(ctx, s.key(keyTypeGrant, id)).Bytes()
	if err != nil {
		return nil, notFound(err, "get grant")
	}
	var stored storedGrant
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, errors.Wrap(err, "unmarshal grant")
	}
	g := &Grant{
		ID:               stored.ID,
		ClientID:         stored.ClientID,
		Subject:          stored.Subject,
		Scopes:           stored.Scopes,
		RefreshTokenHash: stored.RefreshTokenHash,
		RefreshExpiresAt: stored.RefreshExpiresAt,
		CreatedAt:        stored.CreatedAt,
		UpdatedAt:        stored.UpdatedAt,
	}
	if g.Expired(s.now()) {
		return nil, ErrExpired
	}
	if err := s.sealer.OpenJSON(stored.SealedUpstream, &g.Upstream); err != nil {
		return nil, errors.Wrap(err, "open upstream tokens")
	}
	return g, nil
}

func (s *RedisStore) GetGrantByRefreshToken(ctx context.Context, refreshHash string) (*Grant, error) {
	id, err := s.client.Get(ctx, s.key(keyTypeRefresh, refreshHash)).Result()
	if err != nil {
		return nil, notFound(err, "get refresh token")
	}
	return s.GetGrant(ctx, id)
}

func (s *RedisStore) DeleteGrant(ctx context.Context, id string) error {
	hash, err := s.refreshHashOf(ctx, id)
	if err != nil {
		return err
	}
	keys := []string{s.key(keyTypeGrant, id)}
	if hash != "" {
		keys = append(keys, s.key(keyTypeRefresh, hash))
	}
	return errors.Wrap(s.client.Del(ctx, keys...).Err(), "delete grant")
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func notFound(err error, op string) error {
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	return errors.Wrap(err, op)
}
