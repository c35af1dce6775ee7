package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type backend struct {
	name string
	open func(t *testing.T, clock *testClock) Store
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T, clock *testClock) Store {
			s := NewMemoryStore()
			s.now = clock.now
			return s
		}},
		{"redis", func(t *testing.T, clock *testClock) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			s := NewRedisStoreWithClient(client, "", testSealer(t))
			s.now = clock.now
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
		{"gorm", func(t *testing.T, clock *testClock) Store {
			db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "store.db")), &gorm.Config{
				Logger: gormlogger.Default.LogMode(gormlogger.Silent),
			})
			require.NoError(t, err)
			s, err := NewGormStore(db, testSealer(t))
			require.NoError(t, err)
			s.now = clock.now
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store, clock *testClock)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			clock := &testClock{t: epoch}
			fn(t, b.open(t, clock), clock)
		})
	}
}

func sampleUpstream() UpstreamTokens {
	return UpstreamTokens{
		AccessToken:  "pco-access",
		RefreshToken: "pco-refresh",
		TokenType:    "Bearer",
		Expiry:       epoch.Add(2 * time.Hour),
	}
}

func TestStoreClients(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ *testClock) {
		ctx := context.Background()

		_, err := s.GetClient(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)

		c := &Client{
			ID:                      "client-1",
			Name:                    "Desktop",
			RedirectURIs:            []string{"http://localhost:3000/cb", "https://app.example.com/cb"},
			GrantTypes:              []string{"authorization_code", "refresh_token"},
			TokenEndpointAuthMethod: "none",
			CreatedAt:               epoch,
		}
		require.NoError(t, s.RegisterClient(ctx, c))

		got, err := s.GetClient(ctx, "client-1")
		require.NoError(t, err)
		assert.Equal(t, "Desktop", got.Name)
		assert.Equal(t, c.RedirectURIs, got.RedirectURIs)
		assert.Equal(t, c.GrantTypes, got.GrantTypes)
		assert.True(t, got.IsPublic())
		assert.True(t, got.HasRedirectURI("https://app.example.com/cb"))
		assert.False(t, got.HasRedirectURI("https://app.example.com/cb/"))
	})
}

func TestStorePendingAuthorization(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		p := &PendingAuthorization{
			ClientID:            "client-1",
			RedirectURI:         "http://localhost:3000/cb",
			ClientState:         "xyz",
			CodeChallenge:       "challenge",
			CodeChallengeMethod: "S256",
			Scopes:              []string{"services", "people"},
			UpstreamVerifier:    "upstream-verifier",
			CreatedAt:           clock.now(),
		}

		t.Run("single use", func(t *testing.T) {
			require.NoError(t, s.StorePendingAuthorization(ctx, "state-1", p))

			got, err := s.TakePendingAuthorization(ctx, "state-1")
			require.NoError(t, err)
			assert.Equal(t, "xyz", got.ClientState)
			assert.Equal(t, "upstream-verifier", got.UpstreamVerifier)
			assert.Equal(t, []string{"services", "people"}, got.Scopes)

			_, err = s.TakePendingAuthorization(ctx, "state-1")
			require.ErrorIs(t, err, ErrNotFound)
		})

		t.Run("expired", func(t *testing.T) {
			require.NoError(t, s.StorePendingAuthorization(ctx, "state-2", p))
			clock.advance(PendingAuthorizationTTL + time.Second)

			_, err := s.TakePendingAuthorization(ctx, "state-2")
			require.ErrorIs(t, err, ErrExpired)
		})
	})
}

func TestStoreAuthorizationCode(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		newCode := func() *AuthorizationCode {
			return &AuthorizationCode{
				ClientID:            "client-1",
				RedirectURI:         "http://localhost:3000/cb",
				CodeChallenge:       "challenge",
				CodeChallengeMethod: "S256",
				Scopes:              []string{"services", "people"},
				Subject:             "1001",
				Upstream:            sampleUpstream(),
				ExpiresAt:           clock.now().Add(5 * time.Minute),
			}
		}

		t.Run("single use", func(t *testing.T) {
			hash := HashToken("code-1")
			require.NoError(t, s.StoreAuthorizationCode(ctx, hash, newCode()))

			got, err := s.TakeAuthorizationCode(ctx, hash)
			require.NoError(t, err)
			assert.Equal(t, "1001", got.Subject)
			assert.Equal(t, "pco-access", got.Upstream.AccessToken)
			assert.Equal(t, "pco-refresh", got.Upstream.RefreshToken)
			assert.WithinDuration(t, epoch.Add(2*time.Hour), got.Upstream.Expiry, time.Second)

			_, err = s.TakeAuthorizationCode(ctx, hash)
			require.ErrorIs(t, err, ErrNotFound)
		})

		t.Run("expired", func(t *testing.T) {
			hash := HashToken("code-2")
			require.NoError(t, s.StoreAuthorizationCode(ctx, hash, newCode()))
			clock.advance(6 * time.Minute)

			_, err := s.TakeAuthorizationCode(ctx, hash)
			require.ErrorIs(t, err, ErrExpired)
		})
	})
}

func TestStoreGrants(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		g := &Grant{
			ID:               "grant-1",
			ClientID:         "client-1",
			Subject:          "1001",
			Scopes:           []string{"services", "people"},
			Upstream:         sampleUpstream(),
			RefreshTokenHash: HashToken("refresh-1"),
			RefreshExpiresAt: clock.now().Add(24 * time.Hour),
			CreatedAt:        clock.now(),
			UpdatedAt:        clock.now(),
		}
		require.NoError(t, s.SaveGrant(ctx, g))

		got, err := s.GetGrant(ctx, "grant-1")
		require.NoError(t, err)
		assert.Equal(t, "1001", got.Subject)
		assert.Equal(t, "pco-access", got.Upstream.AccessToken)

		byRefresh, err := s.GetGrantByRefreshToken(ctx, HashToken("refresh-1"))
		require.NoError(t, err)
		assert.Equal(t, "grant-1", byRefresh.ID)

		// Rotation replaces the refresh index.
		g.RefreshTokenHash = HashToken("refresh-2")
		g.Upstream.AccessToken = "pco-access-2"
		require.NoError(t, s.SaveGrant(ctx, g))

		_, err = s.GetGrantByRefreshToken(ctx, HashToken("refresh-1"))
		require.ErrorIs(t, err, ErrNotFound)
		byRefresh, err = s.GetGrantByRefreshToken(ctx, HashToken("refresh-2"))
		require.NoError(t, err)
		assert.Equal(t, "pco-access-2", byRefresh.Upstream.AccessToken)

		require.NoError(t, s.DeleteGrant(ctx, "grant-1"))
		_, err = s.GetGrant(ctx, "grant-1")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetGrantByRefreshToken(ctx, HashToken("refresh-2"))
		require.ErrorIs(t, err, ErrNotFound)

		// Deleting an unknown grant is not an error.
		require.NoError(t, s.DeleteGrant(ctx, "grant-1"))
	})
}

func TestStoreRotateRefreshToken(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		require.NoError(t, s.SaveGrant(ctx, &Grant{
			ID:               "grant-1",
			ClientID:         "client-1",
			Subject:          "1001",
			Upstream:         sampleUpstream(),
			RefreshTokenHash: HashToken("refresh-1"),
			RefreshExpiresAt: clock.now().Add(time.Hour),
			CreatedAt:        clock.now(),
			UpdatedAt:        clock.now(),
		}))
		clock.advance(time.Minute)

		rotated, err := s.RotateRefreshToken(ctx, HashToken("refresh-1"), HashToken("refresh-2"), clock.now().Add(24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, "grant-1", rotated.ID)
		assert.Equal(t, HashToken("refresh-2"), rotated.RefreshTokenHash)
		assert.Equal(t, "pco-access", rotated.Upstream.AccessToken)

		// A second rotation of the same token loses.
		_, err = s.RotateRefreshToken(ctx, HashToken("refresh-1"), HashToken("refresh-3"), clock.now().Add(24*time.Hour))
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetGrantByRefreshToken(ctx, HashToken("refresh-3"))
		require.ErrorIs(t, err, ErrNotFound)

		t.Run("update upstream keeps the refresh hash", func(t *testing.T) {
			next := sampleUpstream()
			next.AccessToken = "pco-access-2"
			require.NoError(t, s.UpdateUpstream(ctx, "grant-1", next))

			got, err := s.GetGrantByRefreshToken(ctx, HashToken("refresh-2"))
			require.NoError(t, err)
			assert.Equal(t, "pco-access-2", got.Upstream.AccessToken)
			assert.Equal(t, HashToken("refresh-2"), got.RefreshTokenHash)
			_, err = s.GetGrantByRefreshToken(ctx, HashToken("refresh-1"))
			require.ErrorIs(t, err, ErrNotFound)
		})

		t.Run("update upstream of unknown grant", func(t *testing.T) {
			require.ErrorIs(t, s.UpdateUpstream(ctx, "missing", sampleUpstream()), ErrNotFound)
		})
	})
}

func TestStoreGrantExpiry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		require.NoError(t, s.SaveGrant(ctx, &Grant{
			ID:               "grant-1",
			ClientID:         "client-1",
			Subject:          "1001",
			Upstream:         sampleUpstream(),
			RefreshTokenHash: HashToken("refresh-1"),
			RefreshExpiresAt: clock.now().Add(time.Hour),
			CreatedAt:        clock.now(),
			UpdatedAt:        clock.now(),
		}))
		clock.advance(2 * time.Hour)

		_, err := s.GetGrant(ctx, "grant-1")
		require.ErrorIs(t, err, ErrExpired)
	})
}

func TestStorePing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ *testClock) {
		require.NoError(t, s.Ping(context.Background()))
	})
}

func TestRedisStoreSealsUpstreamTokens(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client, "test:", testSealer(t))
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SaveGrant(ctx, &Grant{
		ID:               "grant-1",
		ClientID:         "client-1",
		Subject:          "1001",
		Upstream:         sampleUpstream(),
		RefreshTokenHash: HashToken("refresh-1"),
		RefreshExpiresAt: time.Now().Add(time.Hour),
	}))

	raw, err := mr.Get("test:grant:grant-1")
	require.NoError(t, err)
	assert.False(t, strings.Contains(raw, "pco-access"))
	assert.False(t, strings.Contains(raw, "pco-refresh"))
	assert.Contains(t, raw, `"upstream":"v1:`)

	id, err := mr.Get("test:refresh:" + HashToken("refresh-1"))
	require.NoError(t, err)
	assert.Equal(t, "grant-1", id)
	assert.True(t, mr.TTL("test:refresh:"+HashToken("refresh-1")) > 0)
}

func TestNewRedisStoreBadURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not a url", "", testSealer(t))
	require.Error(t, err)
}

func TestStringList(t *testing.T) {
	t.Run("value", func(t *testing.T) {
		v, err := stringList{"a", "b"}.Value()
		require.NoError(t, err)
		assert.Equal(t, `["a","b"]`, v)

		v, err = stringList(nil).Value()
		require.NoError(t, err)
		assert.Equal(t, "[]", v)
	})

	t.Run("scan", func(t *testing.T) {
		var l stringList
		require.NoError(t, l.Scan([]byte(`["x"]`)))
		assert.Equal(t, stringList{"x"}, l)

		require.NoError(t, l.Scan(`["y","z"]`))
		assert.Equal(t, stringList{"y", "z"}, l)

		require.NoError(t, l.Scan(nil))
		assert.Nil(t, l)

		assert.Error(t, l.Scan(42))
	})
}

func TestHashToken(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
	assert.Len(t, HashToken("abc"), 64)
}
