package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// stringList is a text column holding a JSON array.
type stringList []string

func (l stringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *stringList) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.Errorf("unsupported type for stringList: %T", value)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*l = out
	return nil
}

// --- Models ---

type clientRecord struct {
	ID                      string     `gorm:"primaryKey;type:text"`
	SecretHash              string     `gorm:"type:text;not null;default:''"`
	Name                    string     `gorm:"type:text;not null;default:''"`
	RedirectURIs            stringList `gorm:"type:text;not null"`
	GrantTypes              stringList `gorm:"type:text;not null"`
	TokenEndpointAuthMethod string     `gorm:"type:text;not null"`
	CreatedAt               time.Time
}

func (clientRecord) TableName() string { return "oauth_clients" }

type pendingRecord struct {
	State               string     `gorm:"primaryKey;type:text"`
	ClientID            string     `gorm:"type:text;not null"`
	RedirectURI         string     `gorm:"type:text;not null"`
	ClientState         string     `gorm:"type:text;not null;default:''"`
	CodeChallenge       string     `gorm:"type:text;not null"`
	CodeChallengeMethod string     `gorm:"type:text;not null"`
	Scopes              stringList `gorm:"type:text;not null"`
	Resource            string     `gorm:"type:text;not null;default:''"`
	SealedVerifier      string     `gorm:"type:text;not null;default:''"`
	CreatedAt           time.Time
}

func (pendingRecord) TableName() string { return "oauth_pending_authorizations" }

type codeRecord struct {
	CodeHash            string     `gorm:"primaryKey;type:text"`
	ClientID            string     `gorm:"type:text;not null"`
	RedirectURI         string     `gorm:"type:text;not null"`
	CodeChallenge       string     `gorm:"type:text;not null"`
	CodeChallengeMethod string     `gorm:"type:text;not null"`
	Scopes              stringList `gorm:"type:text;not null"`
	Resource            string     `gorm:"type:text;not null;default:''"`
	Subject             string     `gorm:"type:text;not null"`
	SealedUpstream      string     `gorm:"type:text;not null"`
	ExpiresAt           time.Time  `gorm:"not null"`
}

func (codeRecord) TableName() string { return "oauth_authorization_codes" }

type grantRecord struct {
	ID               string     `gorm:"primaryKey;type:text"`
	ClientID         string     `gorm:"type:text;not null;index"`
	Subject          string     `gorm:"type:text;not null"`
	Scopes           stringList `gorm:"type:text;not null"`
	SealedUpstream   string     `gorm:"type:text;not null"`
	RefreshTokenHash string     `gorm:"type:text;index"`
	RefreshExpiresAt time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (grantRecord) TableName() string { return "oauth_grants" }

// GormStore keeps bridge state in a SQL database through gorm.
type GormStore struct {
	db     *gorm.DB
	sealer *Sealer
	now    func() time.Time
}

// OpenPostgres opens a postgres connection pool through pgx.
func OpenPostgres(ctx context.Context, dsn string) (*gorm.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse database url")
	}
	sqlDB := stdlib.OpenDB(*cfg)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "connect to postgres")
	}
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "open gorm")
	}
	return db, nil
}

// NewGormStore migrates the schema and returns a store on db.
func NewGormStore(db *gorm.DB, sealer *Sealer) (*GormStore, error) {
	if err := db.AutoMigrate(&clientRecord{}, &pendingRecord{}, &codeRecord{}, &grantRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate")
	}
	return &GormStore{db: db, sealer: sealer, now: time.Now}, nil
}

func (s *GormStore) RegisterClient(ctx context.Context, c *Client) error {
	rec := clientRecord{
		ID:                      c.ID,
		SecretHash:              c.SecretHash,
		Name:                    c.Name,
		RedirectURIs:            stringList(c.RedirectURIs),
		GrantTypes:              stringList(c.GrantTypes),
		TokenEndpointAuthMethod: c.TokenEndpointAuthMethod,
		CreatedAt:               c.CreatedAt,
	}
	return errors.Wrap(s.db.WithContext(ctx).Create(&rec).Error, "create client")
}

func (s *GormStore) GetClient(ctx context.Context, id string) (*Client, error) {
	var rec clientRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, recordNotFound(err, "get client")
	}
	return &Client{
		ID:                      rec.ID,
		SecretHash:              rec.SecretHash,
		Name:                    rec.Name,
		RedirectURIs:            []string(rec.RedirectURIs),
		GrantTypes:              []string(rec.GrantTypes),
		TokenEndpointAuthMethod: rec.TokenEndpointAuthMethod,
		CreatedAt:               rec.CreatedAt,
	}, nil
}

func (s *GormStore) StorePendingAuthorization(ctx context.Context, state string, p *PendingAuthorization) error {
	rec := pendingRecord{
		State:               state,
		ClientID:            p.ClientID,
		RedirectURI:         p.RedirectURI,
		ClientState:         p.ClientState,
		CodeChallenge:       p.CodeChallenge,
		CodeChallengeMethod: p.CodeChallengeMethod,
		Scopes:              stringList(p.Scopes),
		Resource:            p.Resource,
		CreatedAt:           p.CreatedAt,
	}
	if p.UpstreamVerifier != "" {
		sealed, err := s.sealer.Seal([]byte(p.UpstreamVerifier))
		if err != nil {
			return errors.Wrap(err, "seal verifier")
		}
		rec.SealedVerifier = sealed
	}
	return errors.Wrap(s.db.WithContext(ctx).Create(&rec).Error, "create pending authorization")
}

func (s *GormStore) TakePendingAuthorization(ctx context.Context, state string) (*PendingAuthorization, error) {
	var rec pendingRecord
	if err := s.take(ctx, &rec, "state = ?", state); err != nil {
		return nil, err
	}
	p := &PendingAuthorization{
		ClientID:            rec.ClientID,
		RedirectURI:         rec.RedirectURI,
		ClientState:         rec.ClientState,
		CodeChallenge:       rec.CodeChallenge,
		CodeChallengeMethod: rec.CodeChallengeMethod,
		Scopes:              []string(rec.Scopes),
		Resource:            rec.Resource,
		CreatedAt:           rec.CreatedAt,
	}
	if p.Expired(s.now()) {
		return nil, ErrExpired
	}
	if rec.SealedVerifier != "" {
		v, err := s.sealer.Open(rec.SealedVerifier)
		if err != nil {
			return nil, errors.Wrap(err, "open verifier")
		}
		p.UpstreamVerifier = string(v)
	}
	return p, nil
}

func (s *GormStore) StoreAuthorizationCode(ctx context.Context, codeHash string, c *AuthorizationCode) error {
	upstream, err := s.sealer.SealJSON(c.Upstream)
	if err != nil {
		return errors.Wrap(err, "seal upstream tokens")
	}
	rec := codeRecord{
		CodeHash:            codeHash,
		ClientID:            c.ClientID,
		RedirectURI:         c.RedirectURI,
		CodeChallenge:       c.CodeChallenge,
		CodeChallengeMethod: c.CodeChallengeMethod,
		Scopes:              stringList(c.Scopes),
		Resource:            c.Resource,
		Subject:             c.Subject,
		SealedUpstream:      upstream,
		ExpiresAt:           c.ExpiresAt,
	}
	return errors.Wrap(s.db.WithContext(ctx).Create(&rec).Error, "create authorization code")
}

func (s *GormStore) TakeAuthorizationCode(ctx context.Context, codeHash string) (*AuthorizationCode, error) {
	var rec codeRecord
	if err := s.take(ctx, &rec, "code_hash = ?", codeHash); err != nil {
		return nil, err
	}
	if s.now().After(rec.ExpiresAt) {
		return nil, ErrExpired
	}
	c := &AuthorizationCode{
		ClientID:            rec.ClientID,
		RedirectURI:         rec.RedirectURI,
		CodeChallenge:       rec.CodeChallenge,
		CodeChallengeMethod: rec.CodeChallengeMethod,
		Scopes:              []string(rec.Scopes),
		Resource:            rec.Resource,
		Subject:             rec.Subject,
		ExpiresAt:           rec.ExpiresAt,
	}
	if err := s.sealer.OpenJSON(rec.SealedUpstream, &c.Upstream); err != nil {
		return nil, errors.Wrap(err, "open upstream tokens")
	}
	return c, nil
}

// take loads the row matching the condition and deletes it in one
// transaction. A concurrent take of the same row sees zero affected rows.
func (s *GormStore) take(ctx context.Context, dest interface{}, query string, arg string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(query, arg).First(dest).Error; err != nil {
			return recordNotFound(err, "load")
		}
		res := tx.Where(query, arg).Delete(dest)
		if res.Error != nil {
			return errors.Wrap(res.Error, "delete")
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *GormStore) SaveGrant(ctx context.Context, g *Grant) error {
	upstream, err := s.sealer.SealJSON(g.Upstream)
	if err != nil {
		return errors.Wrap(err, "seal upstream tokens")
	}
	rec := grantRecord{
		ID:               g.ID,
		ClientID:         g.ClientID,
		Subject:          g.Subject,
		Scopes:           stringList(g.Scopes),
		SealedUpstream:   upstream,
		RefreshTokenHash: g.RefreshTokenHash,
		RefreshExpiresAt: g.RefreshExpiresAt,
		CreatedAt:        g.CreatedAt,
		UpdatedAt:        g.UpdatedAt,
	}
	return errors.Wrap(s.db.WithContext(ctx).Save(&rec).Error, "save grant")
}

func (s *GormStore) GetGrant(ctx context.Context, id string) (*Grant, error) {
	return s.findGrant(ctx, "id = ?", id)
}

func (s *GormStore) GetGrantByRefreshToken(ctx context.Context, refreshHash string) (*Grant, error) {
	if refreshHash == "" {
		return nil, ErrNotFound
	}
	return s.findGrant(ctx, "refresh_token_hash = ?", refreshHash)
}

// RotateRefreshToken updates the row only while it still carries oldHash,
// so of two concurrent rotations exactly one sees an affected row.
func (s *GormStore) RotateRefreshToken(ctx context.Context, oldHash, newHash string, expiresAt time.Time) (*Grant, error) {
	g, err := s.GetGrantByRefreshToken(ctx, oldHash)
	if err != nil {
		return nil, err
	}
	now := s.now()
	res := s.db.WithContext(ctx).Model(&grantRecord{}).
		Where("id = ? AND refresh_token_hash = ?", g.ID, oldHash).
		Updates(map[string]interface{}{
			"refresh_token_hash": newHash,
			"refresh_expires_at": expiresAt,
			"updated_at":         now,
		})
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "rotate refresh token")
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	g.RefreshTokenHash = newHash
	g.RefreshExpiresAt = expiresAt
	g.UpdatedAt = now
	return g, nil
}

func (s *GormStore) UpdateUpstream(ctx context.Context, id string, tokens UpstreamTokens) error {
	upstream, err := s.sealer.SealJSON(tokens)
	if err != nil {
		return errors.Wrap(err, "seal upstream tokens")
	}
	res := s.db.WithContext(ctx).Model(&grantRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"sealed_upstream": upstream,
			"updated_at":      s.now(),
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update upstream tokens")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) findGrant(ctx context.Context, query, arg string) (*Grant, error) {
	var rec grantRecord
	if err := s.db.WithContext(ctx).Where(query, arg).First(&rec).Error; err != nil {
		return nil, recordNotFound(err, "get grant")
	}
	g := &Grant{
		ID:               rec.ID,
		ClientID:         rec.ClientID,
		Subject:          rec.Subject,
		Scopes:           []string(rec.Scopes),
		RefreshTokenHash: rec.RefreshTokenHash,
		RefreshExpiresAt: rec.RefreshExpiresAt,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
	if g.Expired(s.now()) {
		s.db.WithContext(ctx).Where("id = ?", rec.ID).Delete(&grantRecord{})
		return nil, ErrExpired
	}
	if err := s.sealer.OpenJSON(rec.SealedUpstream, &g.Upstream); err != nil {
		return nil, errors.Wrap(err, "open upstream tokens")
	}
	return g, nil
}

func (s *GormStore) DeleteGrant(ctx context.Context, id string) error {
	return errors.Wrap(s.db.WithContext(ctx).Where("id = ?", id).Delete(&grantRecord{}).Error, "delete grant")
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func recordNotFound(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return errors.Wrap(err, op)
}
