package auth

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"pcoservices/server/internal/logger"
)

const (
	// IdentityPath is the PCO endpoint describing the token's owner.
	IdentityPath = "/people/v2/me"

	identityTimeout = 10 * time.Second
	maxIdentitySize = 1 << 20
)

// IdentityVerifier validates upstream tokens by asking PCO who owns them.
// It holds no cache; repeated calls re-query the endpoint.
type IdentityVerifier struct {
	endpoint string
	client   *http.Client
	log      *zap.SugaredLogger
}

// VerifierOption configures an IdentityVerifier.
type VerifierOption func(*IdentityVerifier)

// WithIdentityTransport replaces the HTTP transport. The 10s bound stays.
func WithIdentityTransport(rt http.RoundTripper) VerifierOption {
	return func(v *IdentityVerifier) { v.client.Transport = rt }
}

// NewIdentityVerifier creates a verifier against apiBaseURL.
func NewIdentityVerifier(apiBaseURL string, opts ...VerifierOption) *IdentityVerifier {
	v := &IdentityVerifier{
		endpoint: strings.TrimRight(apiBaseURL, "/") + IdentityPath,
		client:   &http.Client{Timeout: identityTimeout},
		log:      logger.Named("identity"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyToken returns an AccessToken whose bearer and upstream token are both
// token. Every failure (transport, timeout, non-200, malformed body) yields
// ErrInvalidToken.
func (v *IdentityVerifier) VerifyToken(ctx context.Context, token string) (*AccessToken, error) {
	id, err := v.Identify(ctx, token)
	if err != nil {
		return nil, err
	}
	return NewAccessToken(token, token, *id), nil
}

// Identify resolves token to the PCO person that owns it.
func (v *IdentityVerifier) Identify(ctx context.Context, token string) (*UpstreamIdentity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	id, err := v.fetch(ctx, token)
	if err != nil {
		v.log.Debugw("upstream token rejected", "error", err)
		return nil, ErrInvalidToken
	}
	return id, nil
}

func (v *IdentityVerifier) fetch(ctx context.Context, token string) (*UpstreamIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, identityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request identity")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("identity endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIdentitySize))
	if err != nil {
		return nil, errors.Wrap(err, "read identity")
	}
	return parseIdentity(body)
}

func parseIdentity(body []byte) (*UpstreamIdentity, error) {
	var (
		id                UpstreamIdentity
		hasData, hasAttrs bool
	)
	err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "data" {
			return d.Skip()
		}
		if d.Next() != jx.Object {
			return errors.New("data is not an object")
		}
		hasData = true
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			switch string(key) {
			case "id":
				switch d.Next() {
				case jx.String:
					s, err := d.Str()
					if err != nil {
						return err
					}
					id.ID = s
				case jx.Number:
					n, err := d.Num()
					if err != nil {
						return err
					}
					id.ID = n.String()
				default:
					return errors.New("id is not a string or number")
				}
			case "attributes":
				if d.Next() != jx.Object {
					return errors.New("attributes is not an object")
				}
				hasAttrs = true
				return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					var dst *string
					switch string(key) {
					case "first_name":
						dst = &id.FirstName
					case "last_name":
						dst = &id.LastName
					case "primary_email_address":
						dst = &id.Email
					}
					if dst == nil || d.Next() != jx.String {
						return d.Skip()
					}
					s, err := d.Str()
					if err != nil {
						return err
					}
					*dst = s
					return nil
				})
			default:
				return d.Skip()
			}
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode identity")
	}
	switch {
	case !hasData:
		return nil, errors.New("identity response has no data")
	case id.ID == "":
		return nil, errors.New("identity response has no id")
	case !hasAttrs:
		return nil, errors.New("identity response has no attributes")
	}
	return &id, nil
}
