// Package pcoapi is a small client for the Planning Center Online Services
// API. A Client is bound to exactly one upstream access token.
package pcoapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

// DefaultBaseURL is the production API host.
const DefaultBaseURL = "https://api.planningcenteronline.com"

const (
	tracerName      = "pcoservices/server/pkg/pcoapi"
	maxResponseSize = 10 * 1024 * 1024
)

// ErrNoData is returned when a response that must carry primary data has none.
var ErrNoData = errors.New("response has no data member")

// APIError is a non-2xx answer from the API. Status and body are kept as-is.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("PCO API error (status %d): %s", e.StatusCode, e.Body)
}

// Client issues authenticated requests on behalf of one user.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
}

type options struct {
	baseURL string
	base    *http.Client
}

// Option configures a Client.
type Option func(*options)

// WithBaseURL points the client at another API host (tests, proxies).
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithHTTPClient sets the client whose transport carries the requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.base = c }
}

// New returns a client that presents token as a Bearer credential on every
// request.
func New(token string, opts ...Option) *Client {
	o := options{baseURL: DefaultBaseURL, base: http.DefaultClient}
	for _, opt := range opts {
		opt(&o)
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, o.base)
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	return &Client{
		baseURL:    o.baseURL,
		httpClient: oauth2.NewClient(ctx, src),
		tracer:     otel.Tracer(tracerName),
	}
}

// Get fetches path and returns the primary data verbatim.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (jx.Raw, error) {
	doc, err := c.Fetch(ctx, path, query)
	if err != nil {
		return nil, err
	}
	return dataOf(doc)
}

// Fetch fetches path and returns the whole document, included resources too.
func (c *Client) Fetch(ctx context.Context, path string, query url.Values) (*Document, error) {
	return c.document(c.do(ctx, http.MethodGet, path, query, nil))
}

// Post creates a resource and returns the created resource's data.
func (c *Client) Post(ctx context.Context, path string, body Body) (jx.Raw, error) {
	doc, err := c.document(c.do(ctx, http.MethodPost, path, nil, body))
	if err != nil {
		return nil, err
	}
	return dataOf(doc)
}

// Action posts to an action endpoint whose response body is not used.
func (c *Client) Action(ctx context.Context, path string, body Body) error {
	_, err := c.do(ctx, http.MethodPost, path, nil, body)
	return err
}

// Patch updates a resource and returns the updated resource's data.
func (c *Client) Patch(ctx context.Context, path string, body Body) (jx.Raw, error) {
	doc, err := c.document(c.do(ctx, http.MethodPatch, path, nil, body))
	if err != nil {
		return nil, err
	}
	return dataOf(doc)
}

// Delete removes a resource.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	return err
}

func (c *Client) document(body []byte, err error) (*Document, error) {
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &Document{}, nil
	}
	doc, err := decodeDocument(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return doc, nil
}

func dataOf(doc *Document) (jx.Raw, error) {
	if doc.Data == nil {
		return nil, ErrNoData
	}
	return doc.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body Body) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "pco "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		var e jx.Encoder
		body.Encode(&e)
		reqBody = bytes.NewReader(e.Bytes())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
		span.SetStatus(codes.Error, apiErr.Error())
		return nil, apiErr
	}

	return respBody, nil
}
