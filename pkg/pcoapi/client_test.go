package pcoapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	query  url.Values
	auth   string
	body   string
}

func newTestServer(t *testing.T, status int, response string) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		calls = append(calls, recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.Query(),
			auth:   r.Header.Get("Authorization"),
			body:   string(b),
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestClientGetReturnsDataVerbatim(t *testing.T) {
	srv, calls := newTestServer(t, http.StatusOK, `{"data":[{"type":"ServiceType","id":"1","attributes":{"name":"Sunday"}}],"meta":{"total_count":1}}`)
	c := New("tok-123", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))

	data, err := c.Get(context.Background(), "/services/v2/service_types", nil)
	require.NoError(t, err)
	assert.Equal(t, `[{"type":"ServiceType","id":"1","attributes":{"name":"Sunday"}}]`, string(data))

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, http.MethodGet, call.method)
	assert.Equal(t, "/services/v2/service_types", call.path)
	assert.Equal(t, "Bearer tok-123", call.auth)
}

func TestClientGetQuery(t *testing.T) {
	srv, calls := newTestServer(t, http.StatusOK, `{"data":[]}`)
	c := New("tok", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))

	q := url.Values{}
	q.Set("where[hidden]", "false")
	q.Add("where[song_tag_ids]", "1")
	q.Add("where[song_tag_ids]", "2")
	_, err := c.Get(context.Background(), "/services/v2/songs", q)
	require.NoError(t, err)

	got := (*calls)[0].query
	assert.Equal(t, "false", got.Get("where[hidden]"))
	assert.Equal(t, []string{"1", "2"}, got["where[song_tag_ids]"])
}

func TestClientPostSendsEnvelope(t *testing.T) {
	srv, calls := newTestServer(t, http.StatusCreated, `{"data":{"type":"Song","id":"9"}}`)
	c := New("tok", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))

	data, err := c.Post(context.Background(), "/services/v2/songs", NewEnvelope("Song", Attr("title", "Amazing Grace")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Song","id":"9"}`, string(data))
	assert.Equal(t, `{"data":{"type":"Song","attributes":{"title":"Amazing Grace"}}}`, (*calls)[0].body)
}

func TestClientAPIErrorKeepsStatusAndBody(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusUnprocessableEntity, `{"errors":[{"detail":"name can't be blank"}]}`)
	c := New("tok", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))

	_, err := c.Post(context.Background(), "/services/v2/service_types", NewEnvelope("ServiceType"))
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, `{"errors":[{"detail":"name can't be blank"}]}`, apiErr.Body)
	assert.Contains(t, err.Error(), "status 422")
}

func TestClientDeleteAcceptsEmptyBody(t *testing.T) {
	srv, calls := newTestServer(t, http.StatusNoContent, ``)
	c := New("tok", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))

	require.NoError(t, c.Delete(context.Background(), "/services/v2/songs/1"))
	assert.Equal(t, http.MethodDelete, (*calls)[0].method)
}

func TestClientActionIgnoresResponseBody(t *testing.T) {
	srv, calls := newTestServer(t, http.StatusNoContent, `not json`)
	c := New("tok", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))

	require.NoError(t, c.Action(context.Background(), "/services/v2/people/1/schedules/2/accept", EmptyBody))
	assert.Equal(t, `{}`, (*calls)[0].body)
}

func TestClientMissingData(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{"meta":{}}`)
	c := New("tok", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))

	_, err := c.Get(context.Background(), "/services/v2/songs/1", nil)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestClientPatch(t *testing.T) {
	srv, calls := newTestServer(t, http.StatusOK, `{"data":{"type":"Plan","id":"5"}}`)
	c := New("tok", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))

	_, err := c.Patch(context.Background(), "/services/v2/service_types/1/plans/5", PatchBody("Plan"))
	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, (*calls)[0].method)
	assert.Equal(t, `{"data":{"type":"Plan","attributes":{}}}`, (*calls)[0].body)
}
