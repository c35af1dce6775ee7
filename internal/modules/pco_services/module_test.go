package pco_services

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pcoservices/server/internal/auth"
	"pcoservices/server/internal/broker"
	"pcoservices/server/internal/middleware"
	"pcoservices/server/internal/modules"
)

type recordedRequest struct {
	Method  string
	Path    string
	RawPath string
	Query   url.Values
	Body    string
	Auth    string
}

type response struct {
	status int
	body   string
}

// fakePCO answers by "METHOD path" and records every request.
type fakePCO struct {
	mu        sync.Mutex
	requests  []recordedRequest
	responses map[string]response
}

func (f *fakePCO) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		RawPath: r.URL.EscapedPath(),
		Query:   r.URL.Query(),
		Body:    string(body),
		Auth:    r.Header.Get("Authorization"),
	})
	resp, ok := f.responses[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	if !ok {
		resp = response{status: http.StatusOK, body: `{"data":{"type":"Echo","id":"1"}}`}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	_, _ = io.WriteString(w, resp.body)
}

func (f *fakePCO) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

type harness struct {
	pco      *fakePCO
	registry *modules.Registry
	ctx      context.Context
}

func newHarness(t *testing.T, responses map[string]response) *harness {
	t.Helper()
	pco := &fakePCO{responses: responses}
	srv := httptest.NewServer(pco)
	t.Cleanup(srv.Close)

	reg := modules.NewRegistry(0)
	reg.Register(New(broker.NewClientFactory(srv.URL, srv.Client())))

	token := auth.NewAccessToken("session-jwt", "pco-token", auth.UpstreamIdentity{ID: "1001"})
	return &harness{
		pco:      pco,
		registry: reg,
		ctx:      middleware.WithAccessToken(context.Background(), token),
	}
}

func (h *harness) run(t *testing.T, tool string, params map[string]any) *modules.ToolCallResult {
	t.Helper()
	res, err := h.registry.Run(h.ctx, moduleName, tool, params)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func (h *harness) only(t *testing.T) recordedRequest {
	t.Helper()
	reqs := h.pco.recorded()
	require.Len(t, reqs, 1)
	return reqs[0]
}

func TestToolSurface(t *testing.T) {
	require.Len(t, toolDefinitions, 33)
	require.Len(t, toolHandlers, len(toolDefinitions))

	seen := make(map[string]bool)
	for _, tool := range toolDefinitions {
		assert.False(t, seen[tool.Name], "duplicate tool %s", tool.Name)
		seen[tool.Name] = true
		assert.Equal(t, "pco_services:"+tool.Name, tool.ID)
		assert.NotEmpty(t, tool.Description, tool.Name)
		assert.NotNil(t, tool.Annotations, tool.Name)
		assert.Contains(t, toolHandlers, tool.Name)
		for _, req := range tool.InputSchema.Required {
			assert.Contains(t, tool.InputSchema.Properties, req, "%s requires undeclared %s", tool.Name, req)
		}
	}
}

func TestCreatePlanTime(t *testing.T) {
	created := `{"type":"PlanTime","id":"55","attributes":{"starts_at":"2025-03-01T09:00:00Z"}}`
	h := newHarness(t, map[string]response{
		"POST /services/v2/service_types/1/plans/2/plan_times": {http.StatusCreated, `{"data":` + created + `}`},
	})

	res := h.run(t, "create_plan_time", map[string]any{
		"service_type_id": "1",
		"plan_id":         "2",
		"starts_at":       "2025-03-01T09:00:00Z",
		"ends_at":         "2025-03-01T11:00:00Z",
	})

	require.False(t, res.IsError, res.Text())
	assert.JSONEq(t, created, res.Text())

	req := h.only(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "Bearer pco-token", req.Auth)
	assert.JSONEq(t, `{"data":{"type":"PlanTime","attributes":{"starts_at":"2025-03-01T09:00:00Z","ends_at":"2025-03-01T11:00:00Z"}}}`, req.Body)
}

func TestDeletePlanItem(t *testing.T) {
	h := newHarness(t, map[string]response{
		"DELETE /services/v2/service_types/1/plans/2/items/99": {http.StatusOK, `{"unexpected":"ignored"}`},
	})

	res := h.run(t, "delete_plan_item", map[string]any{"service_type_id": "1", "plan_id": "2", "item_id": "99"})

	require.False(t, res.IsError, res.Text())
	assert.JSONEq(t, `{"success":true,"message":"Plan item 99 deleted successfully."}`, res.Text())
	assert.Equal(t, http.MethodDelete, h.only(t).Method)
}

func TestDeleteConfirmations(t *testing.T) {
	tests := []struct {
		tool    string
		params  map[string]any
		path    string
		message string
	}{
		{"delete_service_type", map[string]any{"service_type_id": "3"}, "/services/v2/service_types/3", "Service type 3 deleted successfully."},
		{"delete_plan", map[string]any{"service_type_id": "3", "plan_id": "4"}, "/services/v2/service_types/3/plans/4", "Plan 4 deleted successfully."},
		{"delete_plan_time", map[string]any{"service_type_id": "3", "plan_id": "4", "plan_time_id": "5"}, "/services/v2/service_types/3/plans/4/plan_times/5", "Plan time 5 deleted successfully."},
		{"remove_team_member", map[string]any{"service_type_id": "3", "plan_id": "4", "team_member_id": "6"}, "/services/v2/service_types/3/plans/4/team_members/6", "Team member 6 removed successfully."},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			h := newHarness(t, map[string]response{
				"DELETE " + tt.path: {http.StatusNoContent, ""},
			})
			res := h.run(t, tt.tool, tt.params)
			require.False(t, res.IsError, res.Text())
			assert.JSONEq(t, `{"success":true,"message":"`+tt.message+`"}`, res.Text())
			req := h.only(t)
			assert.Equal(t, http.MethodDelete, req.Method)
			assert.Equal(t, tt.path, req.Path)
		})
	}
}

func TestUpdateWithoutOptionalParams(t *testing.T) {
	tests := []struct {
		tool   string
		params map[string]any
		path   string
		typ    string
	}{
		{"update_service_type", map[string]any{"service_type_id": "1"}, "/services/v2/service_types/1", "ServiceType"},
		{"update_plan", map[string]any{"service_type_id": "1", "plan_id": "2"}, "/services/v2/service_types/1/plans/2", "Plan"},
		{"update_plan_time", map[string]any{"service_type_id": "1", "plan_id": "2", "plan_time_id": "3"}, "/services/v2/service_types/1/plans/2/plan_times/3", "PlanTime"},
		{"update_plan_item", map[string]any{"service_type_id": "1", "plan_id": "2", "item_id": "3"}, "/services/v2/service_types/1/plans/2/items/3", "Item"},
		{"update_team_member", map[string]any{"service_type_id": "1", "plan_id": "2", "team_member_id": "3", "notes": nil}, "/services/v2/service_types/1/plans/2/team_members/3", "PlanPerson"},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			h := newHarness(t, nil)
			res := h.run(t, tt.tool, tt.params)
			require.False(t, res.IsError, res.Text())

			req := h.only(t)
			assert.Equal(t, http.MethodPatch, req.Method)
			assert.Equal(t, tt.path, req.Path)
			assert.JSONEq(t, `{"data":{"type":"`+tt.typ+`","attributes":{}}}`, req.Body)
		})
	}
}

func TestAttributesPresentOnlyWhenSupplied(t *testing.T) {
	h := newHarness(t, nil)
	res := h.run(t, "update_plan_item", map[string]any{
		"service_type_id": "1",
		"plan_id":         "2",
		"item_id":         "3",
		"length":          float64(300),
		"description":     nil,
		"sequence":        float64(0),
	})
	require.False(t, res.IsError, res.Text())
	assert.JSONEq(t, `{"data":{"type":"Item","attributes":{"length":300,"sequence":0}}}`, h.only(t).Body)
}

func TestCreateBodies(t *testing.T) {
	tests := []struct {
		name   string
		tool   string
		params map[string]any
		path   string
		body   string
	}{
		{
			name:   "service type with sequence",
			tool:   "create_service_type",
			params: map[string]any{"name": "Sunday Morning", "sequence": float64(2)},
			path:   "/services/v2/service_types",
			body:   `{"data":{"type":"ServiceType","attributes":{"name":"Sunday Morning","sequence":2}}}`,
		},
		{
			name:   "plan without attributes",
			tool:   "create_plan",
			params: map[string]any{"service_type_id": "1"},
			path:   "/services/v2/service_types/1/plans",
			body:   `{"data":{"type":"Plan","attributes":{}}}`,
		},
		{
			name:   "plan with public false",
			tool:   "create_plan",
			params: map[string]any{"service_type_id": "1", "public": false, "title": "Easter"},
			path:   "/services/v2/service_types/1/plans",
			body:   `{"data":{"type":"Plan","attributes":{"title":"Easter","public":false}}}`,
		},
		{
			name:   "song item",
			tool:   "create_plan_item",
			params: map[string]any{"service_type_id": "1", "plan_id": "2", "title": "Amazing Grace", "item_type": "song", "song_id": "77"},
			path:   "/services/v2/service_types/1/plans/2/items",
			body:   `{"data":{"type":"Item","attributes":{"title":"Amazing Grace","item_type":"song","song_id":"77"}}}`,
		},
		{
			name:   "song without ccli",
			tool:   "create_song",
			params: map[string]any{"title": "Be Thou My Vision"},
			path:   "/services/v2/songs",
			body:   `{"data":{"type":"Song","attributes":{"title":"Be Thou My Vision"}}}`,
		},
		{
			name:   "song with empty ccli",
			tool:   "create_song",
			params: map[string]any{"title": "Be Thou My Vision", "ccli": ""},
			path:   "/services/v2/songs",
			body:   `{"data":{"type":"Song","attributes":{"title":"Be Thou My Vision"}}}`,
		},
		{
			name:   "song with ccli",
			tool:   "create_song",
			params: map[string]any{"title": "Be Thou My Vision", "ccli": "30639"},
			path:   "/services/v2/songs",
			body:   `{"data":{"type":"Song","attributes":{"title":"Be Thou My Vision","ccli_number":"30639"}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			res := h.run(t, tt.tool, tt.params)
			require.False(t, res.IsError, res.Text())
			assert.JSONEq(t, `{"type":"Echo","id":"1"}`, res.Text())

			req := h.only(t)
			assert.Equal(t, http.MethodPost, req.Method)
			assert.Equal(t, tt.path, req.Path)
			assert.JSONEq(t, tt.body, req.Body)
		})
	}
}

func TestAssignTeamMember(t *testing.T) {
	h := newHarness(t, nil)
	res := h.run(t, "assign_team_member", map[string]any{
		"service_type_id":    "1",
		"plan_id":            "2",
		"person_id":          "42",
		"team_position_name": "Vocals",
		"status":             "U",
	})
	require.False(t, res.IsError, res.Text())

	req := h.only(t)
	assert.Equal(t, "/services/v2/service_types/1/plans/2/team_members", req.Path)
	assert.JSONEq(t, `{"data":{"type":"PlanPerson","attributes":{"team_position_name":"Vocals","status":"U"},"relationships":{"person":{"data":{"type":"Person","id":"42"}}}}}`, req.Body)
}

func TestAssignTeamMemberRejectsUnknownStatus(t *testing.T) {
	h := newHarness(t, nil)
	res := h.run(t, "assign_team_member", map[string]any{
		"service_type_id": "1",
		"plan_id":         "2",
		"person_id":       "42",
		"status":          "maybe",
	})
	assert.True(t, res.IsError)
	assert.Empty(t, h.pco.recorded())
}

func TestReorderPlanItems(t *testing.T) {
	h := newHarness(t, nil)
	res := h.run(t, "reorder_plan_items", map[string]any{
		"service_type_id": "1",
		"plan_id":         "2",
		"item_ids":        []any{"30", "10", "20"},
	})
	require.False(t, res.IsError, res.Text())
	assert.JSONEq(t, `{"success":true,"message":"Plan items reordered successfully."}`, res.Text())

	req := h.only(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/services/v2/service_types/1/plans/2/item_reorder", req.Path)
	assert.JSONEq(t, `{"data":{"type":"ItemReorder","attributes":{"sequence":["30","10","20"]}}}`, req.Body)
}

func TestSchedules(t *testing.T) {
	t.Run("accept", func(t *testing.T) {
		h := newHarness(t, nil)
		res := h.run(t, "accept_schedule", map[string]any{"person_id": "7", "schedule_id": "8"})
		require.False(t, res.IsError, res.Text())
		assert.JSONEq(t, `{"success":true,"message":"Schedule 8 accepted successfully."}`, res.Text())
		req := h.only(t)
		assert.Equal(t, "/services/v2/people/7/schedules/8/accept", req.Path)
		assert.JSONEq(t, `{}`, req.Body)
	})

	t.Run("decline without reason", func(t *testing.T) {
		h := newHarness(t, nil)
		res := h.run(t, "decline_schedule", map[string]any{"person_id": "7", "schedule_id": "8"})
		require.False(t, res.IsError, res.Text())
		assert.JSONEq(t, `{"success":true,"message":"Schedule 8 declined successfully."}`, res.Text())
		req := h.only(t)
		assert.Equal(t, "/services/v2/people/7/schedules/8/decline", req.Path)
		assert.JSONEq(t, `{}`, req.Body)
	})

	t.Run("decline with reason", func(t *testing.T) {
		h := newHarness(t, nil)
		res := h.run(t, "decline_schedule", map[string]any{"person_id": "7", "schedule_id": "8", "reason": "Out of town"})
		require.False(t, res.IsError, res.Text())
		assert.JSONEq(t, `{"data":{"attributes":{"reason":"Out of town"}}}`, h.only(t).Body)
	})
}

func TestListQueries(t *testing.T) {
	tests := []struct {
		tool   string
		params map[string]any
		path   string
		query  url.Values
	}{
		{"get_service_types", nil, "/services/v2/service_types", url.Values{}},
		{"get_plans", map[string]any{"service_type_id": "1"}, "/services/v2/service_types/1/plans", url.Values{"order": {"-updated_at"}}},
		{"get_plan_times", map[string]any{"service_type_id": "1", "plan_id": "2"}, "/services/v2/service_types/1/plans/2/plan_times", url.Values{}},
		{"get_plan_items", map[string]any{"plan_id": "2"}, "/services/v2/plans/2/items", url.Values{}},
		{"get_plan_team_members", map[string]any{"plan_id": "2"}, "/services/v2/plans/2/team_members", url.Values{}},
		{"get_person_schedules", map[string]any{"person_id": "7"}, "/services/v2/people/7/schedules", url.Values{}},
		{"get_songs", nil, "/services/v2/songs", url.Values{"per_page": {"200"}, "where[hidden]": {"false"}}},
		{"get_song", map[string]any{"song_id": "9"}, "/services/v2/songs/9", url.Values{}},
		{"find_song_by_title", map[string]any{"title": "How Great & Glorious"}, "/services/v2/songs", url.Values{"where[title]": {"How Great & Glorious"}, "where[hidden]": {"false"}}},
		{"get_all_arrangements_for_song", map[string]any{"song_id": "9"}, "/services/v2/songs/9/arrangements", url.Values{}},
		{"get_arrangement_for_song", map[string]any{"song_id": "9", "arrangement_id": "4"}, "/services/v2/songs/9/arrangements/4", url.Values{}},
		{"get_keys_for_arrangement_of_song", map[string]any{"song_id": "9", "arrangement_id": "4"}, "/services/v2/songs/9/arrangements/4/keys", url.Values{}},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			h := newHarness(t, map[string]response{
				"GET " + tt.path: {http.StatusOK, `{"data":[{"id":"1"},{"id":"2"}],"meta":{"count":2}}`},
			})
			res := h.run(t, tt.tool, tt.params)
			require.False(t, res.IsError, res.Text())
			assert.JSONEq(t, `[{"id":"1"},{"id":"2"}]`, res.Text())

			req := h.only(t)
			assert.Equal(t, http.MethodGet, req.Method)
			assert.Equal(t, tt.path, req.Path)
			assert.Equal(t, tt.query, req.Query)
		})
	}
}

func TestPathSegmentsAreEscaped(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t, "get_song", map[string]any{"song_id": "9/../../people"})
	assert.Equal(t, "/services/v2/songs/9%2F..%2F..%2Fpeople", h.only(t).RawPath)
}

func TestUpstreamErrorIsToolError(t *testing.T) {
	h := newHarness(t, map[string]response{
		"GET /services/v2/songs/404": {http.StatusNotFound, `{"errors":[{"status":"404","title":"Not Found"}]}`},
	})
	res := h.run(t, "get_song", map[string]any{"song_id": "404"})
	require.True(t, res.IsError)
	assert.Equal(t, `PCO API error (status 404): {"errors":[{"status":"404","title":"Not Found"}]}`, res.Text())
	assert.Len(t, h.pco.recorded(), 1, "upstream failures are not retried")
}

func TestMissingUpstreamTokenIsInternalError(t *testing.T) {
	h := newHarness(t, nil)

	for name, ctx := range map[string]context.Context{
		"no access token":   context.Background(),
		"no upstream token": middleware.WithAccessToken(context.Background(), &auth.AccessToken{Token: "x"}),
	} {
		t.Run(name, func(t *testing.T) {
			res, err := h.registry.Run(ctx, moduleName, "get_songs", nil)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, broker.ErrNoUpstreamToken)
		})
	}
	assert.Empty(t, h.pco.recorded())
}

func TestFractionalIntegerIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	res := h.run(t, "update_plan_item", map[string]any{
		"service_type_id": "1",
		"plan_id":         "2",
		"item_id":         "3",
		"length":          2.7,
	})
	require.True(t, res.IsError)
	assert.Contains(t, res.Text(), `parameter "length": expected integer`)
	assert.Empty(t, h.pco.recorded())
}
