package pco_services

import (
	"context"
	"fmt"
	"net/url"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"pcoservices/server/internal/auth"
	"pcoservices/server/internal/logger"
	"pcoservices/server/internal/middleware"
	"pcoservices/server/internal/modules"
	"pcoservices/server/pkg/pcoapi"
)

const (
	moduleName = "pco_services"
	apiVersion = "v2"
)

// ClientBuilder derives a PCO client from a verified access token.
type ClientBuilder interface {
	Build(at *auth.AccessToken) (*pcoapi.Client, error)
}

// Module implements modules.Module for the PCO Services API.
type Module struct {
	clients ClientBuilder
	log     *zap.SugaredLogger
}

// New creates the module. Every tool call builds its own client from the
// caller's access token through clients.
func New(clients ClientBuilder) *Module {
	return &Module{clients: clients, log: logger.Named(moduleName)}
}

// Name returns the module name
func (m *Module) Name() string {
	return moduleName
}

// Description returns the module description
func (m *Module) Description() string {
	return "Planning Center Online Services - service types, plans, plan times, items, team members, schedules, songs and tags"
}

// APIVersion returns the Services API version
func (m *Module) APIVersion() string {
	return apiVersion
}

// Tools returns all available tools
func (m *Module) Tools() []modules.Tool {
	return toolDefinitions
}

// ExecuteTool runs a tool against a client scoped to the caller's token.
func (m *Module) ExecuteTool(ctx context.Context, name string, params map[string]any) (string, error) {
	handler, ok := toolHandlers[name]
	if !ok {
		return "", errors.Errorf("unknown tool: %s", name)
	}

	client, err := m.clients.Build(middleware.GetAccessToken(ctx))
	if err != nil {
		m.log.Errorw("cannot build PCO client", "tool", name, "request_id", middleware.GetRequestID(ctx), "error", err)
		return "", modules.Internal(err)
	}
	return handler(ctx, client, args(params))
}

// =============================================================================
// Handler plumbing
// =============================================================================

type toolHandler func(ctx context.Context, c *pcoapi.Client, p args) (string, error)

// args are validated tool parameters. Absent and null parameters are missing
// from the map.
type args map[string]any

// str returns a string parameter, "" when absent.
func (a args) str(key string) string {
	s, _ := a[key].(string)
	return s
}

// opt returns a parameter as an attribute value; nil when absent.
func (a args) opt(key string) any {
	return a[key]
}

func (a args) strings(key string) []string {
	v, _ := a[key].([]any)
	return modules.ToStringSlice(v)
}

// path formats a resource path, escaping every id segment.
func path(format string, ids ...string) string {
	escaped := make([]any, len(ids))
	for i, id := range ids {
		escaped[i] = url.PathEscape(id)
	}
	return fmt.Sprintf(format, escaped...)
}

func get(ctx context.Context, c *pcoapi.Client, p string, query url.Values) (string, error) {
	data, err := c.Get(ctx, p, query)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func create(ctx context.Context, c *pcoapi.Client, p string, body pcoapi.Body) (string, error) {
	data, err := c.Post(ctx, p, body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func update(ctx context.Context, c *pcoapi.Client, p string, body pcoapi.Body) (string, error) {
	data, err := c.Patch(ctx, p, body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// remove deletes a resource and discards the response body.
func remove(ctx context.Context, c *pcoapi.Client, p, message string) (string, error) {
	if err := c.Delete(ctx, p); err != nil {
		return "", err
	}
	return modules.Confirmation(message), nil
}
