// Package mcp exposes the registered modules as MCP tools over the
// streamable HTTP transport.
package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"pcoservices/server/internal/logger"
	"pcoservices/server/internal/middleware"
	"pcoservices/server/internal/modules"
)

const (
	// ServerName is reported in the initialize handshake.
	ServerName = "pco-services"
	// EndpointPath is where the streamable HTTP transport is served.
	EndpointPath = "/mcp"
)

// Server adapts a modules.Registry to an MCP server.
type Server struct {
	registry *modules.Registry
	mcp      *mcpserver.MCPServer
	http     *mcpserver.StreamableHTTPServer
	log      *zap.SugaredLogger
}

// NewServer registers every tool of every module in reg.
func NewServer(reg *modules.Registry, version string) (*Server, error) {
	s := &Server{
		registry: reg,
		mcp: mcpserver.NewMCPServer(
			ServerName,
			version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithRecovery(),
		),
		log: logger.Named("mcp"),
	}

	tools, err := s.sdkTools()
	if err != nil {
		return nil, err
	}
	s.mcp.AddTools(tools...)

	s.http = mcpserver.NewStreamableHTTPServer(s.mcp,
		mcpserver.WithEndpointPath(EndpointPath),
		mcpserver.WithHTTPContextFunc(requestContext),
	)
	s.log.Infow("mcp server ready", "modules", reg.Names(), "tools", len(tools))
	return s, nil
}

// Handler serves the MCP endpoint. It expects Authenticate upstream.
func (s *Server) Handler() http.Handler {
	return s.http
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

func (s *Server) sdkTools() ([]mcpserver.ServerTool, error) {
	var out []mcpserver.ServerTool
	for _, name := range s.registry.Names() {
		m, _ := s.registry.Module(name)
		for _, tool := range m.Tools() {
			schema, err := json.Marshal(tool.InputSchema)
			if err != nil {
				return nil, errors.Wrapf(err, "marshal schema for tool %s", tool.Name)
			}
			out = append(out, mcpserver.ServerTool{
				Tool: mcpgo.Tool{
					Name:           tool.Name,
					Description:    tool.Description,
					RawInputSchema: schema,
					Annotations:    sdkAnnotations(tool.Annotations),
				},
				Handler: s.toolHandler(name, tool.Name),
			})
		}
	}
	return out, nil
}

func (s *Server) toolHandler(module, tool string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		result, err := s.registry.Run(ctx, module, tool, req.GetArguments())
		if err != nil {
			return nil, err
		}
		return sdkResult(result), nil
	}
}

func sdkAnnotations(a *modules.ToolAnnotations) mcpgo.ToolAnnotation {
	if a == nil {
		return mcpgo.ToolAnnotation{}
	}
	return mcpgo.ToolAnnotation{
		ReadOnlyHint:    a.ReadOnlyHint,
		DestructiveHint: a.DestructiveHint,
		IdempotentHint:  a.IdempotentHint,
		OpenWorldHint:   a.OpenWorldHint,
	}
}

func sdkResult(r *modules.ToolCallResult) *mcpgo.CallToolResult {
	out := &mcpgo.CallToolResult{IsError: r.IsError}
	for _, block := range r.Content {
		out.Content = append(out.Content, mcpgo.NewTextContent(block.Text))
	}
	return out
}

// requestContext carries the verified token and request id from the HTTP
// request into tool calls.
func requestContext(ctx context.Context, r *http.Request) context.Context {
	if token := middleware.GetAccessToken(r.Context()); token != nil {
		ctx = middleware.WithAccessToken(ctx, token)
	}
	if id := middleware.GetRequestID(r.Context()); id != "" {
		ctx = middleware.WithRequestID(ctx, id)
	}
	return ctx
}
