package modules

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"pcoservices/server/internal/logger"
	"pcoservices/server/internal/middleware"
	"pcoservices/server/internal/observability"
)

// DefaultToolTimeout is the maximum duration for a single tool execution.
const DefaultToolTimeout = 30 * time.Second

// InternalError marks a failure that is a server defect rather than a tool
// failure. Run returns it as a Go error instead of a tool error result.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string { return e.Err.Error() }

func (e *InternalError) Unwrap() error { return e.Err }

// Internal wraps err as an InternalError.
func Internal(err error) error {
	return &InternalError{Err: err}
}

// =============================================================================
// Registry
// =============================================================================

// Registry holds the registered modules and runs their tools.
type Registry struct {
	modules map[string]Module
	timeout time.Duration
	tracer  trace.Tracer
	log     *zap.SugaredLogger
}

// NewRegistry creates an empty registry. A non-positive timeout selects
// DefaultToolTimeout.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	return &Registry{
		modules: make(map[string]Module),
		timeout: timeout,
		tracer:  otel.Tracer("pcoservices/server/internal/modules"),
		log:     logger.Named("modules"),
	}
}

// Register adds a module to the registry
func (r *Registry) Register(m Module) {
	r.modules[m.Name()] = m
}

// Module returns a module by name
func (r *Registry) Module(name string) (Module, bool) {
	m, ok := r.modules[name]
	return m, ok
}

// Names returns all registered module names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Timeout is the bound applied to each tool run.
func (r *Registry) Timeout() time.Duration {
	return r.timeout
}

// =============================================================================
// Tool Execution
// =============================================================================

// Run validates params and executes a single tool in a module.
//
// Validation failures, upstream API failures and timeouts come back as a
// result with IsError set. An InternalError from the module is returned as
// err; the caller reports it as a server error.
func (r *Registry) Run(ctx context.Context, moduleName, toolName string, params map[string]any) (*ToolCallResult, error) {
	start := time.Now()
	requestID := middleware.GetRequestID(ctx)
	subject := ""
	if token := middleware.GetAccessToken(ctx); token != nil {
		subject = token.Claims.Subject
	}

	m, ok := r.modules[moduleName]
	if !ok {
		return errorResult(fmt.Sprintf("Unknown module: %s", moduleName)), nil
	}
	tool, found := findTool(m.Tools(), toolName)
	if !found {
		return errorResult(fmt.Sprintf("Unknown tool: %s", toolName)), nil
	}

	validated, err := ValidateParams(tool.InputSchema, params)
	if err != nil {
		observability.LogToolCall(requestID, subject, moduleName, toolName, time.Since(start).Milliseconds(), "invalid_params", err.Error())
		return errorResult(err.Error()), nil
	}

	ctx, span := r.tracer.Start(ctx, "tool "+toolName, trace.WithAttributes(
		attribute.String("mcp.module", moduleName),
		attribute.String("mcp.tool", toolName),
	))
	defer span.End()

	// Apply timeout to prevent external API calls from hanging indefinitely
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := m.ExecuteTool(ctx, toolName, validated)
	durationMs := time.Since(start).Milliseconds()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool failed")

		var internal *InternalError
		if errors.As(err, &internal) {
			r.log.Errorw("tool failed with internal error",
				"request_id", requestID,
				"module", moduleName,
				"tool", toolName,
				"error", err,
			)
			observability.LogSecurityEvent(requestID, subject, "configuration_defect", map[string]any{
				"module": moduleName,
				"tool":   toolName,
				"error":  err.Error(),
			})
			observability.LogToolCall(requestID, subject, moduleName, toolName, durationMs, "internal_error", err.Error())
			return nil, errors.Wrapf(err, "%s.%s", moduleName, toolName)
		}

		errMsg := err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			errMsg = fmt.Sprintf("Request to %s timed out after %s. The external service did not respond in time.", moduleName, r.timeout)
		}
		r.log.Infow("tool failed",
			"request_id", requestID,
			"module", moduleName,
			"tool", toolName,
			"duration_ms", durationMs,
			"error", errMsg,
		)
		observability.LogToolCall(requestID, subject, moduleName, toolName, durationMs, "error", errMsg)
		return errorResult(errMsg), nil
	}

	r.log.Debugw("tool succeeded",
		"request_id", requestID,
		"module", moduleName,
		"tool", toolName,
		"duration_ms", durationMs,
	)
	observability.LogToolCall(requestID, subject, moduleName, toolName, durationMs, "success", "")
	return textResult(result), nil
}
