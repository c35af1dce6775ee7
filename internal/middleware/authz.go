package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"pcoservices/server/internal/auth"
	"pcoservices/server/internal/logger"
	"pcoservices/server/internal/observability"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// AccessTokenKey is the context key for the verified access token
	AccessTokenKey ContextKey = "accessToken"
	// RequestIDKey is the context key for request tracing ID
	RequestIDKey ContextKey = "requestID"
)

// BearerVerifier resolves a presented bearer credential. Any error means the
// caller is unauthenticated.
type BearerVerifier interface {
	VerifyBearer(ctx context.Context, bearer string) (*auth.AccessToken, error)
}

// Authenticator guards the MCP endpoint with bearer authentication.
type Authenticator struct {
	verifier            BearerVerifier
	resourceMetadataURL string
	log                 *zap.SugaredLogger
}

// NewAuthenticator creates an authenticator. resourceMetadataURL is advertised
// in the WWW-Authenticate challenge so clients can discover the bridge.
func NewAuthenticator(verifier BearerVerifier, resourceMetadataURL string) *Authenticator {
	return &Authenticator{
		verifier:            verifier,
		resourceMetadataURL: resourceMetadataURL,
		log:                 logger.Named("middleware"),
	}
}

// Authenticate verifies the bearer token and stores the AccessToken in the
// request context. Every failure produces the same 401.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := GetRequestID(r.Context())

		bearer, ok := bearerToken(r)
		if !ok {
			observability.LogSecurityEvent(requestID, "", "missing_bearer_token", map[string]any{
				"path": r.URL.Path,
			})
			a.unauthorized(w)
			return
		}

		token, err := a.verifier.VerifyBearer(r.Context(), bearer)
		if err != nil || token == nil {
			observability.LogSecurityEvent(requestID, "", "invalid_bearer_token", map[string]any{
				"path": r.URL.Path,
			})
			a.unauthorized(w)
			return
		}

		a.log.Debugw("request authenticated", "request_id", requestID, "subject", token.Claims.Subject)
		next.ServeHTTP(w, r.WithContext(WithAccessToken(r.Context(), token)))
	})
}

func (a *Authenticator) unauthorized(w http.ResponseWriter) {
	challenge := `Bearer error="invalid_token"`
	if a.resourceMetadataURL != "" {
		challenge = fmt.Sprintf(`Bearer error="invalid_token", resource_metadata=%q`, a.resourceMetadataURL)
	}
	w.Header().Set("WWW-Authenticate", challenge)
	writeErrorResponse(w, &AuthError{
		Code:    "invalid_token",
		Message: "Authentication required",
		Status:  http.StatusUnauthorized,
	})
}

// bearerToken extracts the credential from an Authorization header. The
// scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// AuthError represents an authentication error
type AuthError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *AuthError) Error() string {
	return e.Message
}

// writeErrorResponse writes an authentication error response
func writeErrorResponse(w http.ResponseWriter, authErr *AuthError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(authErr.Status)
	_ = json.NewEncoder(w).Encode(authErr)
}

// WithAccessToken returns a context carrying token.
func WithAccessToken(ctx context.Context, token *auth.AccessToken) context.Context {
	return context.WithValue(ctx, AccessTokenKey, token)
}

// GetAccessToken extracts the verified access token from the context.
func GetAccessToken(ctx context.Context) *auth.AccessToken {
	token, _ := ctx.Value(AccessTokenKey).(*auth.AccessToken)
	return token
}

// WithRequestID returns a context carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// GetRequestID extracts request ID from context
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// subjectOf returns the authenticated subject or "".
func subjectOf(ctx context.Context) string {
	if token := GetAccessToken(ctx); token != nil {
		return token.Claims.Subject
	}
	return ""
}
