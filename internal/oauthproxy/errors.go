package oauthproxy

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
)

// ErrUnauthenticated is the single outcome of every failed bearer check.
var ErrUnauthenticated = errors.New("unauthenticated")

// RFC 6749 error codes.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeUnsupportedResponse  = "unsupported_response_type"
	ErrorCodeInvalidClientMeta    = "invalid_client_metadata"
	ErrorCodeInvalidRedirectURI   = "invalid_redirect_uri"
	ErrorCodeInvalidTarget        = "invalid_target"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeServerError          = "server_error"
)

// OAuthError is an error returned to clients as an RFC 6749 error body.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

func (e *OAuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

func newOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{Code: code, Description: description, Status: status}
}

func writeError(w http.ResponseWriter, err error) {
	var oe *OAuthError
	if !errors.As(err, &oe) {
		oe = newOAuthError(ErrorCodeServerError, "internal error", http.StatusInternalServerError)
	}
	if oe.Code == ErrorCodeInvalidClient && oe.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
	}
	writeJSON(w, oe.Status, oe)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	_ = jsonEncode(w, v)
}

func jsonEncode(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
