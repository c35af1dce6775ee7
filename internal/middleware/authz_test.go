package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-faster/errors"

	"pcoservices/server/internal/auth"
)

type stubVerifier struct {
	tokens map[string]*auth.AccessToken
}

func (s *stubVerifier) VerifyBearer(_ context.Context, bearer string) (*auth.AccessToken, error) {
	if tok, ok := s.tokens[bearer]; ok {
		return tok, nil
	}
	return nil, errors.New("unauthenticated")
}

const metadataURL = "https://mcp.example.com/.well-known/oauth-protected-resource"

func TestAuthenticate(t *testing.T) {
	valid := auth.NewAccessToken("good", "pco-token", auth.UpstreamIdentity{ID: "1001", FirstName: "Ada"})
	verifier := &stubVerifier{tokens: map[string]*auth.AccessToken{"good": valid}}
	a := NewAuthenticator(verifier, metadataURL)

	var seen *auth.AccessToken
	handler := a.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetAccessToken(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid bearer", "Bearer good", http.StatusNoContent},
		{"lowercase scheme", "bearer good", http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"unknown token", "Bearer bad", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusUnauthorized {
				if seen != valid {
					t.Error("handler did not receive the verified access token")
				}
				return
			}
			if seen != nil {
				t.Error("handler must not run for unauthenticated requests")
			}
			challenge := rec.Header().Get("WWW-Authenticate")
			if !strings.HasPrefix(challenge, "Bearer ") || !strings.Contains(challenge, `resource_metadata="`+metadataURL+`"`) {
				t.Errorf("WWW-Authenticate = %q", challenge)
			}
			if body := rec.Body.String(); !strings.Contains(body, `"error":"invalid_token"`) {
				t.Errorf("body = %s", body)
			}
		})
	}
}

func TestAuthenticateUniformFailure(t *testing.T) {
	a := NewAuthenticator(&stubVerifier{}, metadataURL)
	handler := a.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	responses := make([]string, 0, 2)
	for _, header := range []string{"", "Bearer expired"} {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		responses = append(responses, rec.Header().Get("WWW-Authenticate")+"|"+rec.Body.String())
	}
	if responses[0] != responses[1] {
		t.Errorf("missing and invalid tokens must look the same:\n%s\n%s", responses[0], responses[1])
	}
}

func TestRequestID(t *testing.T) {
	var got string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if got == "" {
			t.Fatal("request id not set")
		}
		if rec.Header().Get(RequestIDHeader) != got {
			t.Errorf("response header = %q, want %q", rec.Header().Get(RequestIDHeader), got)
		}
		if rec.Code != http.StatusTeapot {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		handler.ServeHTTP(httptest.NewRecorder(), req)
		if got != "abc-123" {
			t.Errorf("request id = %q, want abc-123", got)
		}
	})
}

func TestRecovery(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal_server_error") {
		t.Errorf("body = %s", rec.Body.String())
	}
}
