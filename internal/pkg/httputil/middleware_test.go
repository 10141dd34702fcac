package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/stretchr/testify/assert"
)

type stubValidator struct {
	roles map[string]domain.Role
}

func (v stubValidator) ValidateToken(_ context.Context, token string) (string, domain.Role, error) {
	role, ok := v.roles[token]
	if !ok {
		return "", "", errors.New("bad token")
	}
	return "user-" + token, role, nil
}

func protected(minRole domain.Role) http.Handler {
	validator := stubValidator{roles: map[string]domain.Role{
		"viewer":   domain.RoleViewer,
		"operator": domain.RoleOperator,
		"detector": domain.RoleDetector,
		"admin":    domain.RoleAdmin,
	}}
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _, _ := Caller(r.Context())
		w.Header().Set("X-User", subject)
		w.WriteHeader(http.StatusNoContent)
	})
	return AuthMiddleware(validator)(RequireRole(minRole)(final))
}

func TestAuthAndRoles(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		minRole  domain.Role
		wantCode int
	}{
		{name: "missing header", minRole: domain.RoleViewer, wantCode: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", minRole: domain.RoleViewer, wantCode: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer  ", minRole: domain.RoleViewer, wantCode: http.StatusUnauthorized},
		{name: "lowercase scheme", header: "bearer viewer", minRole: domain.RoleViewer, wantCode: http.StatusNoContent},
		{name: "unknown token", header: "Bearer nope", minRole: domain.RoleViewer, wantCode: http.StatusUnauthorized},
		{name: "viewer reads", header: "Bearer viewer", minRole: domain.RoleViewer, wantCode: http.StatusNoContent},
		{name: "viewer cannot operate", header: "Bearer viewer", minRole: domain.RoleOperator, wantCode: http.StatusForbidden},
		{name: "operator operates", header: "Bearer operator", minRole: domain.RoleOperator, wantCode: http.StatusNoContent},
		{name: "admin operates", header: "Bearer admin", minRole: domain.RoleOperator, wantCode: http.StatusNoContent},
		{name: "detector cannot read", header: "Bearer detector", minRole: domain.RoleViewer, wantCode: http.StatusForbidden},
		{name: "detector ingests", header: "Bearer detector", minRole: domain.RoleDetector, wantCode: http.StatusNoContent},
		{name: "operator cannot ingest", header: "Bearer operator", minRole: domain.RoleDetector, wantCode: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			protected(tt.minRole).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusNoContent {
				assert.NotEmpty(t, rec.Header().Get("X-User"))
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware([]string{"https://ops.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/incidents", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/incidents", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
