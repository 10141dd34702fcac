package identity

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenValidator_RoundTrip(t *testing.T) {
	v := NewTokenValidator("test-secret", "incident-repair")

	token, err := v.IssueToken("alice", domain.RoleOperator, time.Hour)
	require.NoError(t, err)

	subject, role, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)
	assert.Equal(t, domain.RoleOperator, role)
}

func TestTokenValidator_Rejects(t *testing.T) {
	v := NewTokenValidator("test-secret", "incident-repair")

	expired, err := v.IssueToken("alice", domain.RoleViewer, -time.Minute)
	require.NoError(t, err)

	otherSecret, err := NewTokenValidator("other", "incident-repair").IssueToken("alice", domain.RoleViewer, time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewTokenValidator("test-secret", "someone-else").IssueToken("alice", domain.RoleViewer, time.Hour)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             domain.RoleViewer,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice", Issuer: "incident-repair"},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "root",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			Issuer:    "incident-repair",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"garbage", "not-a-token", ErrInvalidToken},
		{"expired", expired, ErrInvalidToken},
		{"wrong secret", otherSecret, ErrInvalidToken},
		{"wrong issuer", otherIssuer, ErrInvalidToken},
		{"no expiry", noExpiry, ErrInvalidToken},
		{"unknown role", badRole, ErrInvalidRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := v.ValidateToken(context.Background(), tt.token)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTokenValidator_IssueToken_InvalidRole(t *testing.T) {
	_, err := NewTokenValidator("s", "").IssueToken("bob", "superuser", time.Hour)
	assert.ErrorIs(t, err, ErrInvalidRole)
}
