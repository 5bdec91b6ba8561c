package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smmpanel/internal/models"
)

var secret = []byte("test-secret")

func protected(isOperator func(int64) bool) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFromContext(r.Context())
		w.Header().Set("X-Operator", claims.Subject)
		w.WriteHeader(http.StatusNoContent)
	})
	return AuthMiddleware(secret)(AdminOnly(OperatorOnly(isOperator)(ok)))
}

func TestAuthChain(t *testing.T) {
	isOperator := func(id int64) bool { return id == 900 }

	admin, err := GenerateToken(secret, 900, RoleAdmin)
	require.NoError(t, err)
	stale, err := GenerateToken(secret, 901, RoleAdmin)
	require.NoError(t, err)
	viewer, err := GenerateToken(secret, 900, "viewer")
	require.NoError(t, err)
	forged, err := GenerateToken([]byte("other"), 900, RoleAdmin)
	require.NoError(t, err)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, models.Claims{
		OperatorID: 900,
		Role:       RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString(secret)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid admin", "Bearer " + admin, http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"bad format", "Token " + admin, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + forged, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"not admin", "Bearer " + viewer, http.StatusForbidden},
		{"removed operator", "Bearer " + stale, http.StatusForbidden},
	}

	h := protected(isOperator)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusNoContent {
				assert.Equal(t, "900", w.Header().Get("X-Operator"))
			}
		})
	}
}

func TestAdminOnlyWithoutClaims(t *testing.T) {
	w := httptest.NewRecorder()
	AdminOnly(http.NotFoundHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
