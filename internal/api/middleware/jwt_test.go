package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-signing-key-1234567890123456")

func TestValidateToken_Success(t *testing.T) {
	cfg := JWTConfig{SigningKey: testKey, Issuer: "psm", ExpiresIn: time.Hour}

	token, expiresAt, err := GenerateToken(cfg, "alice", []string{"planner"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := cfg.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Actor())
	assert.Equal(t, []string{"planner"}, claims.Roles)
}

func TestValidateToken_RejectsInvalidIssuer(t *testing.T) {
	token, _, err := GenerateToken(JWTConfig{SigningKey: testKey, Issuer: "psm"}, "alice", nil)
	require.NoError(t, err)

	_, err = JWTConfig{SigningKey: testKey, Issuer: "other"}.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
}

func TestValidateToken_SupportsKeyRotation(t *testing.T) {
	oldKey := []byte("old-key-123456789012345678901234567890")
	newKey := []byte("new-key-123456789012345678901234567890")

	token, _, err := GenerateToken(JWTConfig{SigningKey: oldKey}, "alice", nil)
	require.NoError(t, err)

	claims, err := JWTConfig{SigningKey: newKey, VerificationKeys: [][]byte{oldKey}}.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)

	_, err = JWTConfig{SigningKey: newKey}.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestValidateToken_RejectsExpiredAndAnonymous(t *testing.T) {
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := expired.SignedString(testKey)
	require.NoError(t, err)
	_, err = JWTConfig{SigningKey: testKey}.ValidateToken(signed)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	anonymous, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{}).SignedString(testKey)
	require.NoError(t, err)
	_, err = JWTConfig{SigningKey: testKey}.ValidateToken(anonymous)
	assert.Error(t, err)
}

func TestValidateToken_RejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{Username: "alice"}).SignedString(testKey)
	require.NoError(t, err)
	_, err = JWTConfig{SigningKey: testKey}.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTAuth(t *testing.T) {
	cfg := JWTConfig{SigningKey: testKey}
	router := gin.New()
	router.Use(JWTAuth(cfg))
	router.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, GetUsername(c.Request.Context()))
	})

	valid, _, err := GenerateToken(cfg, "bob", nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer " + valid, http.StatusOK, "bob"},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, "bob"},
		{"missing", "", http.StatusUnauthorized, "missing authorization header"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "invalid authorization header format"},
		{"garbage", "Bearer abc", http.StatusUnauthorized, "invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}
}

func TestJWTAuth_IdentityIsUsernameOnly(t *testing.T) {
	cfg := JWTConfig{SigningKey: testKey}
	router := gin.New()
	router.Use(JWTAuth(cfg))
	var (
		ginUser  string
		hasRoles bool
	)
	router.GET("/me", func(c *gin.Context) {
		ginUser = c.GetString("username")
		_, hasRoles = c.Get("roles")
		c.String(http.StatusOK, GetUsername(c.Request.Context()))
	})

	token, _, err := GenerateToken(cfg, "carol", []string{"admin"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "carol", w.Body.String())
	assert.Equal(t, "carol", ginUser)
	assert.False(t, hasRoles, "roles are not an authorization input")
}
