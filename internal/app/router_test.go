package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VicenzaTech/psm-backend/internal/api/middleware"
	"github.com/VicenzaTech/psm-backend/internal/app/modules"
	"github.com/VicenzaTech/psm-backend/internal/config"
)

func TestBuildCORSConfig_DefaultsToAllowlistWhenOriginsEmpty(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{AllowedOrigins: nil}}

	got := buildCORSConfig(cfg)
	assert.False(t, got.AllowAllOrigins)
	assert.False(t, got.AllowCredentials)
	assert.Equal(t, defaultOrigins, got.AllowOrigins)
	assert.Contains(t, got.AllowHeaders, "Authorization")
}

func TestBuildCORSConfig_KeepsConfiguredOrigins(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{AllowedOrigins: []string{" https://psm.example.com ", ""}}}

	got := buildCORSConfig(cfg)
	assert.False(t, got.AllowAllOrigins)
	assert.Equal(t, []string{"https://psm.example.com"}, got.AllowOrigins)
}

func TestBuildCORSConfig_WildcardAllowsAll(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{AllowedOrigins: []string{"https://a.example.com", "*"}}}

	got := buildCORSConfig(cfg)
	assert.True(t, got.AllowAllOrigins)
	assert.Empty(t, got.AllowOrigins)
	require.NoError(t, got.Validate())
}

func TestRouter_MemoryMode(t *testing.T) {
	cfg := memoryConfig()
	application := bootstrapMemory(t, cfg)

	token, _, err := middleware.GenerateToken(modules.JWTConfig(cfg), "planner", nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{"healthz", http.MethodGet, "/healthz", "", http.StatusOK},
		{"liveness", http.MethodGet, "/health/live", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"log level", http.MethodGet, "/log/level", "", http.StatusOK},
		{"api without token", http.MethodGet, "/api/v1/workshops", "", http.StatusUnauthorized},
		{"api with token", http.MethodGet, "/api/v1/workshops", token, http.StatusOK},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			application.Router.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}
