package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/VicenzaTech/psm-backend/internal/pkg/errors"
	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.Replace(zap.NewNop())
	os.Exit(m.Run())
}

func serve(t *testing.T, handler gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	router := gin.New()
	router.Use(RequestID(), ErrorHandler())
	router.GET("/x", handler)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestErrorHandler_NoErrors(t *testing.T) {
	w := serve(t, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestErrorHandler_AppErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", apperrors.ErrNotFoundf(apperrors.CodeProductionPlanNotFound, "ProductionPlan", 9), http.StatusNotFound, apperrors.CodeProductionPlanNotFound},
		{"invalid transition", apperrors.ErrInvalidTransitionf("ProductionPlan", 9, "DRAFT", "COMPLETED"), http.StatusConflict, apperrors.CodeInvalidStatusTransition},
		{"conflict", apperrors.ErrStageAlreadyActivef("EP", 1, "P-001"), http.StatusConflict, apperrors.CodeStageAlreadyActive},
		{"validation", apperrors.ErrValidationf("shift", "bad shift"), http.StatusBadRequest, apperrors.CodeValidationFailed},
		{"wrapped", fmt.Errorf("handler: %w", apperrors.ErrNotFoundf(apperrors.CodeWorkshopNotFound, "Workshop", 1)), http.StatusNotFound, apperrors.CodeWorkshopNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, func(c *gin.Context) { _ = c.Error(tt.err) })
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode(t, w)["code"])
		})
	}
}

func TestErrorHandler_RendersParams(t *testing.T) {
	w := serve(t, func(c *gin.Context) {
		_ = c.Error(apperrors.ErrInvalidTransitionf("ProductionPlan", 9, "DRAFT", "COMPLETED"))
	})
	params, ok := decode(t, w)["params"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "DRAFT", params["current"])
	assert.Equal(t, "COMPLETED", params["attempted"])
}

func TestErrorHandler_GenericError(t *testing.T) {
	for _, err := range []error{
		fmt.Errorf("something unexpected"),
		apperrors.Internal(apperrors.CodeInternal, "database password is hunter2"),
	} {
		w := serve(t, func(c *gin.Context) { _ = c.Error(err) })
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decode(t, w)
		assert.Equal(t, apperrors.CodeInternal, body["code"])
		assert.Equal(t, "An internal error occurred", body["message"])
	}
}

func TestRequestID_EchoesIncomingHeader(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	var seen string
	router.GET("/x", func(c *gin.Context) {
		seen = GetRequestID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}
