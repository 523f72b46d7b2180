package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestStructuredLoggerSkipsHealthCheckByDefault(t *testing.T) {
	r := gin.New()
	r.Use(StructuredLoggerWithConfigFunc(DefaultStructuredLoggerConfig()))
	r.GET("/up", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/apps/:appId/channels", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/up", nil)
	w := httptest.NewRecorder()
	assert.NotPanics(t, func() { r.ServeHTTP(w, req) })
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStructuredLoggerLogsNonSkippedPath(t *testing.T) {
	r := gin.New()
	r.Use(RequestID("node-1"), StructuredLoggerWithConfigFunc(DefaultStructuredLoggerConfig()))
	r.GET("/apps/:appId/channels", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/apps/app1/channels?info=user_count", nil)
	w := httptest.NewRecorder()
	assert.NotPanics(t, func() { r.ServeHTTP(w, req) })
	assert.Equal(t, http.StatusOK, w.Code)
}
