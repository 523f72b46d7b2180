package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestTimeoutAllowsFastRequest(t *testing.T) {
	r := gin.New()
	r.Use(Timeout(TimeoutConfig{Timeout: 50 * time.Millisecond}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTimeoutAbortsSlowRequest(t *testing.T) {
	r := gin.New()
	r.Use(Timeout(TimeoutConfig{Timeout: 10 * time.Millisecond}))
	r.GET("/x", func(c *gin.Context) {
		time.Sleep(50 * time.Millisecond)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestTimeout, w.Code)
}

func TestTimeoutSkipsExcludedPrefix(t *testing.T) {
	r := gin.New()
	r.Use(Timeout(TimeoutConfig{Timeout: 10 * time.Millisecond, ExcludedPrefix: "/app/"}))
	r.GET("/app/:appKey", func(c *gin.Context) {
		time.Sleep(50 * time.Millisecond)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/app/key1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDefaultTimeoutConfigExcludesWebSocketUpgrade(t *testing.T) {
	cfg := DefaultTimeoutConfig()
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, "/app/", cfg.ExcludedPrefix)
}
