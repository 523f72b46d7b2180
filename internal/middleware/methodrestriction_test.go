package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestAllowedHTTPMethodsPassesGetAndPost(t *testing.T) {
	r := gin.New()
	r.Use(AllowedHTTPMethods())
	r.Any("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		req := httptest.NewRequest(method, "/x", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, method)
	}
}

func TestAllowedHTTPMethodsRejectsOthers(t *testing.T) {
	r := gin.New()
	r.Use(AllowedHTTPMethods())
	r.Any("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, method := range []string{http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodTrace} {
		req := httptest.NewRequest(method, "/x", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, method)
		assert.Equal(t, "GET, POST", w.Header().Get("Allow"), method)
	}
}
