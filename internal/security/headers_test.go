package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestRouter(middleware ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware...)
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.OPTIONS("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestHeadersMiddleware(t *testing.T) {
	r := newTestRouter(HeadersMiddleware())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "frame-ancestors 'none'")
}

func TestCORSMiddleware_AllowedOrigin(t *testing.T) {
	r := newTestRouter(CORSMiddleware([]string{"https://app.example.com"}))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-PAYMENT")
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSMiddleware_DisallowedOrigin(t *testing.T) {
	r := newTestRouter(CORSMiddleware([]string{"https://app.example.com"}))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_WildcardNoCredentials(t *testing.T) {
	r := newTestRouter(CORSMiddleware([]string{"*"}))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://anywhere.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "https://anywhere.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	r := newTestRouter(CORSMiddleware(nil))

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Bare OPTIONS without an Origin falls through to the route.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestValidateUpstreamURL(t *testing.T) {
	valid := []string{
		"https://api.llama.fi",
		"http://example.com/hacks",
	}
	for _, u := range valid {
		assert.NoError(t, ValidateUpstreamURL(u), u)
	}

	invalid := []string{
		"ftp://example.com",
		"https://localhost:8080",
		"http://127.0.0.1:8899",
		"http://10.0.0.5",
		"http://169.254.169.254/latest/meta-data",
		"http://0.0.0.0",
		"not a url at all://",
		"https://",
	}
	for _, u := range invalid {
		assert.Error(t, ValidateUpstreamURL(u), u)
	}
}
