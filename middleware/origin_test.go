package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowedNormalizesCase(t *testing.T) {
	p := NewOriginPolicy([]string{"http://Example.COM:3000"})

	assert.True(t, p.Allowed("http://example.com:3000"))
	assert.True(t, p.Allowed("HTTP://EXAMPLE.COM:3000"))
	assert.False(t, p.Allowed("http://example.com"), "port is part of the host")
	assert.False(t, p.Allowed("https://example.com:3000"), "scheme is part of the origin")
}

func TestEmptyOriginIsAdmitted(t *testing.T) {
	p := NewOriginPolicy([]string{"http://localhost:3000"})
	assert.True(t, p.Allowed(""), "non-browser clients send no Origin header")
}

func TestWildcardAllowsEverything(t *testing.T) {
	p := NewOriginPolicy([]string{"*"})
	assert.True(t, p.Allowed("http://anything.example"))
}

func TestInvalidConfiguredOriginsAreSkipped(t *testing.T) {
	p := NewOriginPolicy([]string{"not a url", "", "http://ok.example"})
	assert.True(t, p.Allowed("http://ok.example"))
	assert.False(t, p.Allowed("http://other.example"))
}

func TestCheckRequestForHandshake(t *testing.T) {
	p := NewOriginPolicy([]string{"http://app.example"})

	r := httptest.NewRequest(http.MethodGet, "/socket", nil)
	r.Header.Set("Origin", "http://evil.example")
	assert.False(t, p.CheckRequest(r))

	r.Header.Set("Origin", "http://app.example")
	assert.True(t, p.CheckRequest(r))

	r.Header.Del("Origin")
	assert.True(t, p.CheckRequest(r))
}

func newCORSRouter(p *OriginPolicy) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(p.CORS())
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestCORSBlocksDisallowedOrigin(t *testing.T) {
	r := newCORSRouter(NewOriginPolicy([]string{"http://app.example"}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.example")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCORSEchoesAllowedOrigin(t *testing.T) {
	r := newCORSRouter(NewOriginPolicy([]string{"http://app.example"}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://app.example")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://app.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSPreflight(t *testing.T) {
	r := newCORSRouter(NewOriginPolicy([]string{"http://app.example"}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/healthz", nil)
	req.Header.Set("Origin", "http://app.example")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "GET")
}
