package validation

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestIsValidSlug(t *testing.T) {
	tests := []struct {
		slug  string
		valid bool
	}{
		{"aave", true},
		{"aave-v3", true},
		{"curve.fi", true},
		{"Dot_Finance", true},
		{"ethereum", true},
		{"c2", true},

		{"", false},
		{"-leading", false},
		{"spaced name", false},
		{"semi;colon", false},
		{"../etc/passwd", false},
		{string(make([]byte, 80)), false},
	}

	for _, tc := range tests {
		if got := IsValidSlug(tc.slug); got != tc.valid {
			t.Errorf("IsValidSlug(%q) = %v, want %v", tc.slug, got, tc.valid)
		}
	}
}

func TestIsValidTxSignature(t *testing.T) {
	valid := "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
	if !IsValidTxSignature(valid) {
		t.Errorf("expected %q to be a valid signature", valid)
	}

	invalid := []string{
		"",
		"short",
		"0OIl" + valid[4:], // base58 excludes 0, O, I, l
	}
	for _, s := range invalid {
		if IsValidTxSignature(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"null\x00byte", 20, "nullbyte"},
	}

	for _, tc := range tests {
		if got := SanitizeString(tc.input, tc.maxLen); got != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, got, tc.expected)
		}
	}
}

func TestProtocolParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/risk-score/:protocol", ProtocolParamMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/risk-score/aave", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/risk-score/bad;slug", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_protocol")
}

func TestChainQueryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/exploits", ChainQueryMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/exploits?chain=solana", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/exploits", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/exploits?chain=bad%20chain", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
