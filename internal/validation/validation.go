// Package validation provides input validation middleware for the API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxSlugLength is the maximum length of a protocol or chain identifier.
const MaxSlugLength = 64

var (
	// slugRegex validates protocol and chain identifiers
	slugRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)
	// base58Regex validates Solana addresses and transaction signatures
	base58Regex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidSlug checks whether a string is an acceptable protocol or chain
// identifier. Upstream sources use lowercase names; callers may send any
// case and filtering is case-insensitive downstream.
func IsValidSlug(s string) bool {
	return s != "" && len(s) <= MaxSlugLength && slugRegex.MatchString(s)
}

// IsValidTxSignature checks whether a string looks like a Solana transaction
// signature (base58-encoded 64 bytes, 87 or 88 characters in practice).
func IsValidTxSignature(s string) bool {
	return len(s) >= 64 && len(s) <= 96 && base58Regex.MatchString(s)
}

// SanitizeString trims whitespace, strips null bytes, and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ProtocolParamMiddleware validates the :protocol URL parameter on routes
// that use it, rejecting malformed identifiers before any payment work.
func ProtocolParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := c.Param("protocol")
		if p != "" && !IsValidSlug(p) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_protocol",
				"message": "protocol must be an alphanumeric identifier",
			})
			return
		}
		c.Next()
	}
}

// ChainQueryMiddleware validates the optional ?chain= query parameter.
func ChainQueryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		chain := c.Query("chain")
		if chain != "" && !IsValidSlug(chain) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_chain",
				"message": "chain must be an alphanumeric identifier",
			})
			return
		}
		c.Next()
	}
}
