package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AuthConfig holds the bearer token check of the API.
type AuthConfig struct {
	Enabled bool
	Token   string
	// AllowLocal lets loopback clients through without a token.
	AllowLocal bool
}

// open paths answer without a token.
var open = map[string]bool{"/healthz": true, "/version": true}

// BearerAuth rejects requests whose bearer token does not match cfg.Token.
// Tokens are compared in constant time.
func BearerAuth(cfg *AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled || cfg.Token == "" || open[c.Request.URL.Path] {
			c.Next()
			return
		}
		if cfg.AllowLocal && isLocalRequest(c.Request) {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "missing Authorization header")
			return
		}
		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			unauthorized(c, "invalid Authorization header format, expected 'Bearer <token>'")
			return
		}
		if subtle.ConstantTimeCompare([]byte(authHeader[len(prefix):]), []byte(cfg.Token)) != 1 {
			unauthorized(c, "invalid bearer token")
			return
		}
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    http.StatusUnauthorized,
		"message": msg,
	})
}

// isLocalRequest reports whether the request comes from a loopback address.
func isLocalRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
