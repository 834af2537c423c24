package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestBearerAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		cfg    AuthConfig
		path   string
		remote string
		header string
		want   int
	}{
		{"disabled", AuthConfig{Enabled: false, Token: "t"}, "/v1/tasks", "10.0.0.2:4000", "", http.StatusOK},
		{"missing header", AuthConfig{Enabled: true, Token: "t"}, "/v1/tasks", "10.0.0.2:4000", "", http.StatusUnauthorized},
		{"wrong scheme", AuthConfig{Enabled: true, Token: "t"}, "/v1/tasks", "10.0.0.2:4000", "Basic t", http.StatusUnauthorized},
		{"wrong token", AuthConfig{Enabled: true, Token: "t"}, "/v1/tasks", "10.0.0.2:4000", "Bearer x", http.StatusUnauthorized},
		{"valid token", AuthConfig{Enabled: true, Token: "t"}, "/v1/tasks", "10.0.0.2:4000", "Bearer t", http.StatusOK},
		{"healthz is open", AuthConfig{Enabled: true, Token: "t"}, "/healthz", "10.0.0.2:4000", "", http.StatusOK},
		{"loopback allowed", AuthConfig{Enabled: true, Token: "t", AllowLocal: true}, "/v1/tasks", "127.0.0.1:4000", "", http.StatusOK},
		{"loopback not allowed", AuthConfig{Enabled: true, Token: "t"}, "/v1/tasks", "127.0.0.1:4000", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(BearerAuth(&tt.cfg))
			r.GET(tt.path, func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.RemoteAddr = tt.remote
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
