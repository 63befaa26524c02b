package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// securityHeaders sets the same standard response headers the
// dashboard-serving control plane sets on every response.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// maxBodyBytes caps request body size at limit, mirroring the
// server-wide body limit applied ahead of request binding. No
// gin-contrib/size equivalent is vendored in this module, so this
// wraps the body in http.MaxBytesReader directly.
func maxBodyBytes(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
