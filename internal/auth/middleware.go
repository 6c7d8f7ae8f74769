package auth

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RawBodyKey is the gin context key holding the verified request body.
const RawBodyKey = "rawBody"

const maxBody = 1 << 20

// LineSignature rejects requests whose X-Line-Signature does not match the
// raw body. The body is restored for the next handler and also stored under
// RawBodyKey.
func LineSignature(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		if !Verify(secret, body, c.GetHeader(SignatureHeader)) {
			slog.WarnContext(c.Request.Context(), "webhook signature rejected",
				slog.String("client_ip", c.ClientIP()),
				slog.Bool("header_present", c.GetHeader(SignatureHeader) != ""))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Set(RawBodyKey, body)
		c.Next()
	}
}
