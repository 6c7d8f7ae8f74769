package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignKnownVector(t *testing.T) {
	// echo -n '{"events":[]}' | openssl dgst -sha256 -hmac secret -binary | base64
	assert.Equal(t, "pkK1lVPJPiJ+wPLziRD79xIxohl8AImYM8AEeM7IbzQ=", Sign("secret", []byte(`{"events":[]}`)))
}

func TestVerify(t *testing.T) {
	body := []byte(`{"events":[{"type":"follow"}]}`)
	sig := Sign("s3cret", body)

	assert.True(t, Verify("s3cret", body, sig))
	assert.False(t, Verify("other", body, sig))
	assert.False(t, Verify("s3cret", append(body, ' '), sig))
	assert.False(t, Verify("s3cret", body, ""))
	assert.False(t, Verify("", body, sig))
	assert.False(t, Verify("s3cret", body, "%%%"))
}

func newRouter(t *testing.T, secret string, reached *bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhook", LineSignature(secret), func(c *gin.Context) {
		*reached = true
		b, _ := io.ReadAll(c.Request.Body)
		raw, _ := c.Get(RawBodyKey)
		assert.Equal(t, raw, b)
		c.String(http.StatusOK, string(b))
	})
	return r
}

func TestLineSignatureAccepts(t *testing.T) {
	body := `{"events":[]}`
	var reached bool
	r := newRouter(t, "secret", &reached)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(SignatureHeader, Sign("secret", []byte(body)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, reached)
	assert.Equal(t, body, w.Body.String())
}

func TestLineSignatureRejects(t *testing.T) {
	for name, sig := range map[string]string{
		"missing": "",
		"wrong":   Sign("other", []byte(`{"events":[]}`)),
	} {
		t.Run(name, func(t *testing.T) {
			var reached bool
			r := newRouter(t, "secret", &reached)
			req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"events":[]}`))
			if sig != "" {
				req.Header.Set(SignatureHeader, sig)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusForbidden, w.Code)
			assert.JSONEq(t, `{"error":"invalid signature"}`, w.Body.String())
			assert.False(t, reached)
		})
	}
}
