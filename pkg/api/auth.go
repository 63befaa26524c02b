package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tarsy-voice/tarsy-voice/pkg/config"
)

// hmacAuth enforces §4.9/§6's privileged-endpoint scheme:
// `Authorization: hmac <ts>.<nonce>.<sig>` where
// `sig = HMAC_SHA256(secret, ts|method|path|sha256(body))`, rejecting
// requests whose timestamp is outside cfg.MaxSkew of the server clock.
// The nonce is carried for client-side replay protection but is not
// tracked server-side (no shared nonce store is named anywhere in the
// spec); duplicate-nonce rejection is left to a future revision.
func hmacAuth(cfg *config.ControlPlaneConfig) gin.HandlerFunc {
	secret := os.Getenv(cfg.SecretEnv)
	maxSkew := cfg.MaxSkew
	if maxSkew <= 0 {
		maxSkew = 300 * time.Second
	}

	return func(c *gin.Context) {
		body, err := readAndRestoreBody(c)
		if err != nil {
			respondError(c, http.StatusBadRequest, "validation", "failed to read request body", nil)
			c.Abort()
			return
		}

		header := c.GetHeader("Authorization")
		ts, sig, ok := parseHMACHeader(header)
		if !ok {
			respondError(c, http.StatusUnauthorized, "auth", "missing or malformed Authorization header", nil)
			c.Abort()
			return
		}

		tsUnix, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			respondError(c, http.StatusUnauthorized, "auth", "invalid timestamp", nil)
			c.Abort()
			return
		}
		skew := time.Since(time.Unix(tsUnix, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > maxSkew {
			respondError(c, http.StatusUnauthorized, "auth", "timestamp outside allowed skew", nil)
			c.Abort()
			return
		}

		expected := hmacSignature(secret, ts, c.Request.Method, c.Request.URL.Path, body)
		if !hmac.Equal([]byte(sig), []byte(expected)) {
			respondError(c, http.StatusUnauthorized, "auth", "signature mismatch", nil)
			c.Abort()
			return
		}

		c.Next()
	}
}

// hmacSignature reproduces the control-plane signing scheme:
// HMAC_SHA256(secret, ts|method|path|sha256(body)).
func hmacSignature(secret, ts, method, path string, body []byte) string {
	bodyHash := sha256.Sum256(body)
	signed := ts + "|" + method + "|" + path + "|" + hex.EncodeToString(bodyHash[:])
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed))
	return hex.EncodeToString(mac.Sum(nil))
}

// parseHMACHeader splits `hmac <ts>.<nonce>.<sig>` into its timestamp
// and signature parts; the nonce is discarded (see hmacAuth doc).
func parseHMACHeader(header string) (ts, sig string, ok bool) {
	const prefix = "hmac "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	parts := strings.Split(strings.TrimPrefix(header, prefix), ".")
	if len(parts) != 3 {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// sseTokenAuth validates GET /webapp/sse's `?token=` query parameter
// against the shared control-plane secret directly, since an
// EventSource client cannot set a custom Authorization header and so
// cannot produce the full HMAC(time, method, path, body) signature
// (§9 open question: resolved in favor of a bearer-token shortcut
// scoped to this one streaming endpoint).
func sseTokenAuth(cfg *config.ControlPlaneConfig) gin.HandlerFunc {
	secret := os.Getenv(cfg.SecretEnv)
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" || !hmac.Equal([]byte(token), []byte(secret)) {
			respondError(c, http.StatusUnauthorized, "auth", "invalid or missing token", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

// readAndRestoreBody reads the full request body for signing and
// replaces it with a fresh reader so downstream gin binding can still
// consume it.
func readAndRestoreBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
