package webhookhttp

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const rawBodyKey = "rawBody"

// requireSignature 校验请求体的 HMAC-SHA256 签名。
// 签名必须对原始字节算,所以这里先读走 body,校验通过后
// 把字节存进 context 供 handler 解析,校验失败一律 401,
// 不泄露失败原因。
func requireSignature(secret, header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		provided := strings.TrimSpace(c.GetHeader(header))
		provided = strings.TrimPrefix(provided, "sha256=")
		if provided == "" || !verifySignature(secret, body, provided) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set(rawBodyKey, body)
		c.Next()
	}
}

// verifySignature 用 hmac.Equal 做常数时间比较。
func verifySignature(secret string, body []byte, provided string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	decoded, err := hex.DecodeString(strings.ToLower(provided))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, decoded)
}

// SignBody 计算请求体签名,客户端和测试共用。
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
