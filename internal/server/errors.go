package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xling-dev/xling/internal/dialect"
)

// writeError sends an OpenAI-shaped error envelope.
func writeError(c *gin.Context, status int, errType, message string) {
	c.JSON(status, gin.H{"error": gin.H{"type": errType, "message": message}})
}

// writeDialectError sends an error envelope in the client's own dialect:
// Anthropic gets {type:"error",error:{…}}, the Responses API gets a failed
// response object, everything else the OpenAI envelope.
func writeDialectError(c *gin.Context, kind dialect.Kind, status int, errType, message string) {
	switch kind {
	case dialect.KindAnthropic:
		c.JSON(status, gin.H{
			"type":  "error",
			"error": gin.H{"type": errType, "message": message},
		})
	case dialect.KindResponses:
		c.JSON(status, gin.H{
			"id":     fmt.Sprintf("resp_%d", time.Now().UnixMilli()),
			"object": "response",
			"status": "failed",
			"error":  gin.H{"code": errType, "message": message},
		})
	default:
		writeError(c, status, errType, message)
	}
}

// errTypeForStatus picks the envelope error type for a gateway-generated
// status.
func errTypeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "auth_error"
	case status == http.StatusBadRequest, status == http.StatusNotFound:
		return "invalid_request_error"
	case status >= 500:
		return "api_error"
	default:
		return "invalid_request_error"
	}
}
