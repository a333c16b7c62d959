package middleware

import (
	"strconv"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/meridianhq/ai-gateway/common/helper"
	relaymodel "github.com/meridianhq/ai-gateway/relay/model"
)

// AbortWithError aborts the request with a plain JSON error body.
func AbortWithError(c *gin.Context, statusCode int, err error) {
	logger := gmw.GetLogger(c)
	logger.Warn("server abort",
		zap.Int("status_code", statusCode),
		zap.Error(err))

	c.JSON(statusCode, gin.H{
		"error": gin.H{
			"message": helper.MessageWithRequestId(err.Error(), c.GetString(helper.RequestIdKey)),
			"type":    "ai_gateway_error",
		},
	})
	c.Abort()
}

// AbortWithGatewayError maps a structured pipeline error onto HTTP. This is
// the single place the error taxonomy turns into responses.
func AbortWithGatewayError(c *gin.Context, gerr *relaymodel.GatewayError) {
	logger := gmw.GetLogger(c)
	status := gerr.HTTPStatus()

	message := gerr.Message
	if gerr.Kind == relaymodel.KindInternal {
		// Internal detail is logged, never surfaced.
		logger.Error("internal error", zap.Error(errors.WithStack(gerr)))
		message = "internal server error"
	} else {
		logger.Warn("request failed",
			zap.Int("status_code", status),
			zap.Error(gerr))
	}

	if gerr.Kind == relaymodel.KindRateLimited {
		retryAfter := gerr.RetryAfterSeconds
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
	}

	c.JSON(status, gin.H{
		"error": gin.H{
			"message": helper.MessageWithRequestId(message, c.GetString(helper.RequestIdKey)),
			"type":    gerr.ErrorType(),
		},
	})
	c.Abort()
}

// AbortNotFound is the shared not-found response for unroutable paths.
func AbortNotFound(c *gin.Context, path string) {
	AbortWithGatewayError(c, relaymodel.NewNotFound(path))
}
