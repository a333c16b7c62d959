package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/meridianhq/ai-gateway/common/helper"
)

// RequestId injects an X-Request-Id if the client did not send one and
// propagates it to the response.
func RequestId() func(c *gin.Context) {
	return func(c *gin.Context) {
		id := c.Request.Header.Get(helper.RequestIdKey)
		if id == "" {
			id = helper.GenRequestID()
		}
		c.Set(helper.RequestIdKey, id)
		c.Header(helper.RequestIdKey, id)
		c.Next()
	}
}
