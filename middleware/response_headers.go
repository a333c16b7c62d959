package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/meridianhq/ai-gateway/common/ctxkey"
)

const (
	headerProvider      = "helicone-provider"
	headerProviderReqId = "helicone-provider-req-id"
)

// ResponseHeaders surfaces which provider served the request and the
// upstream request id, taken from the response extensions the dispatcher
// filled in.
//
// The headers are set after the downstream handlers return. Headers set at
// that point reach the client only if the response head has not been
// written yet; the dispatcher stamps both headers itself before it writes
// the upstream response.
func ResponseHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// No effect on the wire once the response head has been written.
		if p := c.GetString(ctxkey.Provider); p != "" {
			c.Writer.Header().Set(headerProvider, p)
		}
		if id := c.GetString(ctxkey.ProviderRequestId); id != "" {
			c.Writer.Header().Set(headerProviderReqId, id)
		}
	}
}
