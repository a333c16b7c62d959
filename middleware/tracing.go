package middleware

import (
	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/meridianhq/ai-gateway/common/helper"
	"github.com/meridianhq/ai-gateway/relay/metrics"
)

// Tracing opens one logical span per request: the request id and route are
// attached to the per-request logger, inbound trace-context headers are
// propagated to the response when configured, and the request counter is
// incremented on entry.
//
// The Authorization header is sensitive and never logged; only its
// presence is recorded.
func Tracing(propagate bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, "started").Inc()

		lg := gmw.GetLogger(c).With(
			zap.String("request_id", c.GetString(helper.RequestIdKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Bool("authenticated", c.Request.Header.Get("Authorization") != ""),
		)
		gmw.SetLogger(c, lg)

		if propagate {
			if tp := c.Request.Header.Get("traceparent"); tp != "" {
				c.Header("traceparent", tp)
			}
			if ts := c.Request.Header.Get("tracestate"); ts != "" {
				c.Header("tracestate", ts)
			}
		}

		c.Next()
	}
}
