package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/meridianhq/ai-gateway/authz"
	"github.com/meridianhq/ai-gateway/common/config"
	"github.com/meridianhq/ai-gateway/common/ctxkey"
	relaymodel "github.com/meridianhq/ai-gateway/relay/model"
)

// Auth consults the oracle with the bearer credential. On success the
// AuthContext extension is attached; on failure the request is rejected
// with 401 before any downstream middleware runs. Routers may opt out via
// auth-disabled, which also applies when auth is globally off.
func Auth(oracle authz.Oracle, authCfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authCfg.Enabled || routerAuthDisabled(c) {
			c.Next()
			return
		}

		credential := strings.TrimPrefix(c.Request.Header.Get("Authorization"), "Bearer ")
		if credential == "" {
			AbortWithGatewayError(c, relaymodel.NewAuthFailure("missing credential"))
			return
		}

		authCtx, err := oracle.Authenticate(c.Request.Context(), credential)
		if err != nil {
			AbortWithGatewayError(c, relaymodel.NewAuthFailure("invalid credential"))
			return
		}

		c.Set(ctxkey.AuthContext, authCtx)
		c.Next()
	}
}

func routerAuthDisabled(c *gin.Context) bool {
	v, ok := c.Get(ctxkey.RouterConfig)
	if !ok {
		return false
	}
	rc, ok := v.(*config.RouterConfig)
	return ok && rc.AuthDisabled
}
