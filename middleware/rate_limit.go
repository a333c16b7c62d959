package middleware

import (
	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/meridianhq/ai-gateway/common/config"
	"github.com/meridianhq/ai-gateway/common/ctxkey"
	"github.com/meridianhq/ai-gateway/limiter"
	"github.com/meridianhq/ai-gateway/relay/metrics"
	relaymodel "github.com/meridianhq/ai-gateway/relay/model"
)

// StoreResolver turns a rate-limit config into its backing store. The
// process builds one resolver so that every layer naming the same backend
// shares state.
type StoreResolver func(cfg *config.RateLimitConfig) limiter.Store

// GlobalRateLimit is the outermost admission layer with a single constant
// bucket key.
func GlobalRateLimit(cfg *config.RateLimitConfig, resolve StoreResolver) gin.HandlerFunc {
	if cfg == nil || cfg.Store == "disabled" || cfg.Capacity <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	store := resolve(cfg)
	return func(c *gin.Context) {
		if admit(c, "global", store, "global", cfg) {
			c.Next()
		}
	}
}

// RouterRateLimit admits per (router, auth subject). Router configs
// override nothing globally: the layers are independent GCRAs and the first
// to reject wins.
func RouterRateLimit(resolve StoreResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := routerRateLimitConfig(c)
		if cfg == nil || cfg.Store == "disabled" || cfg.Capacity <= 0 {
			c.Next()
			return
		}
		key := "router:" + c.GetString(ctxkey.RouterId) + ":" + subjectFor(c, cfg)
		if admit(c, "router", resolve(cfg), key, cfg) {
			c.Next()
		}
	}
}

// EndpointRateLimit admits per (router, endpoint type, auth subject); it
// runs inside the router stack once the endpoint is resolved.
func EndpointRateLimit(c *gin.Context, cfg *config.RateLimitConfig, resolve StoreResolver, endpointType string) bool {
	if cfg == nil || cfg.Store == "disabled" || cfg.Capacity <= 0 {
		return true
	}
	key := "endpoint:" + c.GetString(ctxkey.RouterId) + ":" + endpointType + ":" + subjectFor(c, cfg)
	return admit(c, "endpoint", resolve(cfg), key, cfg)
}

// admit runs one GCRA check; on rejection it aborts the request with 429
// and Retry-After, and reports false.
func admit(c *gin.Context, layer string, store limiter.Store, key string, cfg *config.RateLimitConfig) bool {
	decision, err := store.Admit(c.Request.Context(), key, cfg.Capacity, cfg.RefillPeriod)
	if err != nil {
		// A broken store fails open: rejecting all traffic on a Redis
		// hiccup is worse than briefly exceeding the budget.
		gmw.GetLogger(c).Warn("rate limit store error, admitting",
			zap.String("layer", layer), zap.Error(err))
		return true
	}
	if decision.Allowed {
		return true
	}

	metrics.RateLimitedTotal.WithLabelValues(layer).Inc()
	AbortWithGatewayError(c, relaymodel.NewRateLimited(limiter.RetryAfterSeconds(decision.RetryAfter)))
	return false
}

func routerRateLimitConfig(c *gin.Context) *config.RateLimitConfig {
	v, ok := c.Get(ctxkey.RouterConfig)
	if !ok {
		return nil
	}
	rc, ok := v.(*config.RouterConfig)
	if !ok {
		return nil
	}
	return rc.RateLimit
}

// subjectFor picks the per-subject component of the bucket key: the user id
// or the api-key hash, falling back to the client address when the request
// is unauthenticated.
func subjectFor(c *gin.Context, cfg *config.RateLimitConfig) string {
	v, ok := c.Get(ctxkey.AuthContext)
	if !ok {
		return "anon:" + c.ClientIP()
	}
	authCtx, ok := v.(*relaymodel.AuthContext)
	if !ok {
		return "anon:" + c.ClientIP()
	}
	if cfg.Subject == "api-key" {
		return "key:" + authCtx.ApiKeyHash
	}
	return "user:" + authCtx.UserId
}
