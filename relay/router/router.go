// Package router implements the per-router request stack and the
// meta-router that dispatches the three URL schemes.
package router

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meridianhq/ai-gateway/common"
	"github.com/meridianhq/ai-gateway/common/config"
	"github.com/meridianhq/ai-gateway/common/ctxkey"
	"github.com/meridianhq/ai-gateway/middleware"
	"github.com/meridianhq/ai-gateway/relay/balancer"
	"github.com/meridianhq/ai-gateway/relay/dispatcher"
	"github.com/meridianhq/ai-gateway/relay/endpoint"
	"github.com/meridianhq/ai-gateway/relay/mapper"
	"github.com/meridianhq/ai-gateway/relay/metrics"
	relaymodel "github.com/meridianhq/ai-gateway/relay/model"
	"github.com/meridianhq/ai-gateway/relay/monitor"
	"github.com/meridianhq/ai-gateway/relay/provider"
)

// pickTimeout bounds how long a request waits for a ready endpoint before
// the router answers 503.
const pickTimeout = 5 * time.Second

// Router serves one configured router id: one balancer per endpoint type
// plus a pass-through dispatcher for unknown sub-paths.
type Router struct {
	id    RouterId
	cfg   *config.RouterConfig
	style mapper.Dialect

	balancers map[endpoint.EndpointType]*balancer.Balancer
	direct    *dispatcher.Dispatcher

	healthMon *monitor.HealthMonitor
	rlMon     *monitor.RateLimitMonitor

	mapper   *mapper.Mapper
	registry *metrics.Registry
	resolve  middleware.StoreResolver
}

// NewRouter builds the router, seeds every balancer with its configured
// dispatchers, and prepares (but does not start) its monitors.
func NewRouter(
	id RouterId,
	cfg *config.RouterConfig,
	monitorCfg config.MonitorConfig,
	opts *dispatcher.Options,
	registry *metrics.Registry,
	resolve middleware.StoreResolver,
) (*Router, error) {
	style := mapper.DialectFromStyle(cfg.RequestStyle)

	r := &Router{
		id:        id,
		cfg:       cfg,
		style:     style,
		balancers: make(map[endpoint.EndpointType]*balancer.Balancer),
		mapper:    opts.Mapper,
		registry:  registry,
		resolve:   resolve,
	}

	balance := make(map[endpoint.EndpointType]config.BalanceConfig, len(cfg.LoadBalance))
	for name, bc := range cfg.LoadBalance {
		et, err := endpoint.TypeFromName(name)
		if err != nil {
			return nil, err
		}
		balance[et] = bc
	}

	cooling := monitor.NewCoolingSet()
	r.rlMon = monitor.NewRateLimitMonitor(id.String(), monitorCfg, balance, r.balancers, r.factory(opts), cooling)
	r.healthMon = monitor.NewHealthMonitor(id.String(), monitorCfg, balance, r.balancers, registry, r.factory(opts), cooling)

	for et, bc := range balance {
		b := balancer.New(id.String(), et, balancer.StrategyFor(bc), registry)
		r.balancers[et] = b
		for _, target := range balancer.TargetsFor(bc) {
			svc, err := dispatcher.New(id.String(), target.Provider, style, opts, r.rlMon.Events)
			if err != nil {
				return nil, err
			}
			b.Changes() <- balancer.Change{
				Insert:  true,
				Key:     balancer.Key{Provider: target.Provider, Endpoint: et, Weight: target.Weight},
				Service: svc,
			}
		}
	}

	// The pass-through dispatcher targets the first chat provider so
	// unknown sub-paths still reach a sensible upstream.
	if direct := firstProvider(balance); direct != provider.Unknown {
		d, err := dispatcher.New(id.String(), direct, style, opts, r.rlMon.Events)
		if err != nil {
			return nil, err
		}
		r.direct = d
	}

	return r, nil
}

// factory rebuilds dispatchers for monitor re-insertions.
func (r *Router) factory(opts *dispatcher.Options) monitor.DispatcherFactory {
	return func(p provider.InferenceProvider) (balancer.Service, error) {
		return dispatcher.New(r.id.String(), p, r.style, opts, r.rlMon.Events)
	}
}

// StartMonitors launches the router's background tasks.
func (r *Router) StartMonitors(ctx context.Context) {
	go r.healthMon.Run(ctx)
	go r.rlMon.Run(ctx)
}

// PollReady reports whether every balancer and the pass-through are usable.
func (r *Router) PollReady() bool {
	for _, b := range r.balancers {
		if !b.PollReady() {
			return false
		}
	}
	return r.direct != nil
}

// Handle serves one request whose PathAndQuery extension was set by the
// meta-router.
func (r *Router) Handle(c *gin.Context) {
	pathAndQuery := c.GetString(ctxkey.PathAndQuery)
	path := pathAndQuery
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}

	et, known := endpoint.ResolveType(path, r.cfg.RequestStyle)
	if !known {
		if r.direct == nil {
			middleware.AbortNotFound(c, pathAndQuery)
			return
		}
		if gerr := r.direct.DoDirect(c); gerr != nil {
			middleware.AbortWithGatewayError(c, gerr)
		}
		return
	}

	b, ok := r.balancers[et]
	if !ok {
		// Known endpoint shape but nothing balances it on this router.
		middleware.AbortWithGatewayError(c, &relaymodel.GatewayError{
			Kind:    relaymodel.KindInvalidRequest,
			Status:  404,
			Message: "endpoint not configured: " + et.String(),
		})
		return
	}

	if cfg := r.cfg.RateLimit; cfg != nil {
		if !middleware.EndpointRateLimit(c, cfg, r.resolve, et.String()) {
			return
		}
	}

	pickCtx, cancel := context.WithTimeout(c.Request.Context(), pickTimeout)
	svc, gerr := b.Pick(pickCtx)
	cancel()
	if gerr != nil {
		middleware.AbortWithGatewayError(c, gerr)
		return
	}

	body, err := common.GetRequestBody(c)
	if err != nil {
		middleware.AbortWithGatewayError(c, relaymodel.NewInternal("read request body", err))
		return
	}

	mapped, gerr := r.mapper.MapRequest(body, r.style, svc.Provider(), et, r.cfg.ModelMappings)
	if gerr != nil {
		middleware.AbortWithGatewayError(c, gerr)
		return
	}

	c.Set(ctxkey.ApiEndpoint, endpoint.ApiEndpoint{Provider: svc.Provider(), Type: et})
	c.Set(ctxkey.MapperContext, &mapped.Ctx)
	c.Set(ctxkey.TargetModel, mapped.TargetModel)
	common.SetRequestBody(c, mapped.Body)

	// Rewrite the outbound query to whatever the client appended.
	if u, err := url.ParseRequestURI(pathAndQuery); err == nil {
		c.Request.URL.RawQuery = u.RawQuery
	}

	if gerr := svc.Do(c); gerr != nil {
		middleware.AbortWithGatewayError(c, gerr)
	}
}

func firstProvider(balance map[endpoint.EndpointType]config.BalanceConfig) provider.InferenceProvider {
	if bc, ok := balance[endpoint.Chat]; ok {
		targets := balancer.TargetsFor(bc)
		if len(targets) > 0 {
			return targets[0].Provider
		}
	}
	for _, bc := range balance {
		targets := balancer.TargetsFor(bc)
		if len(targets) > 0 {
			return targets[0].Provider
		}
	}
	return provider.Unknown
}
