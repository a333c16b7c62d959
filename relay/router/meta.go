package router

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meridianhq/ai-gateway/authz"
	"github.com/meridianhq/ai-gateway/cache"
	"github.com/meridianhq/ai-gateway/common"
	"github.com/meridianhq/ai-gateway/common/config"
	"github.com/meridianhq/ai-gateway/common/ctxkey"
	"github.com/meridianhq/ai-gateway/common/helper"
	"github.com/meridianhq/ai-gateway/middleware"
	"github.com/meridianhq/ai-gateway/relay/dispatcher"
	"github.com/meridianhq/ai-gateway/relay/endpoint"
	"github.com/meridianhq/ai-gateway/relay/keystore"
	"github.com/meridianhq/ai-gateway/relay/mapper"
	"github.com/meridianhq/ai-gateway/relay/metrics"
	relaymodel "github.com/meridianhq/ai-gateway/relay/model"
	"github.com/meridianhq/ai-gateway/relay/provider"
)

// scheme is the URL family the meta-router resolved.
type scheme int

const (
	schemeRouter scheme = iota
	schemeUnified
	schemeDirect
)

const schemeKey = "meta_scheme"

// MetaRouter owns every configured router plus the unified-API and
// direct-proxy surfaces, and dispatches requests between them by path
// prefix.
type MetaRouter struct {
	cfg      *config.Full
	routers  map[string]*Router
	direct   map[provider.InferenceProvider]*dispatcher.Dispatcher
	mapper   *mapper.Mapper
	keys     *keystore.Store
	oracle   authz.Oracle
	buckets  *cache.Buckets
	resolve  middleware.StoreResolver
	registry *metrics.Registry
}

func NewMetaRouter(
	cfg *config.Full,
	opts *dispatcher.Options,
	keys *keystore.Store,
	oracle authz.Oracle,
	buckets *cache.Buckets,
	resolve middleware.StoreResolver,
	registry *metrics.Registry,
) (*MetaRouter, error) {
	m := &MetaRouter{
		cfg:      cfg,
		routers:  make(map[string]*Router),
		direct:   make(map[provider.InferenceProvider]*dispatcher.Dispatcher),
		mapper:   opts.Mapper,
		keys:     keys,
		oracle:   oracle,
		buckets:  buckets,
		resolve:  resolve,
		registry: registry,
	}

	for idName := range cfg.Routers {
		rc := cfg.Routers[idName]
		rid := DefaultRouterId
		if !strings.EqualFold(idName, "default") {
			rid = RouterId{name: idName}
		}
		r, err := NewRouter(rid, &rc, cfg.Monitor, opts, registry, resolve)
		if err != nil {
			return nil, err
		}
		m.routers[rid.String()] = r
	}

	// One direct-proxy dispatcher per configured provider.
	for name := range cfg.Providers {
		p, err := provider.FromWireName(name)
		if err != nil {
			continue
		}
		d, err := dispatcher.New("direct", p, mapper.DialectFor(p), opts, nil)
		if err != nil {
			return nil, err
		}
		m.direct[p] = d
	}

	return m, nil
}

// StartMonitors launches every router's background tasks.
func (m *MetaRouter) StartMonitors(ctx context.Context) {
	for _, r := range m.routers {
		r.StartMonitors(ctx)
	}
}

// Register installs the meta-router chain. The three URL schemes share one
// middleware stack; anything the resolver rejects is a 404 before auth.
func (m *MetaRouter) Register(engine *gin.Engine) {
	engine.NoRoute(
		m.resolveScheme,
		middleware.Auth(m.oracle, m.cfg.Auth),
		middleware.GlobalRateLimit(m.cfg.Global.RateLimit, m.resolve),
		middleware.RouterRateLimit(m.resolve),
		middleware.Cache(m.buckets, m.cfg.Global.Cache),
		middleware.ResponseHeaders(),
		m.attachRequestContext,
		m.dispatch,
	)
}

// resolveScheme parses the URL scheme, normalizes the trailing slash, and
// primes the extensions every later layer reads.
func (m *MetaRouter) resolveScheme(c *gin.Context) {
	requestURI := c.Request.URL.RequestURI()
	if path := strings.TrimSuffix(c.Request.URL.Path, "/"); path != c.Request.URL.Path && path != "" {
		requestURI = path
		if q := c.Request.URL.RawQuery; q != "" {
			requestURI += "?" + q
		}
	}

	switch {
	case strings.HasPrefix(requestURI, "/router/") || requestURI == "/router":
		rid, sub, gerr := ExtractRouterId(requestURI)
		if gerr != nil {
			middleware.AbortWithGatewayError(c, gerr)
			return
		}
		r, ok := m.routers[rid.String()]
		if !ok {
			middleware.AbortNotFound(c, requestURI)
			return
		}
		c.Set(schemeKey, int(schemeRouter))
		c.Set(ctxkey.RouterId, rid.String())
		c.Set(ctxkey.RouterConfig, r.cfg)
		c.Set(ctxkey.PathAndQuery, sub)

	case strings.HasPrefix(requestURI, "/ai/") || requestURI == "/ai":
		c.Set(schemeKey, int(schemeUnified))
		c.Set(ctxkey.RouterId, "unified")
		c.Set(ctxkey.PathAndQuery, strings.TrimPrefix(requestURI, "/ai"))

	default:
		// /{provider}{rest}
		trimmed := strings.TrimPrefix(requestURI, "/")
		name, rest, _ := strings.Cut(trimmed, "/")
		if name == "" {
			middleware.AbortNotFound(c, requestURI)
			return
		}
		p, err := provider.FromWireName(strings.SplitN(name, "?", 2)[0])
		if err != nil {
			middleware.AbortNotFound(c, requestURI)
			return
		}
		if _, ok := m.direct[p]; !ok {
			middleware.AbortNotFound(c, requestURI)
			return
		}
		c.Set(schemeKey, int(schemeDirect))
		c.Set(ctxkey.RouterId, "direct")
		c.Set(ctxkey.Provider, p.String())
		c.Set(ctxkey.PathAndQuery, "/"+rest)
	}

	c.Next()
}

// attachRequestContext builds the RequestContext extension exactly once,
// after auth, with owned copies of everything downstream tasks need.
func (m *MetaRouter) attachRequestContext(c *gin.Context) {
	reqCtx := &relaymodel.RequestContext{
		ProviderKeys: m.keys.Snapshot(),
		StartTime:    time.Now(),
		RequestId:    c.GetString(helper.RequestIdKey),
	}
	if v, ok := c.Get(ctxkey.AuthContext); ok {
		if authCtx, ok := v.(*relaymodel.AuthContext); ok {
			reqCtx.Auth = authCtx
		}
	}
	if v, ok := c.Get(ctxkey.RouterConfig); ok {
		if rc, ok := v.(*config.RouterConfig); ok {
			reqCtx.RouterConfig = rc
		}
	}
	c.Set(ctxkey.RequestContext, reqCtx)
	c.Next()
}

func (m *MetaRouter) dispatch(c *gin.Context) {
	switch c.GetInt(schemeKey) {
	case int(schemeUnified):
		m.handleUnified(c)
	case int(schemeDirect):
		m.handleDirect(c)
	default:
		routerId := c.GetString(ctxkey.RouterId)
		m.routers[routerId].Handle(c)
	}
}

// handleUnified serves the /ai surface: the body must be an OpenAI
// chat-completion JSON whose model id picks the provider.
func (m *MetaRouter) handleUnified(c *gin.Context) {
	sub := c.GetString(ctxkey.PathAndQuery)
	path := sub
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if et, ok := endpoint.ResolveType(path, "openai"); !ok || et != endpoint.Chat {
		middleware.AbortWithGatewayError(c, &relaymodel.GatewayError{
			Kind:    relaymodel.KindInvalidRequest,
			Status:  404,
			Message: "unified api supports only the chat completions endpoint",
		})
		return
	}

	body, err := common.GetRequestBody(c)
	if err != nil {
		middleware.AbortWithGatewayError(c, relaymodel.NewInternal("read request body", err))
		return
	}

	var probe struct {
		Model string `json:"model"`
	}
	if uerr := common.UnmarshalBodyReusable(c, &probe); uerr != nil {
		middleware.AbortWithGatewayError(c, relaymodel.NewInvalidRequest("malformed chat request"))
		return
	}

	id, perr := m.mapper.ParseModelId(probe.Model)
	if perr != nil {
		middleware.AbortWithGatewayError(c, relaymodel.NewMapperInputError("unsupported model", perr))
		return
	}

	d, ok := m.direct[id.Provider]
	if !ok {
		middleware.AbortWithGatewayError(c, relaymodel.NewMapperInputError(
			"provider not configured: "+id.Provider.String(), nil))
		return
	}

	mapped, gerr := m.mapper.MapRequest(body, mapper.DialectOpenAI, id.Provider, endpoint.Chat, nil)
	if gerr != nil {
		middleware.AbortWithGatewayError(c, gerr)
		return
	}

	c.Set(ctxkey.ApiEndpoint, endpoint.ApiEndpoint{Provider: id.Provider, Type: endpoint.Chat})
	c.Set(ctxkey.MapperContext, &mapped.Ctx)
	c.Set(ctxkey.TargetModel, mapped.TargetModel)
	common.SetRequestBody(c, mapped.Body)

	if gerr := d.Do(c); gerr != nil {
		middleware.AbortWithGatewayError(c, gerr)
	}
}

// handleDirect forwards a provider-native request to that same provider.
// The mapper context is pinned to a non-streaming, model-less request: the
// gateway does not parse the body here, so it cannot reliably detect
// streaming.
func (m *MetaRouter) handleDirect(c *gin.Context) {
	p, err := provider.FromWireName(c.GetString(ctxkey.Provider))
	if err != nil {
		middleware.AbortNotFound(c, c.Request.URL.Path)
		return
	}
	c.Set(ctxkey.MapperContext, &relaymodel.MapperContext{IsStream: false, Model: nil})

	if gerr := m.direct[p].DoDirect(c); gerr != nil {
		middleware.AbortWithGatewayError(c, gerr)
	}
}
