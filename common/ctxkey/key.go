package ctxkey

const (
	// RequestId is the per-request unique identifier, also echoed back as the
	// X-Request-Id response header.
	// Set in: middleware/request_id.
	// Read in: logsink records, middleware/utils for error bodies.
	RequestId = "X-Request-Id"

	// AuthContext holds the *relaymodel.AuthContext resolved by the auth middleware.
	// Absent when the router runs with auth disabled.
	AuthContext = "auth_context"

	// RequestContext holds the *relaymodel.RequestContext assembled once per
	// request after auth and router resolution. Read by the dispatcher for
	// provider keys and by the logsink task.
	RequestContext = "request_context"

	// MapperContext holds the *relaymodel.MapperContext produced when the
	// request body is first deserialized (stream flag + parsed model id).
	// Read in: dispatcher to pick unary vs SSE handling.
	MapperContext = "mapper_context"

	// ApiEndpoint holds the resolved endpoint.ApiEndpoint for the request.
	// Set in: router when the request path maps to a known endpoint.
	// Read in: dispatcher for URL construction and metrics labels.
	ApiEndpoint = "api_endpoint"

	// PathAndQuery is the sub-path plus query extracted by the meta-router
	// (the portion after /router/{id}).
	// Read in: router for endpoint resolution and by the direct proxy.
	PathAndQuery = "path_and_query"

	// ProviderRequestId carries the upstream x-request-id, copied before the
	// header is stripped from the response.
	// Read in: middleware/response_headers.
	ProviderRequestId = "provider_request_id"

	// Provider is the wire name of the provider that served the request.
	// Set in: dispatcher once the upstream call is made.
	// Read in: middleware/response_headers.
	Provider = "provider"

	// RouterConfig holds the *config.RouterConfig for the resolved router.
	// Set in: meta-router dispatch.
	// Read in: auth (auth-disabled), rate-limit and cache middleware.
	RouterConfig = "router_config"

	// RouterId is the resolved RouterId string form for the current request.
	// Set in: meta-router dispatch.
	// Read in: rate-limit middleware for per-router bucket keys.
	RouterId = "router_id"

	// TargetModel is the concrete model string after mapping, as sent to
	// the chosen provider.
	// Set in: router after MapRequest.
	// Read in: dispatcher (Bedrock URL construction) and logsink records.
	TargetModel = "target_model"

	// KeyRequestBody caches the raw request body bytes so the body can be
	// read once and consumed by the mapper, the cache key, and the dispatcher.
	KeyRequestBody = "key_request_body"

	// CacheHit marks that the response was served from the response cache.
	// Set in: middleware/cache on a fresh hit; nothing reads it yet.
	CacheHit = "cache_hit"
)
