package model

import (
	"time"

	"github.com/meridianhq/ai-gateway/common/config"
	"github.com/meridianhq/ai-gateway/relay/endpoint"
	"github.com/meridianhq/ai-gateway/relay/modelid"
	"github.com/meridianhq/ai-gateway/relay/provider"
)

// AuthContext is the identity resolved by the auth oracle for one request.
type AuthContext struct {
	UserId string
	OrgId  string
	Scopes []string
	// ApiKeyHash is a stable hash of the presented credential, used as the
	// rate-limit subject when configured.
	ApiKeyHash string
}

// HasScope reports whether the context carries the named scope.
func (a *AuthContext) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// RequestContext is attached to the request once (after auth and router
// resolution) and consumed many times. It owns copies of everything the
// side-channel logging task needs so that task never holds request-lifetime
// references.
type RequestContext struct {
	Auth         *AuthContext
	RouterConfig *config.RouterConfig
	ProviderKeys map[provider.InferenceProvider]string
	StartTime    time.Time
	RequestId    string
}

// ProviderKey returns the upstream credential for p, empty when absent.
func (r *RequestContext) ProviderKey(p provider.InferenceProvider) string {
	if r == nil || r.ProviderKeys == nil {
		return ""
	}
	return r.ProviderKeys[p]
}

// MapperContext is produced when the request body is first deserialized and
// read by the dispatcher.
type MapperContext struct {
	IsStream bool
	Model    *modelid.ModelId
}

// RateLimitEvent is published by a dispatcher when an upstream returns 429
// and consumed by the router's rate-limit monitor.
type RateLimitEvent struct {
	Endpoint endpoint.ApiEndpoint
	// RetryAfterSeconds is taken from the upstream Retry-After header when
	// present; zero means unknown.
	RetryAfterSeconds int
}
