// Package endpoint maps request paths to logical endpoint types and binds
// (provider, endpoint type) pairs to their canonical upstream paths.
package endpoint

import (
	"fmt"

	"github.com/Laisky/errors/v2"

	"github.com/meridianhq/ai-gateway/relay/provider"
)

// EndpointType is one logical API surface the gateway can balance over.
type EndpointType int

const (
	Chat EndpointType = iota
	Completion
	Embedding
)

// AllTypes lists endpoint types in enumeration order; monitors and routers
// iterate it so that per-tick output is deterministic.
var AllTypes = []EndpointType{Chat, Completion, Embedding}

func (t EndpointType) String() string {
	switch t {
	case Chat:
		return "chat"
	case Completion:
		return "completion"
	case Embedding:
		return "embedding"
	default:
		return "unknown"
	}
}

// TypeFromName parses the endpoint-type names used in router configuration.
func TypeFromName(name string) (EndpointType, error) {
	switch name {
	case "chat":
		return Chat, nil
	case "completion":
		return Completion, nil
	case "embedding":
		return Embedding, nil
	default:
		return 0, errors.Errorf("unknown endpoint type %q", name)
	}
}

// ApiEndpoint binds a provider to an endpoint type. The pair determines the
// canonical upstream path and the metrics identity.
type ApiEndpoint struct {
	Provider provider.InferenceProvider
	Type     EndpointType
}

func (e ApiEndpoint) String() string {
	return fmt.Sprintf("%s/%s", e.Provider, e.Type)
}

// inboundPaths maps the path a client sends (per request style) to the
// endpoint type. Styles follow the dialect the router is configured with.
var inboundOpenAIPaths = map[string]EndpointType{
	"/v1/chat/completions": Chat,
	"/chat/completions":    Chat,
	"/v1/completions":      Completion,
	"/v1/embeddings":       Embedding,
}

var inboundAnthropicPaths = map[string]EndpointType{
	"/v1/messages": Chat,
}

// ResolveType maps an inbound sub-path to an endpoint type under the given
// request style ("openai" or "anthropic"). ok is false when the path is not
// a known endpoint and must fall through to the direct proxy.
func ResolveType(path string, requestStyle string) (EndpointType, bool) {
	var table map[string]EndpointType
	switch requestStyle {
	case "anthropic":
		table = inboundAnthropicPaths
	default:
		table = inboundOpenAIPaths
	}
	t, ok := table[path]
	return t, ok
}

// upstreamPaths is the canonical outbound path per (provider, type).
// Bedrock is absent: its path embeds the model id and is built by the
// dispatcher (see UpstreamPathBedrock).
var upstreamPaths = map[ApiEndpoint]string{
	{provider.OpenAI, Chat}:       "/v1/chat/completions",
	{provider.OpenAI, Completion}: "/v1/completions",
	{provider.OpenAI, Embedding}:  "/v1/embeddings",

	{provider.Anthropic, Chat}: "/v1/messages",

	{provider.GoogleGemini, Chat}:      "/v1beta/openai/chat/completions",
	{provider.GoogleGemini, Embedding}: "/v1beta/openai/embeddings",

	{provider.Ollama, Chat}:      "/v1/chat/completions",
	{provider.Ollama, Embedding}: "/v1/embeddings",
}

// UpstreamPath returns the canonical path for the endpoint on its provider.
func (e ApiEndpoint) UpstreamPath() (string, error) {
	if p, ok := upstreamPaths[e]; ok {
		return p, nil
	}
	if e.Provider == provider.Bedrock {
		return "", errors.New("bedrock paths are model-scoped; use UpstreamPathBedrock")
	}
	return "", errors.Errorf("unsupported endpoint %s", e)
}

// UpstreamPathBedrock builds the Bedrock invoke path for a model. Streaming
// uses the invoke-with-response-stream variant.
func UpstreamPathBedrock(modelID string, stream bool) string {
	if stream {
		return fmt.Sprintf("/model/%s/invoke-with-response-stream", modelID)
	}
	return fmt.Sprintf("/model/%s/invoke", modelID)
}

// Supported reports whether the provider serves this endpoint type at all.
func Supported(p provider.InferenceProvider, t EndpointType) bool {
	if p == provider.Bedrock {
		return t == Chat
	}
	_, ok := upstreamPaths[ApiEndpoint{p, t}]
	return ok
}
