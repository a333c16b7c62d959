package endpoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridianhq/ai-gateway/relay/provider"
)

func TestResolveType(t *testing.T) {
	et, ok := ResolveType("/v1/chat/completions", "openai")
	require.True(t, ok)
	require.Equal(t, Chat, et)

	et, ok = ResolveType("/v1/messages", "anthropic")
	require.True(t, ok)
	require.Equal(t, Chat, et)

	// Anthropic style does not expose the OpenAI paths.
	_, ok = ResolveType("/v1/chat/completions", "anthropic")
	require.False(t, ok)

	_, ok = ResolveType("/v1/unknown", "openai")
	require.False(t, ok)
}

func TestUpstreamPath(t *testing.T) {
	p, err := ApiEndpoint{provider.Anthropic, Chat}.UpstreamPath()
	require.NoError(t, err)
	require.Equal(t, "/v1/messages", p)

	p, err = ApiEndpoint{provider.GoogleGemini, Chat}.UpstreamPath()
	require.NoError(t, err)
	require.Equal(t, "/v1beta/openai/chat/completions", p)

	_, err = ApiEndpoint{provider.Bedrock, Chat}.UpstreamPath()
	require.Error(t, err)

	require.Equal(t,
		"/model/anthropic.claude-3-haiku-20240307-v1:0/invoke-with-response-stream",
		UpstreamPathBedrock("anthropic.claude-3-haiku-20240307-v1:0", true))

	_, err = ApiEndpoint{provider.Anthropic, Embedding}.UpstreamPath()
	require.Error(t, err)
}
