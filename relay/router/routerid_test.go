package router

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractRouterId(t *testing.T) {
	cases := []struct {
		uri     string
		id      string
		subPath string
	}{
		{"/router/default/v1/chat/completions", "default", "/v1/chat/completions"},
		{"/router/DEFAULT/v1/chat/completions", "default", "/v1/chat/completions"},
		{"/router/prod-1/v1/messages", "prod-1", "/v1/messages"},
		{"/router/my_router/v1/embeddings?dims=256", "my_router", "/v1/embeddings?dims=256"},
		// No sub path but a query: the query string is the subpath.
		{"/router/default?x=1", "default", "?x=1"},
		// Neither path nor query.
		{"/router/default", "default", "/"},
	}
	for _, tc := range cases {
		t.Run(tc.uri, func(t *testing.T) {
			rid, sub, gerr := ExtractRouterId(tc.uri)
			require.Nil(t, gerr)
			require.Equal(t, tc.id, rid.String())
			require.Equal(t, tc.subPath, sub)
		})
	}
}

func TestExtractRouterIdNotFound(t *testing.T) {
	for _, uri := range []string{
		"/router/",
		"/router/this-id-is-way-too-long/v1/chat/completions",
		"/router/bad!id/v1/chat/completions",
		"/other/default",
	} {
		_, _, gerr := ExtractRouterId(uri)
		require.NotNil(t, gerr, "expected %q to be rejected", uri)
		require.Equal(t, 404, gerr.HTTPStatus())
	}
}
