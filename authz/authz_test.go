package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridianhq/ai-gateway/common/config"
)

func TestStaticOracle(t *testing.T) {
	oracle := NewStaticOracle(map[string]config.AuthKey{
		"sk-alpha": {UserId: "u1", OrgId: "o1", Scopes: []string{"chat"}},
	})

	ctx := context.Background()

	authCtx, err := oracle.Authenticate(ctx, "sk-alpha")
	require.NoError(t, err)
	require.Equal(t, "u1", authCtx.UserId)
	require.Equal(t, "o1", authCtx.OrgId)
	require.True(t, authCtx.HasScope("chat"))
	require.False(t, authCtx.HasScope("admin"))
	require.NotEmpty(t, authCtx.ApiKeyHash)
	require.NotContains(t, authCtx.ApiKeyHash, "sk-alpha")

	_, err = oracle.Authenticate(ctx, "sk-unknown")
	require.ErrorIs(t, err, ErrInvalidCredential)

	_, err = oracle.Authenticate(ctx, "")
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func TestHashCredentialStable(t *testing.T) {
	require.Equal(t, HashCredential("k"), HashCredential("k"))
	require.NotEqual(t, HashCredential("k"), HashCredential("k2"))
}
