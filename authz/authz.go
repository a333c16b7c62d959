// Package authz defines the authentication oracle contract. The remote
// control plane fulfils it in hosted deployments; self-hosted and sidecar
// deployments use the static key table from configuration.
package authz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/Laisky/errors/v2"

	"github.com/meridianhq/ai-gateway/common/config"
	relaymodel "github.com/meridianhq/ai-gateway/relay/model"
)

// ErrInvalidCredential is returned for unknown or malformed credentials.
var ErrInvalidCredential = errors.New("invalid credential")

// Oracle maps a bearer credential to an identity.
type Oracle interface {
	Authenticate(ctx context.Context, credential string) (*relaymodel.AuthContext, error)
}

// StaticOracle authenticates against the key table from configuration.
type StaticOracle struct {
	keys map[string]config.AuthKey
}

func NewStaticOracle(keys map[string]config.AuthKey) *StaticOracle {
	return &StaticOracle{keys: keys}
}

func (o *StaticOracle) Authenticate(_ context.Context, credential string) (*relaymodel.AuthContext, error) {
	if credential == "" {
		return nil, errors.Wrap(ErrInvalidCredential, "empty credential")
	}
	key, ok := o.keys[credential]
	if !ok {
		return nil, ErrInvalidCredential
	}
	return &relaymodel.AuthContext{
		UserId:     key.UserId,
		OrgId:      key.OrgId,
		Scopes:     key.Scopes,
		ApiKeyHash: HashCredential(credential),
	}, nil
}

// HashCredential derives the stable rate-limit subject for an API key. The
// raw credential never leaves the auth path.
func HashCredential(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:8])
}
