package mapper

import (
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/meridianhq/ai-gateway/common/config"
	"github.com/meridianhq/ai-gateway/relay/endpoint"
	"github.com/meridianhq/ai-gateway/relay/modelid"
	"github.com/meridianhq/ai-gateway/relay/provider"
)

// ErrNoValidMapping reports that a model could not be mapped onto the
// target provider by any of the lookup stages.
var ErrNoValidMapping = errors.New("no valid model mapping")

// ModelMapper resolves a parsed model id to a concrete model string on a
// target provider. Lookup order: exact match in the target's model set,
// then the router-specific mapping table, then the default table.
type ModelMapper struct {
	// providerModels indexes each provider's configured model names.
	providerModels map[provider.InferenceProvider]map[string]struct{}
	defaultMapping map[string][]string
}

func NewModelMapper(providers map[string]config.ProviderConfig, defaultMapping map[string][]string) *ModelMapper {
	pm := make(map[provider.InferenceProvider]map[string]struct{}, len(providers))
	for name, pc := range providers {
		p, err := provider.FromWireName(name)
		if err != nil {
			continue
		}
		set := make(map[string]struct{}, len(pc.Models))
		for _, m := range pc.Models {
			set[m] = struct{}{}
		}
		pm[p] = set
	}
	return &ModelMapper{providerModels: pm, defaultMapping: defaultMapping}
}

// MapModel picks the target-provider model string for id. routerMapping is
// the per-router table and may be nil.
func (m *ModelMapper) MapModel(id modelid.ModelId, target provider.InferenceProvider, routerMapping map[string][]string) (string, error) {
	name := id.FormatName()

	// Exact match on the target's own model set.
	if m.hasModel(target, name) {
		return m.finalizeName(target, name, id), nil
	}

	if mapped, ok := m.lookup(routerMapping, name, target); ok {
		return mapped, nil
	}
	if mapped, ok := m.lookup(m.defaultMapping, name, target); ok {
		return mapped, nil
	}

	return "", errors.Wrapf(ErrNoValidMapping, "model %q onto provider %s", id.Format(), target)
}

func (m *ModelMapper) hasModel(p provider.InferenceProvider, name string) bool {
	set, ok := m.providerModels[p]
	if !ok {
		return false
	}
	_, ok = set[name]
	return ok
}

// lookup scans a mapping table. Candidate entries are either bare model
// names (validated against the target's model set) or provider-qualified
// "provider/model" ids (filtered by the target provider).
func (m *ModelMapper) lookup(table map[string][]string, name string, target provider.InferenceProvider) (string, bool) {
	if table == nil {
		return "", false
	}
	for _, candidate := range table[name] {
		if idx := strings.Index(candidate, "/"); idx > 0 {
			p, err := provider.FromWireName(candidate[:idx])
			if err != nil || p != target {
				continue
			}
			return candidate[idx+1:], true
		}
		if m.hasModel(target, candidate) {
			return candidate, true
		}
	}
	return "", false
}

// finalizeName applies the Anthropic alias quirk: claude-3-* aliases are
// emitted with an explicit -latest suffix, while claude-4-* aliases are
// implicit.
func (m *ModelMapper) finalizeName(target provider.InferenceProvider, name string, id modelid.ModelId) string {
	if target != provider.Anthropic {
		return name
	}
	if id.Version.Kind != modelid.VersionLatest || id.Version.Raw != "" {
		return name
	}
	if strings.HasPrefix(name, "claude-3-") && !strings.HasSuffix(name, "-latest") {
		return name + "-latest"
	}
	return name
}

// SupportsEndpoint verifies the provider serves the endpoint type before a
// mapping is attempted.
func (m *ModelMapper) SupportsEndpoint(p provider.InferenceProvider, t endpoint.EndpointType) bool {
	return endpoint.Supported(p, t)
}
