package balancer

import (
	"github.com/meridianhq/ai-gateway/common/config"
	"github.com/meridianhq/ai-gateway/relay/provider"
)

// Target is one provider slot derived from a BalanceConfig.
type Target struct {
	Provider provider.InferenceProvider
	// Weight is zero for the latency strategy (weight is not part of the
	// discovery key there).
	Weight float64
}

// StrategyFor maps the config strategy string.
func StrategyFor(bc config.BalanceConfig) Strategy {
	if bc.Strategy == "weighted" {
		return StrategyWeighted
	}
	return StrategyP2C
}

// TargetsFor expands a BalanceConfig into its provider targets in config
// order. Unknown provider names were already rejected by config validation.
func TargetsFor(bc config.BalanceConfig) []Target {
	var out []Target
	if bc.Strategy == "weighted" {
		for _, t := range bc.Targets {
			p, err := provider.FromWireName(t.Provider)
			if err != nil {
				continue
			}
			out = append(out, Target{Provider: p, Weight: t.Weight})
		}
		return out
	}
	for _, name := range bc.Prov {
		p, err := provider.FromWireName(name)
		if err != nil {
			continue
		}
		out = append(out, Target{Provider: p})
	}
	return out
}
