// Package provider enumerates the upstream inference providers.
package provider

import (
	"strings"

	"github.com/Laisky/errors/v2"
)

// InferenceProvider identifies one upstream provider family. The zero value
// is invalid.
type InferenceProvider int

const (
	Unknown InferenceProvider = iota
	OpenAI
	Anthropic
	GoogleGemini
	Bedrock
	Ollama
)

// wireNames is the stable lower-case form used on the wire for
// /{provider}/... routing and gateway response headers. Keep in sync with
// FromWireName.
var wireNames = map[InferenceProvider]string{
	OpenAI:       "openai",
	Anthropic:    "anthropic",
	GoogleGemini: "gemini",
	Bedrock:      "bedrock",
	Ollama:       "ollama",
}

// All lists the supported providers in enumeration order.
var All = []InferenceProvider{OpenAI, Anthropic, GoogleGemini, Bedrock, Ollama}

// String returns the wire name.
func (p InferenceProvider) String() string {
	if name, ok := wireNames[p]; ok {
		return name
	}
	return "unknown"
}

// FromWireName parses a wire name into a provider.
func FromWireName(name string) (InferenceProvider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return OpenAI, nil
	case "anthropic":
		return Anthropic, nil
	case "gemini", "google", "google-gemini":
		return GoogleGemini, nil
	case "bedrock", "aws":
		return Bedrock, nil
	case "ollama":
		return Ollama, nil
	default:
		return Unknown, errors.Errorf("provider not supported: %q", name)
	}
}
