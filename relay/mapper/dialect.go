// Package mapper converts requests, responses and stream chunks between
// provider dialects and selects concrete target models.
//
// Every supported conversion pair has OpenAI on at least one side. Gemini
// and Ollama are served through their OpenAI-compatible surfaces, so they
// share the OpenAI dialect; Bedrock wraps the Anthropic messages schema.
package mapper

import "github.com/meridianhq/ai-gateway/relay/provider"

// Dialect is the JSON schema family a provider (or client) speaks.
type Dialect int

const (
	DialectOpenAI Dialect = iota
	DialectAnthropic
)

func (d Dialect) String() string {
	if d == DialectAnthropic {
		return "anthropic"
	}
	return "openai"
}

// DialectFor returns the wire dialect of a provider.
func DialectFor(p provider.InferenceProvider) Dialect {
	switch p {
	case provider.Anthropic, provider.Bedrock:
		return DialectAnthropic
	default:
		return DialectOpenAI
	}
}

// DialectFromStyle maps a router's request-style config value to a dialect.
func DialectFromStyle(style string) Dialect {
	if style == "anthropic" {
		return DialectAnthropic
	}
	return DialectOpenAI
}
