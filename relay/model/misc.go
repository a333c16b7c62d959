package model

// Usage is the token usage block returned in the OpenAI dialect.
type Usage struct {
	// Omitting zero values keeps pass-through responses byte-compatible when
	// upstream left the block out.
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

type Error struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    any    `json:"code,omitempty"`
	// RawError preserves the original upstream or internal error for
	// diagnostics. Omitted from JSON to avoid leaking provider internals.
	RawError error `json:"-"`
}

type ErrorWithStatusCode struct {
	Error
	StatusCode int `json:"status_code"`
}
