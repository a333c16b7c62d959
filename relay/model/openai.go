package model

import "encoding/json"

// ChatRequest is the OpenAI chat-completions request. Only the fields
// declared here are kept; any other field is dropped when a decoded value
// is re-encoded.
type ChatRequest struct {
	Model               string          `json:"model"`
	Messages            []Message       `json:"messages"`
	MaxTokens           int             `json:"max_tokens,omitempty"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	Temperature         *float64        `json:"temperature,omitempty"`
	TopP                *float64        `json:"top_p,omitempty"`
	N                   int             `json:"n,omitempty"`
	Stream              bool            `json:"stream,omitempty"`
	StreamOptions       *StreamOptions  `json:"stream_options,omitempty"`
	Stop                any             `json:"stop,omitempty"`
	PresencePenalty     *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty    *float64        `json:"frequency_penalty,omitempty"`
	User                string          `json:"user,omitempty"`
	Tools               []Tool          `json:"tools,omitempty"`
	ToolChoice          any             `json:"tool_choice,omitempty"`
	ParallelToolCalls   *bool           `json:"parallel_tool_calls,omitempty"`
	ResponseFormat      json.RawMessage `json:"response_format,omitempty"`
	Seed                *int64          `json:"seed,omitempty"`
	ReasoningEffort     string          `json:"reasoning_effort,omitempty"`
	Modalities          []string        `json:"modalities,omitempty"`
	Audio               json.RawMessage `json:"audio,omitempty"`
}

type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// Message is a chat message. Content is either a string or a list of
// content parts.
type Message struct {
	Role       string `json:"role,omitempty"`
	Content    any    `json:"content,omitempty"`
	Name       string `json:"name,omitempty"`
	ToolCalls  []Tool `json:"tool_calls,omitempty"`
	ToolCallId string `json:"tool_call_id,omitempty"`
	// ReasoningContent carries provider thinking text on deltas.
	ReasoningContent string          `json:"reasoning_content,omitempty"`
	Refusal          string          `json:"refusal,omitempty"`
	Audio            json.RawMessage `json:"audio,omitempty"`
}

// StringContent flattens Content to plain text, joining text parts.
func (m Message) StringContent() string {
	switch v := m.Content.(type) {
	case string:
		return v
	case []any:
		var out string
		for _, part := range v {
			p, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if p["type"] == ContentTypeText {
				if text, ok := p["text"].(string); ok {
					out += text
				}
			}
		}
		return out
	}
	return ""
}

// ParseContent normalizes Content into typed parts.
func (m Message) ParseContent() []MessageContent {
	switch v := m.Content.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []MessageContent{{Type: ContentTypeText, Text: v}}
	case []any:
		var parts []MessageContent
		for _, raw := range v {
			b, err := json.Marshal(raw)
			if err != nil {
				continue
			}
			var part MessageContent
			if err := json.Unmarshal(b, &part); err != nil {
				continue
			}
			parts = append(parts, part)
		}
		return parts
	}
	return nil
}

const (
	ContentTypeText       = "text"
	ContentTypeImageURL   = "image_url"
	ContentTypeInputAudio = "input_audio"
)

type MessageContent struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	ImageURL   *ImageURL       `json:"image_url,omitempty"`
	InputAudio json.RawMessage `json:"input_audio,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ChatResponse is the OpenAI chat-completions response.
type ChatResponse struct {
	Id                string       `json:"id"`
	Object            string       `json:"object"`
	Created           int64        `json:"created"`
	Model             string       `json:"model"`
	Choices           []ChatChoice `json:"choices"`
	Usage             *Usage       `json:"usage,omitempty"`
	SystemFingerprint string       `json:"system_fingerprint,omitempty"`
}

type ChatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatStreamResponse is one OpenAI streaming chunk.
type ChatStreamResponse struct {
	Id      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []ChatStreamChoice `json:"choices"`
	Usage   *Usage             `json:"usage,omitempty"`
}

type ChatStreamChoice struct {
	Index        int     `json:"index"`
	Delta        Message `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

const (
	FinishReasonStop      = "stop"
	FinishReasonLength    = "length"
	FinishReasonToolCalls = "tool_calls"
)

// EmbeddingRequest is the OpenAI embeddings request, passed through with the
// model rewritten.
type EmbeddingRequest struct {
	Model          string `json:"model"`
	Input          any    `json:"input"`
	EncodingFormat string `json:"encoding_format,omitempty"`
	Dimensions     int    `json:"dimensions,omitempty"`
	User           string `json:"user,omitempty"`
}
