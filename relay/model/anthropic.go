package model

import "encoding/json"

// AnthropicRequest is the Anthropic messages-API request.
type AnthropicRequest struct {
	Model         string               `json:"model"`
	Messages      []AnthropicMessage   `json:"messages"`
	System        any                  `json:"system,omitempty"` // string or []AnthropicContent
	MaxTokens     int                  `json:"max_tokens"`
	StopSequences []string             `json:"stop_sequences,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
	TopP          *float64             `json:"top_p,omitempty"`
	TopK          int                  `json:"top_k,omitempty"`
	Metadata      *AnthropicMetadata   `json:"metadata,omitempty"`
	Tools         []AnthropicTool      `json:"tools,omitempty"`
	ToolChoice    *AnthropicToolChoice `json:"tool_choice,omitempty"`
	Thinking      *AnthropicThinking   `json:"thinking,omitempty"`
}

type AnthropicMetadata struct {
	UserId string `json:"user_id,omitempty"`
}

type AnthropicThinking struct {
	Type         string `json:"type"` // "enabled" | "disabled"
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type AnthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []AnthropicContent
}

// ParseContent normalizes a message's content into typed blocks.
func (m AnthropicMessage) ParseContent() []AnthropicContent {
	switch v := m.Content.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []AnthropicContent{{Type: "text", Text: v}}
	case []any:
		var blocks []AnthropicContent
		for _, raw := range v {
			b, err := json.Marshal(raw)
			if err != nil {
				continue
			}
			var block AnthropicContent
			if err := json.Unmarshal(b, &block); err != nil {
				continue
			}
			blocks = append(blocks, block)
		}
		return blocks
	}
	return nil
}

type AnthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// type == "image"
	Source *AnthropicImageSource `json:"source,omitempty"`

	// type == "tool_use"
	Id    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseId string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// type == "thinking"
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type AnthropicImageSource struct {
	Type      string `json:"type"` // "base64" | "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type AnthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

type AnthropicToolChoice struct {
	Type string `json:"type"` // "auto" | "any" | "tool" | "none"
	Name string `json:"name,omitempty"`
}

// AnthropicResponse is the non-streaming messages-API response.
type AnthropicResponse struct {
	Id           string             `json:"id"`
	Type         string             `json:"type"`
	Role         string             `json:"role"`
	Model        string             `json:"model"`
	Content      []AnthropicContent `json:"content"`
	StopReason   string             `json:"stop_reason,omitempty"`
	StopSequence *string            `json:"stop_sequence,omitempty"`
	Usage        AnthropicUsage     `json:"usage"`
	Error        *AnthropicError    `json:"error,omitempty"`
}

type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type AnthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

const (
	StopReasonEndTurn      = "end_turn"
	StopReasonMaxTokens    = "max_tokens"
	StopReasonStopSequence = "stop_sequence"
	StopReasonToolUse      = "tool_use"
)

// AnthropicStreamEvent is one SSE event from the messages API. Exactly the
// fields needed by the stream mapper are modeled; everything else rides in
// the raw payload.
type AnthropicStreamEvent struct {
	Type string `json:"type"`

	// message_start
	Message *AnthropicResponse `json:"message,omitempty"`

	// content_block_start
	Index        int               `json:"index,omitempty"`
	ContentBlock *AnthropicContent `json:"content_block,omitempty"`

	// content_block_delta
	Delta *AnthropicStreamDelta `json:"delta,omitempty"`

	// message_delta
	Usage *AnthropicUsage `json:"usage,omitempty"`

	// error
	Error *AnthropicError `json:"error,omitempty"`
}

type AnthropicStreamDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// input_json_delta
	PartialJson string `json:"partial_json,omitempty"`
	// thinking_delta
	Thinking string `json:"thinking,omitempty"`
	// message_delta fields
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}
