package mapper

import (
	"encoding/json"
	"strings"

	"github.com/Laisky/errors/v2"

	relaymodel "github.com/meridianhq/ai-gateway/relay/model"
)

const defaultMaxTokens = 4096

// mapChatRequestToAnthropic converts an OpenAI chat request into the
// Anthropic messages schema. targetModel is the already-mapped model name.
func mapChatRequestToAnthropic(req *relaymodel.ChatRequest, targetModel string) (*relaymodel.AnthropicRequest, error) {
	out := &relaymodel.AnthropicRequest{
		Model:       targetModel,
		MaxTokens:   resolveMaxTokens(req),
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}

	if req.User != "" {
		out.Metadata = &relaymodel.AnthropicMetadata{UserId: req.User}
	}

	if stops := normalizeStops(req.Stop); len(stops) > 0 {
		out.StopSequences = stops
	}

	for _, t := range req.Tools {
		if t.Type != "" && t.Type != "function" {
			continue
		}
		out.Tools = append(out.Tools, relaymodel.AnthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	tc, err := mapToolChoiceToAnthropic(req.ToolChoice)
	if err != nil {
		return nil, err
	}
	out.ToolChoice = tc

	if req.ReasoningEffort != "" {
		out.Thinking = thinkingFromEffort(req.ReasoningEffort, out.MaxTokens)
	}

	// System and developer prompts are collected in order into the
	// dedicated system field.
	var systemParts []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system", "developer":
			systemParts = append(systemParts, msg.StringContent())
			continue
		}
		converted, err := mapMessageToAnthropic(msg)
		if err != nil {
			return nil, err
		}
		if converted != nil {
			out.Messages = append(out.Messages, *converted)
		}
	}
	if len(systemParts) > 0 {
		out.System = strings.Join(systemParts, "\n")
	}

	return out, nil
}

func resolveMaxTokens(req *relaymodel.ChatRequest) int {
	if req.MaxCompletionTokens > 0 {
		return req.MaxCompletionTokens
	}
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens
}

func normalizeStops(stop any) []string {
	switch v := stop.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		var out []string
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return v
	}
	return nil
}

func mapToolChoiceToAnthropic(choice any) (*relaymodel.AnthropicToolChoice, error) {
	switch v := choice.(type) {
	case nil:
		return nil, nil
	case string:
		switch v {
		case "none":
			return &relaymodel.AnthropicToolChoice{Type: "none"}, nil
		case "auto":
			return &relaymodel.AnthropicToolChoice{Type: "auto"}, nil
		case "required":
			return &relaymodel.AnthropicToolChoice{Type: "any"}, nil
		}
		return nil, errors.Errorf("invalid tool_choice %q", v)
	case map[string]any:
		fn, _ := v["function"].(map[string]any)
		name, _ := fn["name"].(string)
		if name == "" {
			return nil, errors.New("named tool_choice missing function.name")
		}
		return &relaymodel.AnthropicToolChoice{Type: "tool", Name: name}, nil
	}
	return nil, errors.Errorf("invalid tool_choice of type %T", choice)
}

// thinkingFromEffort sizes the thinking budget as a fraction of max_tokens,
// the inverse of the effort classification used on the way back.
func thinkingFromEffort(effort string, maxTokens int) *relaymodel.AnthropicThinking {
	var ratio float64
	switch effort {
	case "low":
		ratio = 0.25
	case "medium":
		ratio = 0.5
	case "high":
		ratio = 0.8
	default:
		return nil
	}
	return &relaymodel.AnthropicThinking{
		Type:         "enabled",
		BudgetTokens: int(float64(maxTokens) * ratio),
	}
}

// mapMessageToAnthropic converts one non-system OpenAI message. Returns nil
// for messages that carry nothing Anthropic can express (e.g. audio-only).
func mapMessageToAnthropic(msg relaymodel.Message) (*relaymodel.AnthropicMessage, error) {
	switch msg.Role {
	case "tool":
		// Tool results ride as user-role tool_result blocks.
		return &relaymodel.AnthropicMessage{
			Role: "user",
			Content: []relaymodel.AnthropicContent{{
				Type:      "tool_result",
				ToolUseId: msg.ToolCallId,
				Content:   msg.StringContent(),
			}},
		}, nil
	case "assistant":
		var blocks []relaymodel.AnthropicContent
		if text := msg.StringContent(); text != "" {
			blocks = append(blocks, relaymodel.AnthropicContent{Type: "text", Text: text})
		}
		for _, call := range msg.ToolCalls {
			input, err := toolArgumentsToJSON(call.Function.Arguments)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, relaymodel.AnthropicContent{
				Type:  "tool_use",
				Id:    call.Id,
				Name:  call.Function.Name,
				Input: input,
			})
		}
		if len(blocks) == 0 {
			return nil, nil
		}
		return &relaymodel.AnthropicMessage{Role: "assistant", Content: blocks}, nil
	default:
		blocks, err := mapUserContentToAnthropic(msg)
		if err != nil {
			return nil, err
		}
		if len(blocks) == 0 {
			return nil, nil
		}
		return &relaymodel.AnthropicMessage{Role: "user", Content: blocks}, nil
	}
}

func mapUserContentToAnthropic(msg relaymodel.Message) ([]relaymodel.AnthropicContent, error) {
	var blocks []relaymodel.AnthropicContent
	for _, part := range msg.ParseContent() {
		switch part.Type {
		case relaymodel.ContentTypeText:
			blocks = append(blocks, relaymodel.AnthropicContent{Type: "text", Text: part.Text})
		case relaymodel.ContentTypeImageURL:
			if part.ImageURL == nil {
				continue
			}
			source, err := imageSourceFromURL(part.ImageURL.URL)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, relaymodel.AnthropicContent{Type: "image", Source: source})
		case relaymodel.ContentTypeInputAudio:
			// The target has no audio support; the part is dropped.
			continue
		}
	}
	return blocks, nil
}

// imageSourceFromURL turns an OpenAI image_url into an Anthropic image
// source. http(s) URLs pass by reference; anything else is treated as
// base64 data, defaulting to image/png when the data URL names no type.
func imageSourceFromURL(url string) (*relaymodel.AnthropicImageSource, error) {
	if strings.HasPrefix(url, "http") {
		return &relaymodel.AnthropicImageSource{Type: "url", URL: url}, nil
	}
	mediaType := "image/png"
	data := url
	if rest, ok := strings.CutPrefix(url, "data:"); ok {
		semi := strings.Index(rest, ";base64,")
		if semi < 0 {
			return nil, errors.Errorf("image data URL missing base64 payload")
		}
		if mt := rest[:semi]; mt != "" {
			mediaType = mt
		}
		data = rest[semi+len(";base64,"):]
	}
	return &relaymodel.AnthropicImageSource{
		Type:      "base64",
		MediaType: mediaType,
		Data:      data,
	}, nil
}

func toolArgumentsToJSON(arguments any) (json.RawMessage, error) {
	switch v := arguments.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case string:
		if v == "" {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid([]byte(v)) {
			return nil, errors.Errorf("tool call arguments are not valid JSON")
		}
		return json.RawMessage(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(err, "marshal tool arguments")
		}
		return b, nil
	}
}

// mapAnthropicRequestToChat converts an Anthropic messages request into the
// OpenAI chat schema for routers with anthropic request style targeting an
// OpenAI-dialect provider.
func mapAnthropicRequestToChat(req *relaymodel.AnthropicRequest, targetModel string) (*relaymodel.ChatRequest, error) {
	out := &relaymodel.ChatRequest{
		Model:               targetModel,
		MaxCompletionTokens: req.MaxTokens,
		Stream:              req.Stream,
		Temperature:         req.Temperature,
		TopP:                req.TopP,
	}

	if len(req.StopSequences) > 0 {
		out.Stop = req.StopSequences
	}
	if req.Metadata != nil && req.Metadata.UserId != "" {
		out.User = req.Metadata.UserId
	}
	if req.Thinking != nil && req.Thinking.Type == "enabled" && req.MaxTokens > 0 {
		out.ReasoningEffort = effortFromBudget(req.Thinking.BudgetTokens, req.MaxTokens)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, relaymodel.Tool{
			Type: "function",
			Function: relaymodel.Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	if req.ToolChoice != nil {
		switch req.ToolChoice.Type {
		case "none":
			out.ToolChoice = "none"
		case "auto":
			out.ToolChoice = "auto"
		case "any":
			out.ToolChoice = "required"
		case "tool":
			out.ToolChoice = map[string]any{
				"type":     "function",
				"function": map[string]any{"name": req.ToolChoice.Name},
			}
		}
	}

	if system := systemAsText(req.System); system != "" {
		out.Messages = append(out.Messages, relaymodel.Message{Role: "system", Content: system})
	}

	for _, msg := range req.Messages {
		converted, err := mapAnthropicMessageToChat(msg)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, converted...)
	}

	return out, nil
}

// effortFromBudget classifies thinking budget as a share of max_tokens.
func effortFromBudget(budget, maxTokens int) string {
	ratio := float64(budget) / float64(maxTokens)
	switch {
	case ratio < 0.33:
		return "low"
	case ratio < 0.66:
		return "medium"
	default:
		return "high"
	}
}

func systemAsText(system any) string {
	switch v := system.(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, raw := range v {
			if m, ok := raw.(map[string]any); ok {
				if text, ok := m["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func mapAnthropicMessageToChat(msg relaymodel.AnthropicMessage) ([]relaymodel.Message, error) {
	blocks := msg.ParseContent()
	if msg.Role == "assistant" {
		out := relaymodel.Message{Role: "assistant"}
		var text string
		for _, b := range blocks {
			switch b.Type {
			case "text":
				text += b.Text
			case "tool_use":
				args := "{}"
				if len(b.Input) > 0 {
					args = string(b.Input)
				}
				out.ToolCalls = append(out.ToolCalls, relaymodel.Tool{
					Id:   b.Id,
					Type: "function",
					Function: relaymodel.Function{
						Name:      b.Name,
						Arguments: args,
					},
				})
			}
		}
		if text != "" {
			out.Content = text
		}
		return []relaymodel.Message{out}, nil
	}

	// User messages may interleave tool results with regular content; tool
	// results become their own tool-role messages.
	var msgs []relaymodel.Message
	var parts []relaymodel.MessageContent
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, relaymodel.MessageContent{Type: relaymodel.ContentTypeText, Text: b.Text})
		case "image":
			if b.Source == nil {
				continue
			}
			url := b.Source.URL
			if b.Source.Type == "base64" {
				url = "data:" + b.Source.MediaType + ";base64," + b.Source.Data
			}
			parts = append(parts, relaymodel.MessageContent{
				Type:     relaymodel.ContentTypeImageURL,
				ImageURL: &relaymodel.ImageURL{URL: url},
			})
		case "tool_result":
			msgs = append(msgs, relaymodel.Message{
				Role:       "tool",
				ToolCallId: b.ToolUseId,
				Content:    anthropicToolResultText(b),
			})
		}
	}
	if len(parts) > 0 {
		content := make([]any, 0, len(parts))
		for _, p := range parts {
			content = append(content, p)
		}
		msgs = append(msgs, relaymodel.Message{Role: "user", Content: content})
	}
	return msgs, nil
}

func anthropicToolResultText(b relaymodel.AnthropicContent) string {
	switch v := b.Content.(type) {
	case string:
		return v
	case []any:
		var out string
		for _, raw := range v {
			if m, ok := raw.(map[string]any); ok {
				if text, ok := m["text"].(string); ok {
					out += text
				}
			}
		}
		return out
	}
	return ""
}
