package mapper

import (
	"encoding/json"
	"fmt"

	"github.com/Laisky/errors/v2"

	"github.com/meridianhq/ai-gateway/common/helper"
	relaymodel "github.com/meridianhq/ai-gateway/relay/model"
)

// mapAnthropicResponseToChat converts a non-streaming Anthropic response
// into the OpenAI chat-completion shape.
func mapAnthropicResponseToChat(resp *relaymodel.AnthropicResponse) (*relaymodel.ChatResponse, error) {
	msg := relaymodel.Message{Role: "assistant"}
	var text string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "thinking":
			msg.ReasoningContent += block.Thinking
		case "tool_use":
			args := "{}"
			if len(block.Input) > 0 {
				args = string(block.Input)
			}
			msg.ToolCalls = append(msg.ToolCalls, relaymodel.Tool{
				Id:   block.Id,
				Type: "function",
				Function: relaymodel.Function{
					Name:      block.Name,
					Arguments: args,
				},
			})
		}
	}
	msg.Content = text

	return &relaymodel.ChatResponse{
		Id:      resp.Id,
		Object:  "chat.completion",
		Created: helper.GetTimestamp(),
		Model:   resp.Model,
		Choices: []relaymodel.ChatChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: finishReasonFromStop(resp.StopReason),
		}},
		Usage: &relaymodel.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func finishReasonFromStop(stopReason string) string {
	switch stopReason {
	case relaymodel.StopReasonMaxTokens:
		return relaymodel.FinishReasonLength
	case relaymodel.StopReasonToolUse:
		return relaymodel.FinishReasonToolCalls
	default:
		return relaymodel.FinishReasonStop
	}
}

func stopReasonFromFinish(finishReason string) string {
	switch finishReason {
	case relaymodel.FinishReasonLength:
		return relaymodel.StopReasonMaxTokens
	case relaymodel.FinishReasonToolCalls:
		return relaymodel.StopReasonToolUse
	default:
		return relaymodel.StopReasonEndTurn
	}
}

// mapChatResponseToAnthropic converts an OpenAI chat-completion response to
// the Anthropic messages shape for anthropic-style clients.
func mapChatResponseToAnthropic(resp *relaymodel.ChatResponse) (*relaymodel.AnthropicResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat response has no choices")
	}
	choice := resp.Choices[0]

	out := &relaymodel.AnthropicResponse{
		Id:         resp.Id,
		Type:       "message",
		Role:       "assistant",
		Model:      resp.Model,
		StopReason: stopReasonFromFinish(choice.FinishReason),
	}
	if text := choice.Message.StringContent(); text != "" {
		out.Content = append(out.Content, relaymodel.AnthropicContent{Type: "text", Text: text})
	}
	for i, call := range choice.Message.ToolCalls {
		input, err := toolArgumentsToJSON(call.Function.Arguments)
		if err != nil {
			return nil, err
		}
		id := call.Id
		if id == "" {
			id = fmt.Sprintf("toolu_%s_%d", resp.Id, i)
		}
		out.Content = append(out.Content, relaymodel.AnthropicContent{
			Type:  "tool_use",
			Id:    id,
			Name:  call.Function.Name,
			Input: input,
		})
	}
	if resp.Usage != nil {
		out.Usage = relaymodel.AnthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out, nil
}

// MapResponse converts a buffered upstream response body from the upstream
// dialect to the client dialect. Identity pairs pass through untouched.
func (m *Mapper) MapResponse(body []byte, upstream, client Dialect) ([]byte, *relaymodel.GatewayError) {
	if upstream == client {
		return body, nil
	}

	switch {
	case upstream == DialectAnthropic && client == DialectOpenAI:
		var resp relaymodel.AnthropicResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, relaymodel.NewMapperError("decode anthropic response", err)
		}
		converted, err := mapAnthropicResponseToChat(&resp)
		if err != nil {
			return nil, relaymodel.NewMapperError("convert anthropic response", err)
		}
		out, err := json.Marshal(converted)
		if err != nil {
			return nil, relaymodel.NewMapperError("encode chat response", err)
		}
		return out, nil

	case upstream == DialectOpenAI && client == DialectAnthropic:
		var resp relaymodel.ChatResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, relaymodel.NewMapperError("decode chat response", err)
		}
		converted, err := mapChatResponseToAnthropic(&resp)
		if err != nil {
			return nil, relaymodel.NewMapperError("convert chat response", err)
		}
		out, err := json.Marshal(converted)
		if err != nil {
			return nil, relaymodel.NewMapperError("encode anthropic response", err)
		}
		return out, nil
	}

	return nil, relaymodel.NewMapperError(
		fmt.Sprintf("unsupported dialect pair %s -> %s", upstream, client), nil)
}
