package mapper

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridianhq/ai-gateway/common/config"
	"github.com/meridianhq/ai-gateway/relay/endpoint"
	relaymodel "github.com/meridianhq/ai-gateway/relay/model"
	"github.com/meridianhq/ai-gateway/relay/modelid"
	"github.com/meridianhq/ai-gateway/relay/provider"
)

func testMapper() *Mapper {
	return New(map[string]config.ProviderConfig{
		"openai": {
			BaseURL: "https://api.openai.com",
			Models:  []string{"gpt-4o", "gpt-4o-mini"},
		},
		"anthropic": {
			BaseURL: "https://api.anthropic.com",
			Models:  []string{"claude-3-5-haiku", "claude-sonnet-4"},
		},
	}, map[string][]string{
		"gpt-4o-mini": {"anthropic/claude-3-5-haiku"},
	})
}

func TestMapModelOrder(t *testing.T) {
	m := testMapper().Models()

	// (i) exact match on the target's own set
	id, err := modelid.Parse("openai/gpt-4o")
	require.NoError(t, err)
	mapped, err := m.MapModel(id, provider.OpenAI, nil)
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", mapped)

	// (ii) router mapping wins over (iii) default mapping
	id, err = modelid.Parse("openai/gpt-4o-mini")
	require.NoError(t, err)
	mapped, err = m.MapModel(id, provider.Anthropic, map[string][]string{
		"gpt-4o-mini": {"anthropic/claude-sonnet-4"},
	})
	require.NoError(t, err)
	require.Equal(t, "claude-sonnet-4", mapped)

	// (iii) default mapping
	mapped, err = m.MapModel(id, provider.Anthropic, nil)
	require.NoError(t, err)
	require.Equal(t, "claude-3-5-haiku", mapped)

	// no mapping at all
	id, err = modelid.Parse("openai/gpt-4o")
	require.NoError(t, err)
	_, err = m.MapModel(id, provider.Anthropic, nil)
	require.ErrorIs(t, err, ErrNoValidMapping)
}

func TestMapModelAnthropicAliasQuirk(t *testing.T) {
	m := testMapper().Models()

	// claude-3-* aliases are explicit
	id, err := modelid.Parse("anthropic/claude-3-5-haiku")
	require.NoError(t, err)
	mapped, err := m.MapModel(id, provider.Anthropic, nil)
	require.NoError(t, err)
	require.Equal(t, "claude-3-5-haiku-latest", mapped)

	// claude-4 family aliases stay implicit
	id, err = modelid.Parse("anthropic/claude-sonnet-4")
	require.NoError(t, err)
	mapped, err = m.MapModel(id, provider.Anthropic, nil)
	require.NoError(t, err)
	require.Equal(t, "claude-sonnet-4", mapped)
}

func TestMapChatRequestToAnthropic(t *testing.T) {
	body := []byte(`{
		"model": "openai/gpt-4o-mini",
		"max_tokens": 512,
		"stream": true,
		"user": "user-77",
		"stop": ["END"],
		"messages": [
			{"role": "system", "content": "be terse"},
			{"role": "developer", "content": "prefer bullet lists"},
			{"role": "user", "content": [
				{"type": "text", "text": "what is this?"},
				{"type": "image_url", "image_url": {"url": "https://example.com/cat.png"}},
				{"type": "input_audio", "input_audio": {"data": "...", "format": "wav"}}
			]}
		],
		"tools": [{"type": "function", "function": {"name": "lookup", "parameters": {"type": "object"}}}],
		"tool_choice": "required"
	}`)

	mapped, gerr := testMapper().MapRequest(body, DialectOpenAI, provider.Anthropic, endpoint.Chat, nil)
	require.Nil(t, gerr)
	require.Equal(t, "claude-3-5-haiku", mapped.TargetModel)
	require.True(t, mapped.Ctx.IsStream)
	require.NotNil(t, mapped.Ctx.Model)

	var out relaymodel.AnthropicRequest
	require.NoError(t, json.Unmarshal(mapped.Body, &out))
	require.Equal(t, "claude-3-5-haiku", out.Model)
	require.Equal(t, 512, out.MaxTokens)
	require.True(t, out.Stream)
	require.Equal(t, "be terse\nprefer bullet lists", out.System)
	require.Equal(t, []string{"END"}, out.StopSequences)
	require.Equal(t, "user-77", out.Metadata.UserId)
	require.Equal(t, "any", out.ToolChoice.Type)
	require.Len(t, out.Tools, 1)
	require.Equal(t, "lookup", out.Tools[0].Name)

	require.Len(t, out.Messages, 1)
	blocks := out.Messages[0].ParseContent()
	// audio part is dropped, text and image survive
	require.Len(t, blocks, 2)
	require.Equal(t, "text", blocks[0].Type)
	require.Equal(t, "image", blocks[1].Type)
	require.Equal(t, "url", blocks[1].Source.Type)
}

func TestMapChatRequestMaxTokensFallback(t *testing.T) {
	mk := func(body string) *relaymodel.AnthropicRequest {
		mapped, gerr := testMapper().MapRequest([]byte(body), DialectOpenAI, provider.Anthropic, endpoint.Chat, nil)
		require.Nil(t, gerr)
		var out relaymodel.AnthropicRequest
		require.NoError(t, json.Unmarshal(mapped.Body, &out))
		return &out
	}

	out := mk(`{"model":"openai/gpt-4o-mini","max_completion_tokens":100,"max_tokens":200,"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, 100, out.MaxTokens)

	out = mk(`{"model":"openai/gpt-4o-mini","max_tokens":200,"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, 200, out.MaxTokens)

	out = mk(`{"model":"openai/gpt-4o-mini","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, defaultMaxTokens, out.MaxTokens)
}

func TestMapToolCallsRoundTrip(t *testing.T) {
	body := []byte(`{
		"model": "openai/gpt-4o-mini",
		"messages": [
			{"role": "assistant", "tool_calls": [
				{"id": "call_1", "type": "function",
				 "function": {"name": "lookup", "arguments": "{\"q\":\"cats\"}"}}
			]},
			{"role": "tool", "tool_call_id": "call_1", "content": "found 3"}
		]
	}`)
	mapped, gerr := testMapper().MapRequest(body, DialectOpenAI, provider.Anthropic, endpoint.Chat, nil)
	require.Nil(t, gerr)

	var out relaymodel.AnthropicRequest
	require.NoError(t, json.Unmarshal(mapped.Body, &out))
	require.Len(t, out.Messages, 2)

	use := out.Messages[0].ParseContent()
	require.Equal(t, "tool_use", use[0].Type)
	require.Equal(t, "call_1", use[0].Id)
	require.JSONEq(t, `{"q":"cats"}`, string(use[0].Input))

	result := out.Messages[1].ParseContent()
	require.Equal(t, "user", out.Messages[1].Role)
	require.Equal(t, "tool_result", result[0].Type)
	require.Equal(t, "call_1", result[0].ToolUseId)
}

func TestMapAnthropicResponseToChat(t *testing.T) {
	body := []byte(`{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-3-5-haiku",
		"content": [
			{"type": "text", "text": "hello"},
			{"type": "tool_use", "id": "toolu_9", "name": "lookup", "input": {"q": "cats"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 10, "output_tokens": 20}
	}`)

	out, gerr := testMapper().MapResponse(body, DialectAnthropic, DialectOpenAI)
	require.Nil(t, gerr)

	var resp relaymodel.ChatResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Equal(t, "msg_01", resp.Id)
	require.Equal(t, "chat.completion", resp.Object)
	require.Len(t, resp.Choices, 1)
	require.Equal(t, relaymodel.FinishReasonToolCalls, resp.Choices[0].FinishReason)
	require.Equal(t, "hello", resp.Choices[0].Message.StringContent())
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	require.JSONEq(t, `{"q":"cats"}`, resp.Choices[0].Message.ToolCalls[0].Function.Arguments.(string))
	require.Equal(t, 30, resp.Usage.TotalTokens)

	// Identity pairs pass through untouched.
	same, gerr := testMapper().MapResponse(body, DialectAnthropic, DialectAnthropic)
	require.Nil(t, gerr)
	require.Equal(t, body, same)
}

func TestStreamAnthropicToChat(t *testing.T) {
	sm := NewStreamMapper(DialectAnthropic, DialectOpenAI)

	frames, err := sm.MapChunk([]byte(`{"type":"message_start","message":{"id":"msg_7","type":"message","role":"assistant","model":"claude-3-5-haiku","content":[],"usage":{"input_tokens":3,"output_tokens":0}}}`))
	require.NoError(t, err)
	require.Len(t, frames, 1)

	var first relaymodel.ChatStreamResponse
	require.NoError(t, json.Unmarshal(frames[0].Data, &first))
	require.Equal(t, "msg_7", first.Id)
	require.Equal(t, "claude-3-5-haiku", first.Model)
	require.Equal(t, "assistant", first.Choices[0].Delta.Role)

	// id/model are carried into every later chunk
	frames, err = sm.MapChunk([]byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	var delta relaymodel.ChatStreamResponse
	require.NoError(t, json.Unmarshal(frames[0].Data, &delta))
	require.Equal(t, "msg_7", delta.Id)
	require.Equal(t, "Hi", delta.Choices[0].Delta.Content)

	// ping produces nothing
	frames, err = sm.MapChunk([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	require.Empty(t, frames)

	frames, err = sm.MapChunk([]byte(`{"type":"message_delta","delta":{"type":"message_delta","stop_reason":"end_turn"},"usage":{"input_tokens":3,"output_tokens":5}}`))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	var fin relaymodel.ChatStreamResponse
	require.NoError(t, json.Unmarshal(frames[0].Data, &fin))
	require.NotNil(t, fin.Choices[0].FinishReason)
	require.Equal(t, relaymodel.FinishReasonStop, *fin.Choices[0].FinishReason)
	require.Equal(t, 8, fin.Usage.TotalTokens)

	require.False(t, sm.ForwardsDone())
	require.True(t, NewStreamMapper(DialectOpenAI, DialectOpenAI).ForwardsDone())
}

func TestStreamChatToAnthropic(t *testing.T) {
	sm := NewStreamMapper(DialectOpenAI, DialectAnthropic)

	frames, err := sm.MapChunk([]byte(`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"He"},"finish_reason":null}]}`))
	require.NoError(t, err)
	// message_start + content_block_start + first text delta
	require.Len(t, frames, 3)
	require.Equal(t, "message_start", frames[0].Event)
	require.Equal(t, "content_block_start", frames[1].Event)
	require.Equal(t, "content_block_delta", frames[2].Event)

	frames, err = sm.MapChunk([]byte(`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`))
	require.NoError(t, err)
	// content_block_stop + message_delta + message_stop
	require.Len(t, frames, 3)
	require.Equal(t, "content_block_stop", frames[0].Event)
	require.Equal(t, "message_delta", frames[1].Event)
	require.Equal(t, "message_stop", frames[2].Event)
}

func TestMapRequestErrors(t *testing.T) {
	m := testMapper()

	_, gerr := m.MapRequest([]byte(`{"model":"random/unknown-1.0","messages":[]}`), DialectOpenAI, provider.OpenAI, endpoint.Chat, nil)
	require.NotNil(t, gerr)
	require.Equal(t, relaymodel.KindMapper, gerr.Kind)
	require.Equal(t, 400, gerr.HTTPStatus())

	_, gerr = m.MapRequest([]byte(`not json`), DialectOpenAI, provider.OpenAI, endpoint.Chat, nil)
	require.NotNil(t, gerr)
	require.Equal(t, 400, gerr.HTTPStatus())

	// Anthropic serves no embeddings endpoint.
	_, gerr = m.MapRequest([]byte(`{"model":"openai/gpt-4o","input":"x"}`), DialectOpenAI, provider.Anthropic, endpoint.Embedding, nil)
	require.NotNil(t, gerr)
	require.Equal(t, 404, gerr.HTTPStatus())
}
