package mapper

import (
	"encoding/json"

	"github.com/Laisky/errors/v2"

	"github.com/meridianhq/ai-gateway/common/helper"
	relaymodel "github.com/meridianhq/ai-gateway/relay/model"
)

// StreamFrame is one outbound SSE event. Event is empty in the OpenAI
// dialect (bare data lines); the Anthropic dialect names every event.
type StreamFrame struct {
	Event string
	Data  []byte
}

// StreamMapper converts SSE chunks event-by-event without buffering the
// stream. One instance serves exactly one stream: the conversion is
// stateful (ids and block indexes carry across events).
type StreamMapper struct {
	upstream Dialect
	client   Dialect

	// carried forward from the first anthropic message_start into every
	// synthesized OpenAI chunk
	id      string
	model   string
	created int64

	roleSent  bool
	toolIndex int
	// blockTool maps an anthropic content-block index to its OpenAI
	// tool-call index.
	blockTool map[int]int

	// openai -> anthropic synthesis state
	started     bool
	blockOpen   bool
	blockIsTool bool
	outIndex    int
}

func NewStreamMapper(upstream, client Dialect) *StreamMapper {
	return &StreamMapper{
		upstream:  upstream,
		client:    client,
		blockTool: make(map[int]int),
	}
}

// MapChunk converts one upstream SSE data payload into zero or more client
// frames. The [DONE] sentinel never reaches this method; the SSE adapter
// consumes it.
func (s *StreamMapper) MapChunk(data []byte) ([]StreamFrame, error) {
	if s.upstream == s.client {
		if s.client == DialectAnthropic {
			// Restore the event name the SSE adapter stripped; Anthropic
			// consumers key on it.
			var probe struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &probe); err == nil && probe.Type != "" {
				return []StreamFrame{{Event: probe.Type, Data: data}}, nil
			}
		}
		return []StreamFrame{{Data: data}}, nil
	}
	switch {
	case s.upstream == DialectAnthropic && s.client == DialectOpenAI:
		return s.anthropicChunkToChat(data)
	case s.upstream == DialectOpenAI && s.client == DialectAnthropic:
		return s.chatChunkToAnthropic(data)
	}
	return nil, errors.Errorf("unsupported stream dialect pair %s -> %s", s.upstream, s.client)
}

func (s *StreamMapper) anthropicChunkToChat(data []byte) ([]StreamFrame, error) {
	var event relaymodel.AnthropicStreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, errors.Wrap(err, "decode anthropic stream event")
	}

	switch event.Type {
	case "message_start":
		if event.Message == nil {
			return nil, errors.New("message_start without message")
		}
		s.id = event.Message.Id
		s.model = event.Message.Model
		s.created = helper.GetTimestamp()
		s.roleSent = true
		role := "assistant"
		return s.chatFrame(relaymodel.ChatStreamChoice{
			Index: 0,
			Delta: relaymodel.Message{Role: role, Content: ""},
		}, nil)

	case "content_block_start":
		if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
			idx := s.toolIndex
			s.toolIndex++
			s.blockTool[event.Index] = idx
			return s.chatFrame(relaymodel.ChatStreamChoice{
				Index: 0,
				Delta: relaymodel.Message{ToolCalls: []relaymodel.Tool{{
					Id:    event.ContentBlock.Id,
					Type:  "function",
					Index: &idx,
					Function: relaymodel.Function{
						Name:      event.ContentBlock.Name,
						Arguments: "",
					},
				}}},
			}, nil)
		}
		return nil, nil

	case "content_block_delta":
		if event.Delta == nil {
			return nil, nil
		}
		switch event.Delta.Type {
		case "text_delta":
			return s.chatFrame(relaymodel.ChatStreamChoice{
				Index: 0,
				Delta: relaymodel.Message{Content: event.Delta.Text},
			}, nil)
		case "thinking_delta":
			return s.chatFrame(relaymodel.ChatStreamChoice{
				Index: 0,
				Delta: relaymodel.Message{ReasoningContent: event.Delta.Thinking},
			}, nil)
		case "input_json_delta":
			idx, ok := s.blockTool[event.Index]
			if !ok {
				return nil, nil
			}
			return s.chatFrame(relaymodel.ChatStreamChoice{
				Index: 0,
				Delta: relaymodel.Message{ToolCalls: []relaymodel.Tool{{
					Index:    &idx,
					Function: relaymodel.Function{Arguments: event.Delta.PartialJson},
				}}},
			}, nil)
		}
		return nil, nil

	case "message_delta":
		if event.Delta == nil || event.Delta.StopReason == "" {
			return nil, nil
		}
		finish := finishReasonFromStop(event.Delta.StopReason)
		var usage *relaymodel.Usage
		if event.Usage != nil {
			usage = &relaymodel.Usage{
				PromptTokens:     event.Usage.InputTokens,
				CompletionTokens: event.Usage.OutputTokens,
				TotalTokens:      event.Usage.InputTokens + event.Usage.OutputTokens,
			}
		}
		return s.chatFrame(relaymodel.ChatStreamChoice{
			Index:        0,
			Delta:        relaymodel.Message{},
			FinishReason: &finish,
		}, usage)

	case "message_stop", "ping", "content_block_stop":
		return nil, nil

	case "error":
		msg := "upstream stream error"
		if event.Error != nil {
			msg = event.Error.Message
		}
		return nil, errors.New(msg)
	}

	// Unknown event types are dropped rather than forwarded verbatim.
	return nil, nil
}

func (s *StreamMapper) chatFrame(choice relaymodel.ChatStreamChoice, usage *relaymodel.Usage) ([]StreamFrame, error) {
	chunk := relaymodel.ChatStreamResponse{
		Id:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []relaymodel.ChatStreamChoice{choice},
		Usage:   usage,
	}
	b, err := json.Marshal(&chunk)
	if err != nil {
		return nil, errors.Wrap(err, "encode chat stream chunk")
	}
	return []StreamFrame{{Data: b}}, nil
}

// chatChunkToAnthropic synthesizes Anthropic message events from OpenAI
// chunks for anthropic-style clients with an OpenAI-dialect upstream.
func (s *StreamMapper) chatChunkToAnthropic(data []byte) ([]StreamFrame, error) {
	var chunk relaymodel.ChatStreamResponse
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, errors.Wrap(err, "decode chat stream chunk")
	}

	var frames []StreamFrame

	if !s.started {
		s.started = true
		s.id = chunk.Id
		s.model = chunk.Model
		start := relaymodel.AnthropicStreamEvent{
			Type: "message_start",
			Message: &relaymodel.AnthropicResponse{
				Id:    chunk.Id,
				Type:  "message",
				Role:  "assistant",
				Model: chunk.Model,
			},
		}
		frame, err := anthropicFrame(start)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}

	if len(chunk.Choices) == 0 {
		return frames, nil
	}
	choice := chunk.Choices[0]

	if text, ok := choice.Delta.Content.(string); ok && text != "" {
		more, err := s.anthropicTextDelta(text)
		if err != nil {
			return nil, err
		}
		frames = append(frames, more...)
	}

	for _, call := range choice.Delta.ToolCalls {
		more, err := s.anthropicToolDelta(call)
		if err != nil {
			return nil, err
		}
		frames = append(frames, more...)
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		more, err := s.anthropicFinish(*choice.FinishReason, chunk.Usage)
		if err != nil {
			return nil, err
		}
		frames = append(frames, more...)
	}

	return frames, nil
}

func (s *StreamMapper) anthropicTextDelta(text string) ([]StreamFrame, error) {
	var frames []StreamFrame
	if !s.blockOpen || s.blockIsTool {
		more, err := s.closeBlock()
		if err != nil {
			return nil, err
		}
		frames = append(frames, more...)
		frame, err := anthropicFrame(relaymodel.AnthropicStreamEvent{
			Type:         "content_block_start",
			Index:        s.outIndex,
			ContentBlock: &relaymodel.AnthropicContent{Type: "text"},
		})
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
		s.blockOpen, s.blockIsTool = true, false
	}
	frame, err := anthropicFrame(relaymodel.AnthropicStreamEvent{
		Type:  "content_block_delta",
		Index: s.outIndex,
		Delta: &relaymodel.AnthropicStreamDelta{Type: "text_delta", Text: text},
	})
	if err != nil {
		return nil, err
	}
	return append(frames, frame), nil
}

func (s *StreamMapper) anthropicToolDelta(call relaymodel.Tool) ([]StreamFrame, error) {
	var frames []StreamFrame
	if call.Function.Name != "" {
		// A named call opens a fresh tool_use block.
		more, err := s.closeBlock()
		if err != nil {
			return nil, err
		}
		frames = append(frames, more...)
		frame, err := anthropicFrame(relaymodel.AnthropicStreamEvent{
			Type:  "content_block_start",
			Index: s.outIndex,
			ContentBlock: &relaymodel.AnthropicContent{
				Type: "tool_use",
				Id:   call.Id,
				Name: call.Function.Name,
			},
		})
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
		s.blockOpen, s.blockIsTool = true, true
	}
	if args, ok := call.Function.Arguments.(string); ok && args != "" {
		frame, err := anthropicFrame(relaymodel.AnthropicStreamEvent{
			Type:  "content_block_delta",
			Index: s.outIndex,
			Delta: &relaymodel.AnthropicStreamDelta{Type: "input_json_delta", PartialJson: args},
		})
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func (s *StreamMapper) closeBlock() ([]StreamFrame, error) {
	if !s.blockOpen {
		return nil, nil
	}
	frame, err := anthropicFrame(relaymodel.AnthropicStreamEvent{
		Type:  "content_block_stop",
		Index: s.outIndex,
	})
	if err != nil {
		return nil, err
	}
	s.blockOpen = false
	s.outIndex++
	return []StreamFrame{frame}, nil
}

func (s *StreamMapper) anthropicFinish(finishReason string, usage *relaymodel.Usage) ([]StreamFrame, error) {
	frames, err := s.closeBlock()
	if err != nil {
		return nil, err
	}
	delta := relaymodel.AnthropicStreamEvent{
		Type:  "message_delta",
		Delta: &relaymodel.AnthropicStreamDelta{StopReason: stopReasonFromFinish(finishReason)},
	}
	if usage != nil {
		delta.Usage = &relaymodel.AnthropicUsage{
			InputTokens:  usage.PromptTokens,
			OutputTokens: usage.CompletionTokens,
		}
	}
	frame, err := anthropicFrame(delta)
	if err != nil {
		return nil, err
	}
	frames = append(frames, frame)

	stop, err := anthropicFrame(relaymodel.AnthropicStreamEvent{Type: "message_stop"})
	if err != nil {
		return nil, err
	}
	return append(frames, stop), nil
}

func anthropicFrame(event relaymodel.AnthropicStreamEvent) (StreamFrame, error) {
	b, err := json.Marshal(&event)
	if err != nil {
		return StreamFrame{}, errors.Wrapf(err, "encode %s event", event.Type)
	}
	return StreamFrame{Event: event.Type, Data: b}, nil
}

// ForwardsDone reports whether the client should receive the upstream
// [DONE] sentinel. Only identity OpenAI streams forward it, matching the
// upstream byte-for-byte.
func (s *StreamMapper) ForwardsDone() bool {
	return s.upstream == DialectOpenAI && s.client == DialectOpenAI
}
