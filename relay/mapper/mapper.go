package mapper

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/meridianhq/ai-gateway/common/config"
	"github.com/meridianhq/ai-gateway/relay/endpoint"
	relaymodel "github.com/meridianhq/ai-gateway/relay/model"
	"github.com/meridianhq/ai-gateway/relay/modelid"
	"github.com/meridianhq/ai-gateway/relay/provider"
)

// Mapper owns dialect conversion and model selection for one process.
// It is stateless per request and safe for concurrent use; streaming
// conversions get their own StreamMapper instance per stream.
type Mapper struct {
	models *ModelMapper
}

func New(providers map[string]config.ProviderConfig, defaultMapping map[string][]string) *Mapper {
	return &Mapper{models: NewModelMapper(providers, defaultMapping)}
}

// Models exposes the model mapper for callers that only need mapping.
func (m *Mapper) Models() *ModelMapper { return m.models }

// ParseModelId parses a provider-qualified or bare model string the way the
// unified API requires (bare names imply OpenAI).
func (m *Mapper) ParseModelId(name string) (modelid.ModelId, error) {
	return m.parseModel(name, DialectOpenAI)
}

// MappedRequest is the outcome of MapRequest.
type MappedRequest struct {
	Body []byte
	// TargetModel is the concrete model string on the target provider.
	TargetModel string
	Ctx         relaymodel.MapperContext
}

// MapRequest deserializes the inbound body (client dialect), resolves the
// model onto the target provider, and re-serializes the body in the target
// dialect. routerMapping is the per-router model-mapping table, may be nil.
func (m *Mapper) MapRequest(
	body []byte,
	client Dialect,
	target provider.InferenceProvider,
	endpointType endpoint.EndpointType,
	routerMapping map[string][]string,
) (*MappedRequest, *relaymodel.GatewayError) {
	if !endpoint.Supported(target, endpointType) {
		return nil, &relaymodel.GatewayError{
			Kind:    relaymodel.KindInvalidRequest,
			Status:  404,
			Message: fmt.Sprintf("endpoint %s not supported by provider %s", endpointType, target),
		}
	}

	switch endpointType {
	case endpoint.Chat:
		return m.mapChatRequest(body, client, target, routerMapping)
	case endpoint.Embedding, endpoint.Completion:
		return m.mapModelOnlyRequest(body, target, routerMapping)
	default:
		return nil, relaymodel.NewInvalidRequest(fmt.Sprintf("unsupported endpoint type %s", endpointType))
	}
}

func (m *Mapper) mapChatRequest(
	body []byte,
	client Dialect,
	target provider.InferenceProvider,
	routerMapping map[string][]string,
) (*MappedRequest, *relaymodel.GatewayError) {
	targetDialect := DialectFor(target)

	switch client {
	case DialectOpenAI:
		var req relaymodel.ChatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, relaymodel.NewMapperInputError("malformed chat request", err)
		}
		id, err := m.parseModel(req.Model, client)
		if err != nil {
			return nil, relaymodel.NewMapperInputError("invalid model name", err)
		}
		targetModel, err := m.models.MapModel(id, target, routerMapping)
		if err != nil {
			return nil, relaymodel.NewMapperInputError("no valid model mapping", err)
		}

		mctx := relaymodel.MapperContext{IsStream: req.Stream, Model: &id}

		if targetDialect == DialectOpenAI {
			req.Model = targetModel
			out, merr := json.Marshal(&req)
			if merr != nil {
				return nil, relaymodel.NewMapperError("encode chat request", merr)
			}
			return &MappedRequest{Body: out, TargetModel: targetModel, Ctx: mctx}, nil
		}

		converted, cerr := mapChatRequestToAnthropic(&req, targetModel)
		if cerr != nil {
			return nil, relaymodel.NewMapperInputError("convert chat request", cerr)
		}
		out, merr := json.Marshal(converted)
		if merr != nil {
			return nil, relaymodel.NewMapperError("encode anthropic request", merr)
		}
		return &MappedRequest{Body: out, TargetModel: targetModel, Ctx: mctx}, nil

	case DialectAnthropic:
		var req relaymodel.AnthropicRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, relaymodel.NewMapperInputError("malformed messages request", err)
		}
		id, err := m.parseModel(req.Model, client)
		if err != nil {
			return nil, relaymodel.NewMapperInputError("invalid model name", err)
		}
		targetModel, err := m.models.MapModel(id, target, routerMapping)
		if err != nil {
			return nil, relaymodel.NewMapperInputError("no valid model mapping", err)
		}

		mctx := relaymodel.MapperContext{IsStream: req.Stream, Model: &id}

		if targetDialect == DialectAnthropic {
			req.Model = targetModel
			out, merr := json.Marshal(&req)
			if merr != nil {
				return nil, relaymodel.NewMapperError("encode messages request", merr)
			}
			return &MappedRequest{Body: out, TargetModel: targetModel, Ctx: mctx}, nil
		}

		converted, cerr := mapAnthropicRequestToChat(&req, targetModel)
		if cerr != nil {
			return nil, relaymodel.NewMapperInputError("convert messages request", cerr)
		}
		out, merr := json.Marshal(converted)
		if merr != nil {
			return nil, relaymodel.NewMapperError("encode chat request", merr)
		}
		return &MappedRequest{Body: out, TargetModel: targetModel, Ctx: mctx}, nil
	}

	return nil, relaymodel.NewMapperError(fmt.Sprintf("unsupported client dialect %s", client), nil)
}

// mapModelOnlyRequest rewrites only the model field; completions and
// embeddings bodies are otherwise provider-compatible.
func (m *Mapper) mapModelOnlyRequest(
	body []byte,
	target provider.InferenceProvider,
	routerMapping map[string][]string,
) (*MappedRequest, *relaymodel.GatewayError) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, relaymodel.NewMapperInputError("malformed request body", err)
	}
	var modelName string
	if err := json.Unmarshal(raw["model"], &modelName); err != nil {
		return nil, relaymodel.NewMapperInputError("missing model field", err)
	}
	id, err := m.parseModel(modelName, DialectOpenAI)
	if err != nil {
		return nil, relaymodel.NewMapperInputError("invalid model name", err)
	}
	targetModel, err := m.models.MapModel(id, target, routerMapping)
	if err != nil {
		return nil, relaymodel.NewMapperInputError("no valid model mapping", err)
	}
	encoded, merr := json.Marshal(targetModel)
	if merr != nil {
		return nil, relaymodel.NewMapperError("encode model name", merr)
	}
	raw["model"] = encoded
	out, merr := json.Marshal(raw)
	if merr != nil {
		return nil, relaymodel.NewMapperError("encode request body", merr)
	}
	return &MappedRequest{
		Body:        out,
		TargetModel: targetModel,
		Ctx:         relaymodel.MapperContext{Model: &id},
	}, nil
}

// parseModel accepts both provider-qualified ids ("openai/gpt-4o") and bare
// names; bare names default to the provider implied by the client dialect.
func (m *Mapper) parseModel(name string, client Dialect) (modelid.ModelId, error) {
	if name == "" {
		return modelid.ModelId{}, errors.New("missing model field")
	}
	if strings.Contains(name, "/") {
		// Provider-qualified: an unknown prefix is an error, not a name.
		return modelid.Parse(name)
	}
	fallback := provider.OpenAI
	if client == DialectAnthropic {
		fallback = provider.Anthropic
	}
	return modelid.ParseName(fallback, name)
}
