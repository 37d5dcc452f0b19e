package providers

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/omnillm/internal/chunk"
	"github.com/Davincible/omnillm/internal/pipeline"
	"github.com/Davincible/omnillm/internal/tools"
)

const anthropicTextStream = `event: message_start
data: {"type":"message_start","message":{"model":"claude-sonnet-4","usage":{"input_tokens":10,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" there"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":4}}

event: message_stop
data: {"type":"message_stop"}

`

func TestAnthropicDecodeStreamText(t *testing.T) {
	p := NewAnthropic(testLogger())
	got := collect(t, func(emit pipeline.EmitFunc) error {
		return p.DecodeStream(strings.NewReader(anthropicTextStream), emit)
	})

	assert.Equal(t, []chunk.Kind{
		chunk.KindResponseCreated,
		chunk.KindTextStart,
		chunk.KindTextDelta,
		chunk.KindTextDelta,
		chunk.KindTextComplete,
		chunk.KindResponseComplete,
	}, kinds(got))

	assert.Equal(t, "Hello", got[2].Delta)
	assert.Equal(t, " there", got[3].Delta)

	last := got[len(got)-1]
	assert.Equal(t, "claude-sonnet-4", last.Model)
	assert.Equal(t, chunk.Usage{InputTokens: 10, OutputTokens: 4, TotalTokens: 14}, *last.Usage)
}

const anthropicToolStream = `event: message_start
data: {"type":"message_start","message":{"model":"claude-sonnet-4","usage":{"input_tokens":20,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"Oslo\"}"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":12}}

event: message_stop
data: {"type":"message_stop"}

`

func TestAnthropicDecodeStreamToolUse(t *testing.T) {
	p := NewAnthropic(testLogger())
	got := collect(t, func(emit pipeline.EmitFunc) error {
		return p.DecodeStream(strings.NewReader(anthropicToolStream), emit)
	})

	assert.Equal(t, []chunk.Kind{
		chunk.KindResponseCreated,
		chunk.KindToolCallPending,
		chunk.KindToolCallInProgress,
		chunk.KindToolCallInProgress,
		chunk.KindToolCallComplete,
		chunk.KindResponseComplete,
	}, kinds(got))

	complete := got[4].ToolCall
	require.NotNil(t, complete)
	assert.Equal(t, "toolu_1", complete.ID)
	assert.Equal(t, "get_weather", complete.Name)
	assert.Equal(t, `{"city":"Oslo"}`, complete.Arguments)
}

func TestAnthropicDecodeStreamThinking(t *testing.T) {
	stream := `event: message_start
data: {"type":"message_start","message":{"model":"claude-sonnet-4","usage":{"input_tokens":5,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"hmm"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: message_stop
data: {"type":"message_stop"}

`
	p := NewAnthropic(testLogger())
	got := collect(t, func(emit pipeline.EmitFunc) error {
		return p.DecodeStream(strings.NewReader(stream), emit)
	})

	assert.Equal(t, []chunk.Kind{
		chunk.KindResponseCreated,
		chunk.KindReasoningStart,
		chunk.KindReasoningDelta,
		chunk.KindReasoningComplete,
		chunk.KindResponseComplete,
	}, kinds(got))
	assert.Equal(t, "hmm", got[2].Delta)
}

func TestAnthropicDecodeStreamError(t *testing.T) {
	stream := `event: error
data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}

`
	p := NewAnthropic(testLogger())
	err := p.DecodeStream(strings.NewReader(stream), func(chunk.Chunk) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Overloaded")
}

func TestAnthropicBuildRequest(t *testing.T) {
	params := &pipeline.Params{
		Model:    "claude-sonnet-4",
		System:   "be brief",
		Messages: []pipeline.Message{pipeline.TextMessage("user", "hello")},
		Stream:   true,
		APIKey:   "sk-ant",
		ToolMode: pipeline.ToolModeNative,
		Tools: []tools.Descriptor{{
			Name:       "get_weather",
			Parameters: tools.Schema{Type: "object"},
		}},
	}

	req, err := NewAnthropic(testLogger()).BuildRequest(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, "https://api.anthropic.com/v1/messages", req.URL.String())
	assert.Equal(t, "sk-ant", req.Header.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, req.Header.Get("anthropic-version"))

	var payload anthropicRequest
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &payload))

	assert.Equal(t, "be brief", payload.System)
	assert.Equal(t, anthropicDefaultMaxTokens, payload.MaxTokens)
	require.Len(t, payload.Tools, 1)
	assert.Equal(t, "get_weather", payload.Tools[0].Name)
}

func TestAnthropicBuildRequestToolResultAsUserTurn(t *testing.T) {
	params := &pipeline.Params{
		Model: "claude-sonnet-4",
		Messages: []pipeline.Message{
			{Role: "tool", Blocks: []pipeline.ContentBlock{{
				Type: "tool_result", ToolID: "toolu_1", ToolOutput: "rainy", IsError: false,
			}}},
		},
	}

	req, err := NewAnthropic(testLogger()).BuildRequest(context.Background(), params)
	require.NoError(t, err)

	var payload anthropicRequest
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &payload))

	require.Len(t, payload.Messages, 1)
	assert.Equal(t, "user", payload.Messages[0].Role)
	require.Len(t, payload.Messages[0].Content, 1)
	assert.Equal(t, "tool_result", payload.Messages[0].Content[0].Type)
	assert.Equal(t, "toolu_1", payload.Messages[0].Content[0].ToolUseID)
}

func TestAnthropicBuildRequestWebSearch(t *testing.T) {
	params := &pipeline.Params{
		Model:     "claude-sonnet-4",
		Messages:  []pipeline.Message{pipeline.TextMessage("user", "latest Go release?")},
		WebSearch: true,
	}

	req, err := NewAnthropic(testLogger()).BuildRequest(context.Background(), params)
	require.NoError(t, err)

	var payload anthropicRequest
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &payload))

	require.Len(t, payload.Tools, 1)
	assert.Equal(t, "web_search", payload.Tools[0].Name)
	assert.Equal(t, "web_search_20250305", payload.Tools[0].Type)
}

func TestAnthropicDecodeResponse(t *testing.T) {
	body := `{
		"model": "claude-sonnet-4",
		"content": [
			{"type": "text", "text": "Hello!"},
			{"type": "tool_use", "id": "toolu_2", "name": "ping", "input": {"host": "a"}}
		],
		"usage": {"input_tokens": 8, "output_tokens": 6}
	}`

	p := NewAnthropic(testLogger())
	got := collect(t, func(emit pipeline.EmitFunc) error {
		return p.DecodeResponse([]byte(body), emit)
	})

	assert.Equal(t, []chunk.Kind{
		chunk.KindResponseCreated,
		chunk.KindTextStart,
		chunk.KindTextDelta,
		chunk.KindTextComplete,
		chunk.KindToolCallPending,
		chunk.KindToolCallComplete,
		chunk.KindResponseComplete,
	}, kinds(got))

	assert.Equal(t, map[string]any{"host": "a"}, got[5].ToolCall.Args)
	assert.Equal(t, chunk.Usage{InputTokens: 8, OutputTokens: 6, TotalTokens: 14}, *got[6].Usage)
}
