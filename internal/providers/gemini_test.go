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
)

const geminiTextStream = `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"}]}}],"modelVersion":"gemini-2.0-flash"}

data: {"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":2,"totalTokenCount":6}}

`

func TestGeminiDecodeStreamCumulative(t *testing.T) {
	p := NewGemini(testLogger())
	got := collect(t, func(emit pipeline.EmitFunc) error {
		return p.DecodeStream(strings.NewReader(geminiTextStream), emit)
	})

	assert.Equal(t, []chunk.Kind{
		chunk.KindResponseCreated,
		chunk.KindTextStart,
		chunk.KindTextDelta,
		chunk.KindTextDelta,
		chunk.KindTextComplete,
		chunk.KindResponseComplete,
	}, kinds(got))

	// Each delta carries the full accumulated string, not the fragment.
	assert.Equal(t, "Hel", got[2].Delta)
	assert.True(t, got[2].Cumulative)
	assert.Equal(t, "Hello", got[3].Delta)
	assert.True(t, got[3].Cumulative)

	last := got[len(got)-1]
	assert.Equal(t, "gemini-2.0-flash", last.Model)
	assert.Equal(t, chunk.Usage{InputTokens: 4, OutputTokens: 2, TotalTokens: 6}, *last.Usage)
}

func TestGeminiDecodeStreamUsageLastWins(t *testing.T) {
	stream := `data: {"candidates":[{"content":{"parts":[{"text":"a"}]}}],"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":1,"totalTokenCount":5},"modelVersion":"gemini-2.0-flash"}

data: {"candidates":[{"content":{"parts":[{"text":"b"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":2,"totalTokenCount":6}}

`
	p := NewGemini(testLogger())
	got := collect(t, func(emit pipeline.EmitFunc) error {
		return p.DecodeStream(strings.NewReader(stream), emit)
	})

	last := got[len(got)-1]
	require.Equal(t, chunk.KindResponseComplete, last.Kind)
	assert.Equal(t, chunk.Usage{InputTokens: 4, OutputTokens: 2, TotalTokens: 6}, *last.Usage)
}

func TestGeminiDecodeStreamFunctionCall(t *testing.T) {
	stream := `data: {"candidates":[{"content":{"parts":[{"functionCall":{"name":"get_weather","args":{"city":"Oslo"}}}]},"finishReason":"STOP"}],"modelVersion":"gemini-2.0-flash"}

`
	p := NewGemini(testLogger())
	got := collect(t, func(emit pipeline.EmitFunc) error {
		return p.DecodeStream(strings.NewReader(stream), emit)
	})

	assert.Equal(t, []chunk.Kind{
		chunk.KindResponseCreated,
		chunk.KindToolCallComplete,
		chunk.KindResponseComplete,
	}, kinds(got))

	call := got[1].ToolCall
	require.NotNil(t, call)
	assert.Equal(t, "get_weather", call.Name)
	assert.NotEmpty(t, call.ID)
	assert.Equal(t, map[string]any{"city": "Oslo"}, call.Args)
}

func TestGeminiDecodeStreamInlineImage(t *testing.T) {
	stream := `data: {"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":"aGVsbG8="}}]},"finishReason":"STOP"}],"modelVersion":"gemini-2.0-flash"}

`
	p := NewGemini(testLogger())
	got := collect(t, func(emit pipeline.EmitFunc) error {
		return p.DecodeStream(strings.NewReader(stream), emit)
	})

	assert.Equal(t, []chunk.Kind{
		chunk.KindResponseCreated,
		chunk.KindImageCreated,
		chunk.KindImageDelta,
		chunk.KindImageComplete,
		chunk.KindResponseComplete,
	}, kinds(got))

	require.NotNil(t, got[2].Image)
	assert.Equal(t, "image/png", got[2].Image.MediaType)
	assert.Equal(t, "aGVsbG8=", got[2].Image.Base64)
}

func TestGeminiBuildRequest(t *testing.T) {
	params := &pipeline.Params{
		Model:    "gemini-2.0-flash",
		System:   "be brief",
		Messages: []pipeline.Message{pipeline.TextMessage("user", "hello")},
		Stream:   true,
		APIKey:   "key-123",
	}

	req, err := NewGemini(testLogger()).BuildRequest(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t,
		"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:streamGenerateContent?alt=sse",
		req.URL.String())
	assert.Equal(t, "key-123", req.Header.Get("x-goog-api-key"))

	var payload geminiRequest
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &payload))

	require.NotNil(t, payload.SystemInstruction)
	assert.Equal(t, "be brief", payload.SystemInstruction.Parts[0].Text)
	require.Len(t, payload.Contents, 1)
	assert.Equal(t, "user", payload.Contents[0].Role)
}

func TestGeminiBuildRequestNonStreamingEndpoint(t *testing.T) {
	params := &pipeline.Params{
		Model:    "gemini-2.0-flash",
		Messages: []pipeline.Message{pipeline.TextMessage("user", "hello")},
	}

	req, err := NewGemini(testLogger()).BuildRequest(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(req.URL.Path, ":generateContent"))
}

func TestGeminiBuildRequestToolRound(t *testing.T) {
	params := &pipeline.Params{
		Model: "gemini-2.0-flash",
		Messages: []pipeline.Message{
			pipeline.TextMessage("user", "weather?"),
			{Role: "assistant", Blocks: []pipeline.ContentBlock{{
				Type: "tool_use", ToolName: "get_weather",
				ToolInput: map[string]any{"city": "Oslo"},
			}}},
			{Role: "tool", Blocks: []pipeline.ContentBlock{{
				Type: "tool_result", ToolName: "get_weather", ToolOutput: "rainy",
			}}},
		},
	}

	req, err := NewGemini(testLogger()).BuildRequest(context.Background(), params)
	require.NoError(t, err)

	var payload geminiRequest
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &payload))

	require.Len(t, payload.Contents, 3)
	assert.Equal(t, "model", payload.Contents[1].Role)
	require.NotNil(t, payload.Contents[1].Parts[0].FunctionCall)
	assert.Equal(t, "get_weather", payload.Contents[1].Parts[0].FunctionCall.Name)

	require.NotNil(t, payload.Contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, map[string]any{"result": "rainy"}, payload.Contents[2].Parts[0].FunctionResponse.Response)
}

func TestGeminiDecodeResponse(t *testing.T) {
	body := `{
		"candidates": [{
			"content": {"role": "model", "parts": [{"text": "Hello!"}]},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 3},
		"modelVersion": "gemini-2.0-flash"
	}`

	p := NewGemini(testLogger())
	got := collect(t, func(emit pipeline.EmitFunc) error {
		return p.DecodeResponse([]byte(body), emit)
	})

	assert.Equal(t, []chunk.Kind{
		chunk.KindResponseCreated,
		chunk.KindTextStart,
		chunk.KindTextDelta,
		chunk.KindTextComplete,
		chunk.KindResponseComplete,
	}, kinds(got))

	// Non-streaming text arrives whole, as a plain delta.
	assert.Equal(t, "Hello!", got[2].Delta)
	assert.False(t, got[2].Cumulative)
	assert.Equal(t, chunk.Usage{InputTokens: 4, OutputTokens: 3, TotalTokens: 7}, *got[4].Usage)
}

func TestGeminiDecodeResponseError(t *testing.T) {
	body := `{"error": {"code": 429, "message": "Resource has been exhausted", "status": "RESOURCE_EXHAUSTED"}}`

	p := NewGemini(testLogger())
	err := p.DecodeResponse([]byte(body), func(chunk.Chunk) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESOURCE_EXHAUSTED")
}
