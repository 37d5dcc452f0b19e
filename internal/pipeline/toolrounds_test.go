package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/omnillm/internal/chunk"
	"github.com/Davincible/omnillm/internal/tools"
)

func newToolRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	reg.Register(tools.Descriptor{Name: "get_time"}, func(_ context.Context, args map[string]any) (tools.Result, error) {
		return tools.TextResult("12:00 UTC"), nil
	})
	reg.Register(tools.Descriptor{Name: "flaky"}, func(context.Context, map[string]any) (tools.Result, error) {
		return tools.Result{}, errors.New("backend down")
	})
	return reg
}

func TestNativeExtractionFoldsLifecycle(t *testing.T) {
	pc := newTestContext()
	pc.Params.Tools = []tools.Descriptor{{Name: "get_time"}}
	pc.Params.ToolMode = ToolModeNative

	var forwarded []chunk.Chunk
	pc.Sink = func(c chunk.Chunk) error {
		forwarded = append(forwarded, c)
		return nil
	}

	h := Compose(func(_ context.Context, pc *Context) error {
		for _, c := range []chunk.Chunk{
			chunk.NewToolCallPending("call_1", "get_time"),
			chunk.NewToolCallInProgress("call_1", "", `{"tz":`),
			chunk.NewToolCallInProgress("call_1", "", ` "UTC"}`),
			chunk.NewToolCallComplete("call_1", "", "", nil),
		} {
			if err := pc.Emit(c); err != nil {
				return err
			}
		}
		return nil
	}, ToolExtraction())

	require.NoError(t, h(context.Background(), pc))

	calls := pc.TakePendingCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "get_time", calls[0].Name)
	assert.Equal(t, map[string]any{"tz": "UTC"}, calls[0].Args)

	// Lifecycle events pass through to the consumer untouched.
	assert.Len(t, forwarded, 4)
}

func TestPromptExtractionStripsTagsAndSynthesizesCall(t *testing.T) {
	pc := newTestContext()
	pc.Params.Tools = []tools.Descriptor{{Name: "get_time"}}
	pc.Params.ToolMode = ToolModePrompt

	var forwarded []chunk.Chunk
	pc.Sink = func(c chunk.Chunk) error {
		forwarded = append(forwarded, c)
		return nil
	}

	h := Compose(func(_ context.Context, pc *Context) error {
		for _, c := range []chunk.Chunk{
			chunk.NewTextDelta("Sure. <tool_use><name>get_time</name>"),
			chunk.NewTextDelta(`<arguments>{"tz": "UTC"}</arguments></tool_use>`),
			chunk.NewTextDelta(" Done."),
			chunk.NewTextComplete(),
		} {
			if err := pc.Emit(c); err != nil {
				return err
			}
		}
		return nil
	}, ToolExtraction())

	require.NoError(t, h(context.Background(), pc))

	calls := pc.TakePendingCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "get_time", calls[0].Name)
	assert.Equal(t, map[string]any{"tz": "UTC"}, calls[0].Args)
	assert.NotEmpty(t, calls[0].ID)

	var text string
	var sawToolComplete bool
	for _, c := range forwarded {
		switch c.Kind {
		case chunk.KindTextDelta:
			text += c.Delta
			assert.NotContains(t, c.Delta, "<tool_use>")
		case chunk.KindToolCallComplete:
			sawToolComplete = true
		}
	}
	assert.Equal(t, "Sure.  Done.", text)
	assert.True(t, sawToolComplete)
}

func TestToolRoundsRecursesAndRehydrates(t *testing.T) {
	pc := newTestContext()
	pc.Executor = newToolRegistry(t)
	pc.Params.Messages = []Message{TextMessage("user", "what time is it?")}

	rounds := 0
	h := Compose(func(_ context.Context, pc *Context) error {
		rounds++
		if rounds == 1 {
			pc.AddPendingCall(chunk.ToolCall{
				ID: "call_1", Name: "get_time", Args: map[string]any{},
			})
		}
		return nil
	}, ToolRounds())

	require.NoError(t, h(context.Background(), pc))

	assert.Equal(t, 2, rounds)
	assert.Equal(t, 1, pc.Depth)
	assert.True(t, pc.IsRecursive)

	require.Len(t, pc.Result.Exchanges, 1)
	assert.Equal(t, "12:00 UTC", pc.Result.Exchanges[0].Result.Text())

	// History grew by the assistant tool_use turn and the tool result turn.
	require.Len(t, pc.Params.Messages, 3)
	assert.Equal(t, "assistant", pc.Params.Messages[1].Role)
	assert.Equal(t, "tool_use", pc.Params.Messages[1].Blocks[0].Type)
	assert.Equal(t, "tool", pc.Params.Messages[2].Role)
	assert.Equal(t, "12:00 UTC", pc.Params.Messages[2].Blocks[0].ToolOutput)
}

func TestToolRoundsDepthLimit(t *testing.T) {
	pc := newTestContext()
	pc.Executor = newToolRegistry(t)
	pc.MaxDepth = 3

	rounds := 0
	h := Compose(func(_ context.Context, pc *Context) error {
		rounds++
		// The model keeps asking for tools forever.
		pc.AddPendingCall(chunk.ToolCall{ID: "c", Name: "get_time", Args: map[string]any{}})
		return nil
	}, ToolRounds())

	require.NoError(t, h(context.Background(), pc))
	assert.Equal(t, 3, rounds, "model invocations bounded by MaxDepth")
	assert.Equal(t, 3, pc.Depth)
}

func TestToolRoundsIgnoresUnknownTool(t *testing.T) {
	pc := newTestContext()
	pc.Executor = newToolRegistry(t)

	rounds := 0
	h := Compose(func(_ context.Context, pc *Context) error {
		rounds++
		if rounds == 1 {
			pc.AddPendingCall(chunk.ToolCall{ID: "c", Name: "no_such_tool"})
		}
		return nil
	}, ToolRounds())

	require.NoError(t, h(context.Background(), pc))
	assert.Equal(t, 1, rounds, "unknown tool ends recursion without a round")
	assert.Empty(t, pc.Result.Exchanges)
}

func TestToolRoundsIsolatesFailingTool(t *testing.T) {
	pc := newTestContext()
	pc.Executor = newToolRegistry(t)

	rounds := 0
	h := Compose(func(_ context.Context, pc *Context) error {
		rounds++
		if rounds == 1 {
			pc.AddPendingCall(chunk.ToolCall{ID: "c1", Name: "get_time", Args: map[string]any{}})
			pc.AddPendingCall(chunk.ToolCall{ID: "c2", Name: "flaky", Args: map[string]any{}})
		}
		return nil
	}, ToolRounds())

	require.NoError(t, h(context.Background(), pc))

	require.Len(t, pc.Result.Exchanges, 2)
	assert.False(t, pc.Result.Exchanges[0].Result.IsError)
	assert.Equal(t, "12:00 UTC", pc.Result.Exchanges[0].Result.Text())
	assert.True(t, pc.Result.Exchanges[1].Result.IsError)
	assert.Contains(t, pc.Result.Exchanges[1].Result.Text(), "backend down")
}
