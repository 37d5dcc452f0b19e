package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weatherSpec() Descriptor {
	return Descriptor{
		Name:        "get_weather",
		Description: "Get current weather",
		Parameters: Schema{
			Type: "object",
			Properties: map[string]Property{
				"location": {Type: "string", Description: "City name"},
			},
			Required: []string{"location"},
		},
	}
}

func TestRegistryRegisterAndExecute(t *testing.T) {
	reg := NewRegistry()
	reg.Register(weatherSpec(), func(_ context.Context, args map[string]any) (Result, error) {
		return TextResult("sunny in " + args["location"].(string)), nil
	})

	spec, ok := reg.Lookup("get_weather")
	require.True(t, ok)
	assert.Equal(t, "get_weather", spec.Name)

	result, err := reg.Execute(context.Background(), "get_weather", map[string]any{"location": "Lisbon"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "sunny in Lisbon", result.Content[0].Text)
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := NewRegistry()

	_, ok := reg.Lookup("nope")
	assert.False(t, ok)

	_, err := reg.Execute(context.Background(), "nope", nil)
	assert.Error(t, err)
}

func TestRegistryHandlerFailureFoldedIntoResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Descriptor{Name: "flaky"}, func(context.Context, map[string]any) (Result, error) {
		return Result{}, errors.New("backend down")
	})

	result, err := reg.Execute(context.Background(), "flaky", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Contains(t, result.Content[0].Text, "backend down")
}

func TestRegistryDuplicatePanics(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Descriptor{Name: "once"}, func(context.Context, map[string]any) (Result, error) {
		return Result{}, nil
	})

	assert.Panics(t, func() {
		reg.Register(Descriptor{Name: "once"}, nil)
	})
}

func TestInjectionPrompt(t *testing.T) {
	prompt := InjectionPrompt([]Descriptor{weatherSpec()})

	assert.Contains(t, prompt, "<tool_use>")
	assert.Contains(t, prompt, "get_weather")
	assert.Contains(t, prompt, "location")

	assert.Empty(t, InjectionPrompt(nil))
}
