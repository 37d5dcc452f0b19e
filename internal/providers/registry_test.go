package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/omnillm/internal/pipeline"
)

func TestRegistryGet(t *testing.T) {
	reg := NewRegistry()
	reg.Initialize(testLogger())

	for _, name := range []string{"openai", "anthropic", "gemini", "openrouter", "nvidia"} {
		a, ok := reg.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, name, a.Name())
	}

	_, ok := reg.Get("unknown")
	assert.False(t, ok)
}

func TestRegistryGetIsCaseInsensitive(t *testing.T) {
	reg := NewRegistry()
	reg.Initialize(testLogger())

	a, ok := reg.Get("OpenAI")
	require.True(t, ok)
	assert.Equal(t, "openai", a.Name())
}

// namedAdapter is a stub for registering adapters under arbitrary names.
type namedAdapter struct {
	pipeline.Adapter
	name string
}

func (a namedAdapter) Name() string { return a.name }

func TestRegistryRegisterFoldsCase(t *testing.T) {
	reg := NewRegistry()
	reg.Register(namedAdapter{name: "MyProxy"})

	a, ok := reg.Get("myproxy")
	require.True(t, ok)
	assert.Equal(t, "MyProxy", a.Name())

	_, ok = reg.Get("MYPROXY")
	assert.True(t, ok)
}

func TestRegistryGetByDomain(t *testing.T) {
	reg := NewRegistry()
	reg.Initialize(testLogger())

	tests := []struct {
		apiBase string
		want    string
	}{
		{"https://api.openai.com/v1", "openai"},
		{"https://api.anthropic.com", "anthropic"},
		{"https://generativelanguage.googleapis.com/v1beta", "gemini"},
		{"https://openrouter.ai/api/v1", "openrouter"},
		{"https://integrate.api.nvidia.com/v1", "nvidia"},
	}

	for _, tt := range tests {
		a, err := reg.GetByDomain(tt.apiBase)
		require.NoError(t, err, tt.apiBase)
		assert.Equal(t, tt.want, a.Name())
	}

	_, err := reg.GetByDomain("https://example.com")
	assert.Error(t, err)
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	reg.Initialize(testLogger())

	assert.Equal(t, []string{"anthropic", "gemini", "nvidia", "openai", "openrouter"}, reg.List())
}
