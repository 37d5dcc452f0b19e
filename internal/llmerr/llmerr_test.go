package llmerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{401, AuthFailed},
		{403, AuthFailed},
		{429, RateLimited},
		{408, Timeout},
		{504, Timeout},
		{502, NetworkUnavailable},
		{503, NetworkUnavailable},
		{500, Unknown},
		{400, Unknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := FromStatus(tt.status, "body")
			assert.Equal(t, tt.want, err.Kind)
			assert.Equal(t, tt.status, err.Status)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil-safe cancel", context.Canceled, Cancelled},
		{"fired deadline is a cancel", context.DeadlineExceeded, Cancelled},
		{"wrapped deadline", fmt.Errorf("reading stream: %w", context.DeadlineExceeded), Cancelled},
		{"deadline message only", errors.New("Get \"x\": context deadline exceeded"), Cancelled},
		{"rate limit message", errors.New("429: Rate limit exceeded"), RateLimited},
		{"auth message", errors.New("invalid api key provided"), AuthFailed},
		{"dns failure", errors.New("dial tcp: lookup api.example.com: no such host"), NetworkUnavailable},
		{"connection refused", errors.New("dial tcp 127.0.0.1:1: connection refused"), NetworkUnavailable},
		{"timeout message", errors.New("request timed out"), Timeout},
		{"unknown", errors.New("something odd"), Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
		})
	}
}

func TestClassifyWrapped(t *testing.T) {
	inner := New(RateLimited, errors.New("slow down"))
	wrapped := fmt.Errorf("pipeline: %w", inner)

	got := Classify(wrapped)
	assert.Equal(t, RateLimited, got.Kind)
	assert.Same(t, inner, got)
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestIsCancelled(t *testing.T) {
	assert.True(t, IsCancelled(context.Canceled))
	assert.True(t, IsCancelled(fmt.Errorf("wrap: %w", context.Canceled)))
	assert.True(t, IsCancelled(context.DeadlineExceeded))
	assert.False(t, IsCancelled(FromStatus(504, "upstream gave up")))
	assert.False(t, IsCancelled(errors.New("boom")))
	assert.False(t, IsCancelled(nil))
}
