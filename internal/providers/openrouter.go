package providers

import "log/slog"

// OpenRouter proxies many upstream models behind the Chat Completions wire
// format, so it shares the OpenAI codec.
type OpenRouter struct {
	OpenAI
}

func NewOpenRouter(logger *slog.Logger) *OpenRouter {
	return &OpenRouter{OpenAI{
		name:        "openrouter",
		defaultBase: "https://openrouter.ai/api/v1",
		logger:      logger,
	}}
}
