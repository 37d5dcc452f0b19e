package providers

import "log/slog"

// Nvidia serves NIM models over the Chat Completions wire format.
type Nvidia struct {
	OpenAI
}

func NewNvidia(logger *slog.Logger) *Nvidia {
	return &Nvidia{OpenAI{
		name:        "nvidia",
		defaultBase: "https://integrate.api.nvidia.com/v1",
		logger:      logger,
	}}
}
