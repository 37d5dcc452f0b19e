package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Davincible/omnillm/internal/chunk"
	"github.com/Davincible/omnillm/internal/pipeline"
)

const (
	anthropicVersion = "2023-06-01"

	// Messages API requires max_tokens; used when the caller did not set one.
	anthropicDefaultMaxTokens = 4096
)

// Anthropic speaks the Messages API: explicit content blocks on the way in,
// typed block events on the way out.
type Anthropic struct {
	name        string
	defaultBase string
	logger      *slog.Logger
}

func NewAnthropic(logger *slog.Logger) *Anthropic {
	return &Anthropic{
		name:        "anthropic",
		defaultBase: "https://api.anthropic.com",
		logger:      logger,
	}
}

func (p *Anthropic) Name() string { return p.name }

// Messages API wire structures

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Stream      bool               `json:"stream,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Type        string          `json:"type,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	MaxUses     int             `json:"max_uses,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicStreamFrame struct {
	Type  string `json:"type"`
	Index int    `json:"index,omitempty"`

	Message *struct {
		Model string          `json:"model"`
		Usage *anthropicUsage `json:"usage"`
	} `json:"message,omitempty"`

	ContentBlock *struct {
		Type    string `json:"type"`
		ID      string `json:"id,omitempty"`
		Name    string `json:"name,omitempty"`
		Content []struct {
			URL   string `json:"url,omitempty"`
			Title string `json:"title,omitempty"`
		} `json:"content,omitempty"`
	} `json:"content_block,omitempty"`

	Delta *struct {
		Type        string `json:"type,omitempty"`
		Text        string `json:"text,omitempty"`
		Thinking    string `json:"thinking,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`

	Usage *anthropicUsage `json:"usage,omitempty"`

	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *Anthropic) BuildRequest(ctx context.Context, params *pipeline.Params) (*http.Request, error) {
	maxTokens := params.MaxTokens
	if maxTokens == 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	payload := anthropicRequest{
		Model:       params.Model,
		MaxTokens:   maxTokens,
		System:      params.System,
		Messages:    anthropicMessages(params),
		Stream:      params.Stream,
		Temperature: params.Temperature,
	}

	for _, spec := range params.NativeTools() {
		schema, err := json.Marshal(spec.Parameters)
		if err != nil {
			return nil, err
		}
		payload.Tools = append(payload.Tools, anthropicTool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: schema,
		})
	}
	if params.WebSearch {
		payload.Tools = append(payload.Tools, anthropicTool{
			Type: "web_search_20250305",
			Name: "web_search",
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	base := params.APIBase
	if base == "" {
		base = p.defaultBase
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(base, "/")+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", params.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Accept-Encoding", "gzip, br")
	return req, nil
}

// anthropicMessages converts neutral history into Messages API turns. Tool
// results become user-role tool_result blocks referencing the tool_use id.
func anthropicMessages(params *pipeline.Params) []anthropicMessage {
	msgs := make([]anthropicMessage, 0, len(params.Messages))

	for _, m := range params.Messages {
		role := m.Role
		if role == "tool" {
			role = "user"
		}
		if role == "system" {
			// System text travels in the request's system field, never as a turn.
			continue
		}

		var content []anthropicContent
		for _, b := range m.Blocks {
			switch b.Type {
			case "text":
				if b.Text != "" {
					content = append(content, anthropicContent{Type: "text", Text: b.Text})
				}
			case "tool_use":
				content = append(content, anthropicContent{
					Type:  "tool_use",
					ID:    b.ToolID,
					Name:  b.ToolName,
					Input: b.ToolInput,
				})
			case "tool_result":
				content = append(content, anthropicContent{
					Type:      "tool_result",
					ToolUseID: b.ToolID,
					Content:   b.ToolOutput,
					IsError:   b.IsError,
				})
			}
		}
		if len(content) == 0 {
			continue
		}
		msgs = append(msgs, anthropicMessage{Role: role, Content: content})
	}
	return msgs
}

// anthropicBlock tracks one open content block between its start and stop
// events.
type anthropicBlock struct {
	kind      string
	call      *chunk.ToolCall
	citations []chunk.Citation
}

func (p *Anthropic) DecodeStream(r io.Reader, emit pipeline.EmitFunc) error {
	var (
		model  string
		usage  chunk.Usage
		blocks = make(map[int]*anthropicBlock)
	)

	return scanEvents(r, func(_, data string) error {
		var frame anthropicStreamFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			p.logger.Warn("dropping malformed stream frame", "provider", p.name, "error", err)
			return nil
		}

		switch frame.Type {
		case "message_start":
			if frame.Message != nil {
				model = frame.Message.Model
				if frame.Message.Usage != nil {
					usage.InputTokens = frame.Message.Usage.InputTokens
					usage.OutputTokens = frame.Message.Usage.OutputTokens
				}
			}
			return emit(chunk.NewResponseCreated(model))

		case "content_block_start":
			if frame.ContentBlock == nil {
				return nil
			}
			block := &anthropicBlock{kind: frame.ContentBlock.Type}
			blocks[frame.Index] = block

			switch block.kind {
			case "text":
				return emit(chunk.NewTextStart())
			case "thinking":
				return emit(chunk.NewReasoningStart())
			case "tool_use":
				block.call = &chunk.ToolCall{
					ID:   frame.ContentBlock.ID,
					Name: frame.ContentBlock.Name,
				}
				return emit(chunk.NewToolCallPending(block.call.ID, block.call.Name))
			case "server_tool_use":
				return emit(chunk.NewWebSearchInProgress())
			case "web_search_tool_result":
				for _, item := range frame.ContentBlock.Content {
					if item.URL != "" {
						block.citations = append(block.citations, chunk.Citation{
							Title: item.Title,
							URL:   item.URL,
						})
					}
				}
			}
			return nil

		case "content_block_delta":
			block := blocks[frame.Index]
			if frame.Delta == nil || block == nil {
				return nil
			}
			switch frame.Delta.Type {
			case "text_delta":
				return emit(chunk.NewTextDelta(frame.Delta.Text))
			case "thinking_delta":
				return emit(chunk.NewReasoningDelta(frame.Delta.Thinking))
			case "input_json_delta":
				if block.call == nil {
					return nil
				}
				block.call.Arguments += frame.Delta.PartialJSON
				return emit(chunk.NewToolCallInProgress(block.call.ID, block.call.Name, frame.Delta.PartialJSON))
			}
			return nil

		case "content_block_stop":
			block := blocks[frame.Index]
			if block == nil {
				return nil
			}
			delete(blocks, frame.Index)

			switch block.kind {
			case "text":
				return emit(chunk.NewTextComplete())
			case "thinking":
				return emit(chunk.NewReasoningComplete())
			case "tool_use":
				return emit(chunk.NewToolCallComplete(block.call.ID, block.call.Name, block.call.Arguments, nil))
			case "web_search_tool_result":
				return emit(chunk.NewWebSearchComplete(block.citations))
			}
			return nil

		case "message_delta":
			// message_delta usage carries the cumulative output count.
			if frame.Usage != nil {
				usage.OutputTokens = frame.Usage.OutputTokens
			}
			return nil

		case "message_stop":
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			return emit(chunk.NewResponseComplete(model, usage))

		case "error":
			if frame.Error != nil {
				return fmt.Errorf("%s stream error (%s): %s", p.name, frame.Error.Type, frame.Error.Message)
			}
			return fmt.Errorf("%s stream error", p.name)
		}

		// ping and future event types are ignored.
		return nil
	})
}

func (p *Anthropic) DecodeResponse(body []byte, emit pipeline.EmitFunc) error {
	var resp struct {
		Model   string             `json:"model"`
		Content []anthropicContent `json:"content"`
		Usage   *anthropicUsage    `json:"usage"`
		Error   *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decoding %s response: %w", p.name, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s error (%s): %s", p.name, resp.Error.Type, resp.Error.Message)
	}

	if err := emit(chunk.NewResponseCreated(resp.Model)); err != nil {
		return err
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			for _, c := range []chunk.Chunk{
				chunk.NewTextStart(),
				chunk.NewTextDelta(block.Text),
				chunk.NewTextComplete(),
			} {
				if err := emit(c); err != nil {
					return err
				}
			}
		case "tool_use":
			if err := emit(chunk.NewToolCallPending(block.ID, block.Name)); err != nil {
				return err
			}
			if err := emit(chunk.NewToolCallComplete(block.ID, block.Name, "", block.Input)); err != nil {
				return err
			}
		}
	}

	var usage chunk.Usage
	if resp.Usage != nil {
		usage = chunk.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return emit(chunk.NewResponseComplete(resp.Model, usage))
}
