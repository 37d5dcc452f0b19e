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
	"github.com/Davincible/omnillm/internal/tools"
)

// OpenAI speaks the Chat Completions wire format. OpenRouter and NVIDIA
// expose the same shape and reuse this codec with their own endpoints.
type OpenAI struct {
	name        string
	defaultBase string
	logger      *slog.Logger
}

func NewOpenAI(logger *slog.Logger) *OpenAI {
	return &OpenAI{
		name:        "openai",
		defaultBase: "https://api.openai.com/v1",
		logger:      logger,
	}
}

func (p *OpenAI) Name() string { return p.name }

// Chat Completions wire structures

type openaiRequest struct {
	Model         string               `json:"model"`
	Messages      []openaiMessage      `json:"messages"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *openaiStreamOptions `json:"stream_options,omitempty"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
	Tools         []openaiTool         `json:"tools,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiTool struct {
	Type     string           `json:"type"`
	Function tools.Descriptor `json:"function"`
}

type openaiToolCall struct {
	Index    int            `json:"index"`
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type,omitempty"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiStreamFrame struct {
	Model   string         `json:"model,omitempty"`
	Choices []openaiChoice `json:"choices,omitempty"`
	Usage   *openaiUsage   `json:"usage,omitempty"`
}

type openaiChoice struct {
	Delta        *openaiDelta   `json:"delta,omitempty"`
	Message      *openaiDelta   `json:"message,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

type openaiDelta struct {
	Content          string             `json:"content,omitempty"`
	ReasoningContent string             `json:"reasoning_content,omitempty"`
	ToolCalls        []openaiToolCall   `json:"tool_calls,omitempty"`
	Annotations      []openaiAnnotation `json:"annotations,omitempty"`
}

type openaiAnnotation struct {
	Type        string `json:"type"`
	URLCitation *struct {
		URL   string `json:"url"`
		Title string `json:"title,omitempty"`
	} `json:"url_citation,omitempty"`
}

func (p *OpenAI) BuildRequest(ctx context.Context, params *pipeline.Params) (*http.Request, error) {
	payload := openaiRequest{
		Model:       params.Model,
		Messages:    openaiMessages(params),
		Stream:      params.Stream,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	}
	if params.Stream {
		payload.StreamOptions = &openaiStreamOptions{IncludeUsage: true}
	}
	for _, spec := range params.NativeTools() {
		payload.Tools = append(payload.Tools, openaiTool{Type: "function", Function: spec})
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
		strings.TrimRight(base, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+params.APIKey)
	req.Header.Set("Accept-Encoding", "gzip, br")
	return req, nil
}

// openaiMessages flattens the neutral history into Chat Completions turns.
// Tool results each become their own role=tool message keyed by call id.
func openaiMessages(params *pipeline.Params) []openaiMessage {
	msgs := make([]openaiMessage, 0, len(params.Messages)+1)
	if params.System != "" {
		msgs = append(msgs, openaiMessage{Role: "system", Content: params.System})
	}

	for _, m := range params.Messages {
		switch m.Role {
		case "tool":
			for _, b := range m.Blocks {
				if b.Type != "tool_result" {
					continue
				}
				msgs = append(msgs, openaiMessage{
					Role:       "tool",
					Content:    b.ToolOutput,
					ToolCallID: b.ToolID,
				})
			}

		case "assistant":
			msg := openaiMessage{Role: "assistant", Content: m.Text()}
			for i, b := range m.Blocks {
				if b.Type != "tool_use" {
					continue
				}
				args, err := json.Marshal(b.ToolInput)
				if err != nil {
					args = []byte("{}")
				}
				msg.ToolCalls = append(msg.ToolCalls, openaiToolCall{
					Index: i,
					ID:    b.ToolID,
					Type:  "function",
					Function: openaiFunction{
						Name:      b.ToolName,
						Arguments: string(args),
					},
				})
			}
			msgs = append(msgs, msg)

		default:
			msgs = append(msgs, openaiMessage{Role: m.Role, Content: m.Text()})
		}
	}
	return msgs
}

// openaiStreamState carries decode state across SSE frames.
type openaiStreamState struct {
	started       bool
	finished      bool
	textOpen      bool
	reasoningOpen bool
	model         string
	usage         chunk.Usage
	calls         map[int]*chunk.ToolCall
	callOrder     []int
	callsClosed   bool
	citations     []chunk.Citation
}

func (p *OpenAI) DecodeStream(r io.Reader, emit pipeline.EmitFunc) error {
	st := openaiStreamState{calls: make(map[int]*chunk.ToolCall)}

	err := scanEvents(r, func(_, data string) error {
		if data == "[DONE]" {
			return p.finishStream(&st, emit)
		}
		if st.finished {
			return nil
		}

		var frame openaiStreamFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			p.logger.Warn("dropping malformed stream frame", "provider", p.name, "error", err)
			return nil
		}
		return p.applyFrame(&st, &frame, emit)
	})
	if err != nil {
		return err
	}

	// Stream ended without a [DONE] sentinel; close out what we have.
	return p.finishStream(&st, emit)
}

func (p *OpenAI) applyFrame(st *openaiStreamState, frame *openaiStreamFrame, emit pipeline.EmitFunc) error {
	if frame.Model != "" {
		st.model = frame.Model
	}
	if !st.started {
		st.started = true
		if err := emit(chunk.NewResponseCreated(st.model)); err != nil {
			return err
		}
	}
	if frame.Usage != nil {
		st.usage = convertOpenAIUsage(*frame.Usage)
	}

	for _, choice := range frame.Choices {
		if choice.Delta != nil {
			if err := p.applyDelta(st, choice.Delta, emit); err != nil {
				return err
			}
		}
		if choice.FinishReason != "" {
			if err := p.closeBlocks(st, emit); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *OpenAI) applyDelta(st *openaiStreamState, delta *openaiDelta, emit pipeline.EmitFunc) error {
	if delta.ReasoningContent != "" {
		if !st.reasoningOpen {
			st.reasoningOpen = true
			if err := emit(chunk.NewReasoningStart()); err != nil {
				return err
			}
		}
		if err := emit(chunk.NewReasoningDelta(delta.ReasoningContent)); err != nil {
			return err
		}
	}

	if delta.Content != "" {
		if st.reasoningOpen {
			st.reasoningOpen = false
			if err := emit(chunk.NewReasoningComplete()); err != nil {
				return err
			}
		}
		if !st.textOpen {
			st.textOpen = true
			if err := emit(chunk.NewTextStart()); err != nil {
				return err
			}
		}
		if err := emit(chunk.NewTextDelta(delta.Content)); err != nil {
			return err
		}
	}

	for _, a := range delta.Annotations {
		if a.URLCitation != nil && a.URLCitation.URL != "" {
			st.citations = append(st.citations, chunk.Citation{
				Title: a.URLCitation.Title,
				URL:   a.URLCitation.URL,
			})
		}
	}

	for _, tc := range delta.ToolCalls {
		rec, ok := st.calls[tc.Index]
		if !ok {
			rec = &chunk.ToolCall{ID: tc.ID, Name: tc.Function.Name}
			st.calls[tc.Index] = rec
			st.callOrder = append(st.callOrder, tc.Index)
			if err := emit(chunk.NewToolCallPending(rec.ID, rec.Name)); err != nil {
				return err
			}
		}
		if tc.ID != "" {
			rec.ID = tc.ID
		}
		if tc.Function.Name != "" {
			rec.Name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			rec.Arguments += tc.Function.Arguments
			if err := emit(chunk.NewToolCallInProgress(rec.ID, rec.Name, tc.Function.Arguments)); err != nil {
				return err
			}
		}
	}
	return nil
}

// closeBlocks emits the complete events for any open text, reasoning, or
// tool-call blocks, each exactly once.
func (p *OpenAI) closeBlocks(st *openaiStreamState, emit pipeline.EmitFunc) error {
	if st.reasoningOpen {
		st.reasoningOpen = false
		if err := emit(chunk.NewReasoningComplete()); err != nil {
			return err
		}
	}
	if st.textOpen {
		st.textOpen = false
		if err := emit(chunk.NewTextComplete()); err != nil {
			return err
		}
	}
	if !st.callsClosed {
		st.callsClosed = true
		for _, idx := range st.callOrder {
			rec := st.calls[idx]
			if err := emit(chunk.NewToolCallComplete(rec.ID, rec.Name, rec.Arguments, nil)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *OpenAI) finishStream(st *openaiStreamState, emit pipeline.EmitFunc) error {
	if st.finished {
		return nil
	}
	st.finished = true
	if !st.started {
		return nil
	}

	if err := p.closeBlocks(st, emit); err != nil {
		return err
	}
	if len(st.citations) > 0 {
		if err := emit(chunk.NewWebSearchComplete(st.citations)); err != nil {
			return err
		}
	}
	return emit(chunk.NewResponseComplete(st.model, st.usage))
}

func (p *OpenAI) DecodeResponse(body []byte, emit pipeline.EmitFunc) error {
	var resp struct {
		Model   string         `json:"model"`
		Choices []openaiChoice `json:"choices"`
		Usage   *openaiUsage   `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decoding %s response: %w", p.name, err)
	}

	if err := emit(chunk.NewResponseCreated(resp.Model)); err != nil {
		return err
	}

	if len(resp.Choices) > 0 && resp.Choices[0].Message != nil {
		msg := resp.Choices[0].Message

		if msg.ReasoningContent != "" {
			for _, c := range []chunk.Chunk{
				chunk.NewReasoningStart(),
				chunk.NewReasoningDelta(msg.ReasoningContent),
				chunk.NewReasoningComplete(),
			} {
				if err := emit(c); err != nil {
					return err
				}
			}
		}

		if msg.Content != "" {
			for _, c := range []chunk.Chunk{
				chunk.NewTextStart(),
				chunk.NewTextDelta(msg.Content),
				chunk.NewTextComplete(),
			} {
				if err := emit(c); err != nil {
					return err
				}
			}
		}

		for _, tc := range msg.ToolCalls {
			if err := emit(chunk.NewToolCallPending(tc.ID, tc.Function.Name)); err != nil {
				return err
			}
			if err := emit(chunk.NewToolCallComplete(tc.ID, tc.Function.Name, tc.Function.Arguments, nil)); err != nil {
				return err
			}
		}
	}

	var usage chunk.Usage
	if resp.Usage != nil {
		usage = convertOpenAIUsage(*resp.Usage)
	}
	return emit(chunk.NewResponseComplete(resp.Model, usage))
}

func convertOpenAIUsage(u openaiUsage) chunk.Usage {
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	return chunk.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  total,
	}
}
