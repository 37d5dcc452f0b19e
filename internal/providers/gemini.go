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

	"github.com/google/uuid"

	"github.com/Davincible/omnillm/internal/chunk"
	"github.com/Davincible/omnillm/internal/pipeline"
	"github.com/Davincible/omnillm/internal/tools"
)

// Gemini speaks the generateContent API. Its stream belongs to the
// cumulative family: every text delta this adapter emits carries the full
// string accumulated so far, and each frame's usage metadata supersedes the
// previous one.
type Gemini struct {
	name        string
	defaultBase string
	logger      *slog.Logger
}

func NewGemini(logger *slog.Logger) *Gemini {
	return &Gemini{
		name:        "gemini",
		defaultBase: "https://generativelanguage.googleapis.com/v1beta",
		logger:      logger,
	}
}

func (p *Gemini) Name() string { return p.name }

// generateContent wire structures

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	Tools             []geminiToolConfig      `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string              `json:"text,omitempty"`
	Thought          bool                `json:"thought,omitempty"`
	InlineData       *geminiInlineData   `json:"inlineData,omitempty"`
	FunctionCall     *geminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResp `json:"functionResponse,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiToolConfig struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations,omitempty"`
	GoogleSearch         *struct{}            `json:"google_search,omitempty"`
}

type geminiFunctionDecl struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Parameters  tools.Schema `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type geminiFrame struct {
	Candidates []struct {
		Content           *geminiContent `json:"content,omitempty"`
		FinishReason      string         `json:"finishReason,omitempty"`
		GroundingMetadata *struct {
			GroundingChunks []struct {
				Web *struct {
					URI   string `json:"uri"`
					Title string `json:"title,omitempty"`
				} `json:"web,omitempty"`
			} `json:"groundingChunks,omitempty"`
		} `json:"groundingMetadata,omitempty"`
	} `json:"candidates,omitempty"`

	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount,omitempty"`
		CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
		TotalTokenCount      int `json:"totalTokenCount,omitempty"`
	} `json:"usageMetadata,omitempty"`

	ModelVersion string `json:"modelVersion,omitempty"`

	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

func (p *Gemini) BuildRequest(ctx context.Context, params *pipeline.Params) (*http.Request, error) {
	payload := geminiRequest{
		Contents: geminiContents(params),
	}
	if params.System != "" {
		payload.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: params.System}},
		}
	}
	if native := params.NativeTools(); len(native) > 0 {
		cfg := geminiToolConfig{}
		for _, spec := range native {
			cfg.FunctionDeclarations = append(cfg.FunctionDeclarations, geminiFunctionDecl{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			})
		}
		payload.Tools = append(payload.Tools, cfg)
	}
	if params.WebSearch {
		payload.Tools = append(payload.Tools, geminiToolConfig{GoogleSearch: &struct{}{}})
	}
	if params.MaxTokens > 0 || params.Temperature != nil {
		payload.GenerationConfig = &geminiGenerationConfig{
			MaxOutputTokens: params.MaxTokens,
			Temperature:     params.Temperature,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	base := params.APIBase
	if base == "" {
		base = p.defaultBase
	}
	verb := ":generateContent"
	if params.Stream {
		verb = ":streamGenerateContent?alt=sse"
	}
	url := strings.TrimRight(base, "/") + "/models/" + params.Model + verb

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", params.APIKey)
	req.Header.Set("Accept-Encoding", "gzip, br")
	return req, nil
}

// geminiContents converts neutral history. Assistant turns map to the
// "model" role; tool results travel as functionResponse parts on a user turn.
func geminiContents(params *pipeline.Params) []geminiContent {
	contents := make([]geminiContent, 0, len(params.Messages))

	for _, m := range params.Messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		if m.Role == "system" {
			continue
		}

		var parts []geminiPart
		for _, b := range m.Blocks {
			switch b.Type {
			case "text":
				if b.Text != "" {
					parts = append(parts, geminiPart{Text: b.Text})
				}
			case "tool_use":
				parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{
					Name: b.ToolName,
					Args: b.ToolInput,
				}})
			case "tool_result":
				response := map[string]any{"result": b.ToolOutput}
				if b.IsError {
					response = map[string]any{"error": b.ToolOutput}
				}
				parts = append(parts, geminiPart{FunctionResponse: &geminiFunctionResp{
					Name:     b.ToolName,
					Response: response,
				}})
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, geminiContent{Role: role, Parts: parts})
	}
	return contents
}

// geminiStreamState accumulates text across frames so deltas can be emitted
// cumulatively, and keeps the latest usage snapshot (last frame wins).
type geminiStreamState struct {
	started       bool
	textOpen      bool
	reasoningOpen bool
	imageOpen     bool
	text          string
	reasoning     string
	model         string
	usage         chunk.Usage
	citations     []chunk.Citation
}

func (p *Gemini) DecodeStream(r io.Reader, emit pipeline.EmitFunc) error {
	var st geminiStreamState

	err := scanEvents(r, func(_, data string) error {
		var frame geminiFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			p.logger.Warn("dropping malformed stream frame", "provider", p.name, "error", err)
			return nil
		}
		return p.applyFrame(&st, &frame, emit, true)
	})
	if err != nil {
		return err
	}
	if !st.started {
		return nil
	}

	if err := p.closeBlocks(&st, emit); err != nil {
		return err
	}
	if len(st.citations) > 0 {
		if err := emit(chunk.NewWebSearchComplete(st.citations)); err != nil {
			return err
		}
	}
	return emit(chunk.NewResponseComplete(st.model, st.usage))
}

func (p *Gemini) applyFrame(st *geminiStreamState, frame *geminiFrame, emit pipeline.EmitFunc, cumulative bool) error {
	if frame.Error != nil {
		return fmt.Errorf("%s error (%s): %s", p.name, frame.Error.Status, frame.Error.Message)
	}

	if frame.ModelVersion != "" {
		st.model = frame.ModelVersion
	}
	if !st.started {
		st.started = true
		if err := emit(chunk.NewResponseCreated(st.model)); err != nil {
			return err
		}
	}
	if frame.UsageMetadata != nil {
		st.usage = chunk.Usage{
			InputTokens:  frame.UsageMetadata.PromptTokenCount,
			OutputTokens: frame.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  frame.UsageMetadata.TotalTokenCount,
		}
		if st.usage.TotalTokens == 0 {
			st.usage.TotalTokens = st.usage.InputTokens + st.usage.OutputTokens
		}
	}

	if len(frame.Candidates) == 0 {
		return nil
	}
	candidate := frame.Candidates[0]

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if err := p.applyPart(st, part, emit, cumulative); err != nil {
				return err
			}
		}
	}

	if meta := candidate.GroundingMetadata; meta != nil {
		for _, gc := range meta.GroundingChunks {
			if gc.Web != nil && gc.Web.URI != "" {
				st.citations = append(st.citations, chunk.Citation{
					Title: gc.Web.Title,
					URL:   gc.Web.URI,
				})
			}
		}
	}

	if candidate.FinishReason != "" {
		return p.closeBlocks(st, emit)
	}
	return nil
}

func (p *Gemini) applyPart(st *geminiStreamState, part geminiPart, emit pipeline.EmitFunc, cumulative bool) error {
	switch {
	case part.FunctionCall != nil:
		// Gemini delivers calls whole, never fragmented.
		id := "call_" + uuid.NewString()
		return emit(chunk.NewToolCallComplete(id, part.FunctionCall.Name, "", part.FunctionCall.Args))

	case part.InlineData != nil:
		if !st.imageOpen {
			st.imageOpen = true
			if err := emit(chunk.NewImageCreated(part.InlineData.MimeType)); err != nil {
				return err
			}
		}
		return emit(chunk.NewImageDelta(part.InlineData.MimeType, part.InlineData.Data))

	case part.Thought && part.Text != "":
		if !st.reasoningOpen {
			st.reasoningOpen = true
			if err := emit(chunk.NewReasoningStart()); err != nil {
				return err
			}
		}
		st.reasoning += part.Text
		if cumulative {
			return emit(chunk.NewCumulativeReasoningDelta(st.reasoning))
		}
		return emit(chunk.NewReasoningDelta(part.Text))

	case part.Text != "":
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
		st.text += part.Text
		if cumulative {
			return emit(chunk.NewCumulativeTextDelta(st.text))
		}
		return emit(chunk.NewTextDelta(part.Text))
	}
	return nil
}

func (p *Gemini) closeBlocks(st *geminiStreamState, emit pipeline.EmitFunc) error {
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
	if st.imageOpen {
		st.imageOpen = false
		return emit(chunk.NewImageComplete())
	}
	return nil
}

func (p *Gemini) DecodeResponse(body []byte, emit pipeline.EmitFunc) error {
	var frame geminiFrame
	if err := json.Unmarshal(body, &frame); err != nil {
		return fmt.Errorf("decoding %s response: %w", p.name, err)
	}

	var st geminiStreamState
	if err := p.applyFrame(&st, &frame, emit, false); err != nil {
		return err
	}
	if !st.started {
		return fmt.Errorf("%s response had no candidates", p.name)
	}

	if err := p.closeBlocks(&st, emit); err != nil {
		return err
	}
	if len(st.citations) > 0 {
		if err := emit(chunk.NewWebSearchComplete(st.citations)); err != nil {
			return err
		}
	}
	return emit(chunk.NewResponseComplete(st.model, st.usage))
}
