// Package relay is the orchestration entry point: it resolves the provider
// for a request, assembles the interceptor chain, and runs the request to
// completion, including tool-call recursion rounds.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Davincible/omnillm/internal/chunk"
	"github.com/Davincible/omnillm/internal/config"
	"github.com/Davincible/omnillm/internal/pipeline"
	"github.com/Davincible/omnillm/internal/providers"
	"github.com/Davincible/omnillm/internal/registry"
	"github.com/Davincible/omnillm/internal/tools"
)

// Request describes one completion. Model is "provider,model"; a bare model
// name falls back to the configured default routing.
type Request struct {
	ID    string // optional; assigned when empty
	Model string

	Messages []pipeline.Message
	System   string

	Tools    []tools.Descriptor
	ToolMode pipeline.ToolMode
	Executor tools.Executor

	MaxTokens   int
	Temperature *float64
	Stream      bool
	WebSearch   bool

	// SuppressThrow turns terminal failures into a populated Response.Err
	// instead of a returned error.
	SuppressThrow bool

	// Timeout overrides the configured request timeout when positive.
	Timeout time.Duration

	// OnChunk observes every normalized chunk as it arrives.
	OnChunk func(chunk.Chunk)
}

// Response is the accumulated outcome of a request. On cancellation or a
// suppressed failure it holds everything received up to that point and Err
// carries the classified cause.
type Response struct {
	ID        string
	Model     string
	Text      string
	Reasoning string
	Usage     chunk.Usage
	Exchanges []pipeline.ToolExchange
	Citations []chunk.Citation
	Err       error
}

// Client runs completions against configured providers.
type Client struct {
	cfg      *config.Manager
	adapters *providers.Registry
	requests *registry.Registry
	http     *http.Client
	logger   *slog.Logger
}

func New(cfg *config.Manager, logger *slog.Logger) *Client {
	adapters := providers.NewRegistry()
	adapters.Initialize(logger)

	return &Client{
		cfg:      cfg,
		adapters: adapters,
		requests: registry.New(),
		http:     &http.Client{},
		logger:   logger,
	}
}

// RegisterAdapter adds a custom adapter alongside the built-ins.
func (c *Client) RegisterAdapter(a pipeline.Adapter) {
	c.adapters.Register(a)
}

// Cancel aborts the in-flight request with the given id.
func (c *Client) Cancel(id string) bool {
	return c.requests.Cancel(id)
}

// Providers lists the registered adapter names.
func (c *Client) Providers() []string {
	return c.adapters.List()
}

// Complete runs one request through the pipeline and blocks until the stream
// (and any tool recursion) finishes. Cancellation is not an error: the
// partial response is returned with Err set.
func (c *Client) Complete(ctx context.Context, req *Request) (*Response, error) {
	cfg := c.cfg.Get()

	providerName, model, err := resolveModel(req.Model, cfg)
	if err != nil {
		return nil, err
	}

	adapter, ok := c.adapters.Get(providerName)
	if !ok {
		return nil, fmt.Errorf("relay: no adapter for provider %q", providerName)
	}

	var apiKey, apiBase string
	if entry, found := cfg.FindProvider(providerName); found {
		apiKey = entry.APIKey
		apiBase = entry.APIBase
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = time.Duration(cfg.Pipeline.RequestTimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	c.requests.Add(id, cancel)
	defer c.requests.Remove(id)

	params := &pipeline.Params{
		Provider:      providerName,
		Model:         model,
		Messages:      req.Messages,
		System:        req.System,
		Tools:         req.Tools,
		ToolMode:      req.ToolMode,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		Stream:        req.Stream,
		WebSearch:     req.WebSearch,
		SuppressThrow: req.SuppressThrow,
	}

	result := &pipeline.Result{}
	pc := &pipeline.Context{
		Params:              params,
		Adapter:             adapter,
		HTTPClient:          c.http,
		Logger:              c.logger.With("request_id", id, "provider", providerName),
		Result:              result,
		Executor:            req.Executor,
		MaxDepth:            cfg.Pipeline.MaxToolDepth,
		PromptToolThreshold: cfg.Pipeline.PromptToolThreshold,
	}
	if req.OnChunk != nil {
		onChunk := req.OnChunk
		pc.Sink = func(c chunk.Chunk) error {
			onChunk(c)
			return nil
		}
	}

	handler := pipeline.Compose(pipeline.Dispatch(),
		pipeline.Classifier(),
		pipeline.Cancellation(),
		pipeline.NewTransform(apiKey, apiBase),
		pipeline.Accumulator(),
		pipeline.ToolExtraction(),
		pipeline.ToolRounds(),
	)

	runErr := handler(ctx, pc)

	resp := &Response{
		ID:        id,
		Model:     result.Model,
		Text:      result.Text,
		Reasoning: result.Reasoning,
		Usage:     result.Usage,
		Exchanges: result.Exchanges,
		Citations: result.Citations,
		Err:       result.Err,
	}
	if resp.Model == "" {
		resp.Model = model
	}
	return resp, runErr
}

// resolveModel splits "provider,model". A bare model name resolves through
// the provider model lists, then the configured default model.
func resolveModel(spec string, cfg *config.Config) (string, string, error) {
	if spec == "" {
		spec = cfg.DefaultModel
	}
	if spec == "" {
		return "", "", fmt.Errorf("relay: no model requested and no default configured")
	}

	if provider, model, ok := strings.Cut(spec, ","); ok {
		return strings.TrimSpace(provider), strings.TrimSpace(model), nil
	}

	for _, p := range cfg.Providers {
		for _, m := range p.Models {
			if m == spec {
				return p.Name, spec, nil
			}
		}
	}
	return "", "", fmt.Errorf("relay: cannot resolve provider for model %q", spec)
}
