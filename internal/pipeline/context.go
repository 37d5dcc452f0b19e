package pipeline

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/Davincible/omnillm/internal/chunk"
	"github.com/Davincible/omnillm/internal/tools"
)

// ToolMode selects how tool schemas reach the model.
type ToolMode string

const (
	// ToolModeAuto lets the transform interceptor decide: native unless the
	// tool count exceeds the configured threshold.
	ToolModeAuto ToolMode = ""
	// ToolModeNative sends schemas through the provider's function-calling API.
	ToolModeNative ToolMode = "native"
	// ToolModePrompt injects schemas into the system prompt and extracts
	// calls from the output text.
	ToolModePrompt ToolMode = "prompt"
)

// Params is the provider-neutral request. Adapters read it to build wire
// requests; interceptors mutate it before dispatch.
type Params struct {
	Provider string
	Model    string
	Messages []Message
	System   string

	Tools    []tools.Descriptor
	ToolMode ToolMode

	MaxTokens   int
	Temperature *float64
	Stream      bool
	WebSearch   bool

	// SuppressThrow downgrades terminal errors to error chunks plus a logged
	// warning; Complete then returns the partial result without an error.
	SuppressThrow bool

	// Filled in by the transform interceptor from provider config.
	APIKey  string
	APIBase string
}

// NativeTools returns the schemas to send on the wire, or nil when tool
// handling is prompt-injected (or there are no tools).
func (p *Params) NativeTools() []tools.Descriptor {
	if p.ToolMode != ToolModeNative {
		return nil
	}
	return p.Tools
}

// EmitFunc receives one normalized chunk. Returning an error aborts decoding.
type EmitFunc func(chunk.Chunk) error

// Adapter translates between the neutral request/chunk model and one
// provider's wire format.
type Adapter interface {
	// Name is the provider identifier used in config and model routing.
	Name() string

	// BuildRequest constructs the outgoing HTTP request from the params.
	BuildRequest(ctx context.Context, p *Params) (*http.Request, error)

	// DecodeStream reads a streaming (SSE) response body and emits chunks in
	// arrival order until EOF or emit returns an error.
	DecodeStream(r io.Reader, emit EmitFunc) error

	// DecodeResponse emits chunks for a complete non-streaming response body.
	DecodeResponse(body []byte, emit EmitFunc) error
}

// ToolExchange records one executed tool call and its outcome.
type ToolExchange struct {
	Call   chunk.ToolCall
	Result tools.Result
}

// Result accumulates everything observed across a request, including all
// tool-recursion rounds. On failure the fields hold whatever arrived before
// the error.
type Result struct {
	Model     string
	Text      string
	Reasoning string
	Usage     chunk.Usage
	Exchanges []ToolExchange
	Citations []chunk.Citation

	// Err is the first classified failure, if any.
	Err error
}

// Context carries one request through the interceptor chain. It is not safe
// for concurrent mutation; the chain processes a request on one goroutine and
// only tool execution fans out.
type Context struct {
	Params  *Params
	Adapter Adapter

	HTTPClient *http.Client
	Logger     *slog.Logger

	// Sink receives every chunk. Interceptors transform the stream by
	// wrapping Sink before calling next and restoring it after.
	Sink EmitFunc

	Result *Result

	// Executor resolves and runs tool calls during recursion; nil disables
	// tool rounds.
	Executor tools.Executor

	// Depth counts completed tool rounds; MaxDepth bounds model invocations.
	Depth       int
	MaxDepth    int
	IsRecursive bool

	// PromptToolThreshold is the tool count above which auto mode switches
	// from native to prompt injection.
	PromptToolThreshold int

	pendingCalls []chunk.ToolCall
}

// Emit forwards a chunk to the current sink. Nil-safe so the chain works
// without a consumer attached.
func (pc *Context) Emit(c chunk.Chunk) error {
	if pc.Sink == nil {
		return nil
	}
	return pc.Sink(c)
}

// AddPendingCall queues an extracted tool call for the recursion interceptor.
func (pc *Context) AddPendingCall(call chunk.ToolCall) {
	pc.pendingCalls = append(pc.pendingCalls, call)
}

// TakePendingCalls drains the queued calls from the round that just finished.
func (pc *Context) TakePendingCalls() []chunk.ToolCall {
	calls := pc.pendingCalls
	pc.pendingCalls = nil
	return calls
}

func (pc *Context) log() *slog.Logger {
	if pc.Logger != nil {
		return pc.Logger
	}
	return slog.Default()
}
