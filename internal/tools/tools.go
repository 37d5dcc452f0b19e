// Package tools defines the tool-call boundary: descriptors the model sees,
// the executor registry the pipeline calls into, and extraction of tool
// invocations from model output (native events or prompt-injected tags).
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Property describes one parameter in a tool's JSON schema.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// Schema is the JSON schema for a tool's arguments object.
type Schema struct {
	Type       string              `json:"type"` // always "object"
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Descriptor describes one tool offered to the model.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  Schema `json:"parameters"`
}

// Block is one piece of tool-result content.
type Block struct {
	Type string `json:"type"` // currently only "text"
	Text string `json:"text,omitempty"`
}

// Result is what a tool execution returns. IsError marks a failed execution;
// the error text lives in Content so it can be fed back to the model.
type Result struct {
	Content []Block `json:"content"`
	IsError bool    `json:"is_error,omitempty"`
}

// TextResult builds a single-text-block result.
func TextResult(text string) Result {
	return Result{Content: []Block{{Type: "text", Text: text}}}
}

// Text returns the concatenated text content of the result.
func (r Result) Text() string {
	var out string
	for _, b := range r.Content {
		out += b.Text
	}
	return out
}

// ErrorResult builds a result that marks the execution as failed.
func ErrorResult(text string) Result {
	return Result{Content: []Block{{Type: "text", Text: text}}, IsError: true}
}

// Handler executes one tool call. The context is the request's context;
// handlers must abort promptly when it is cancelled.
type Handler func(ctx context.Context, args map[string]any) (Result, error)

// Executor resolves tool names and runs calls. The pipeline only depends on
// this interface; the actual capability may be a local function, a
// subprocess, or a remote call.
type Executor interface {
	// Lookup reports whether a tool with the given name is registered.
	Lookup(name string) (Descriptor, bool)

	// Execute runs the named tool. Execution failures are folded into the
	// returned Result as error content; Execute itself only errors when the
	// tool is unknown.
	Execute(ctx context.Context, name string, args map[string]any) (Result, error)
}

// Registry is the default Executor: an in-process table of handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	specs    map[string]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		specs:    make(map[string]Descriptor),
	}
}

// Register adds a tool. Registering the same name twice panics: duplicate
// tool names are a programming error, not a runtime condition.
func (r *Registry) Register(spec Descriptor, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[spec.Name]; ok {
		panic(fmt.Errorf("tools: %q already registered", spec.Name))
	}

	r.handlers[spec.Name] = h
	r.specs[spec.Name] = spec
}

func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.specs[name]
	return spec, ok
}

// Descriptors returns all registered tools, sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Descriptor, 0, len(r.specs))
	for _, spec := range r.specs {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (Result, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		return Result{}, fmt.Errorf("tools: %q not found", name)
	}

	result, err := h(ctx, args)
	if err != nil {
		return ErrorResult(fmt.Sprintf("error calling tool %s: %v", name, err)), nil
	}
	return result, nil
}
