// Package chunk defines the unified streaming event vocabulary shared by all
// provider adapters and pipeline interceptors. Every raw wire format is
// normalized into an ordered sequence of Chunks; downstream consumers switch
// on Kind and never see provider-specific shapes.
package chunk

import "fmt"

// Kind identifies one event type in the closed streaming vocabulary.
// Adding a new Kind is the only way to add new stream capabilities.
type Kind int

const (
	KindUnknown Kind = iota

	// Response lifecycle
	KindResponseCreated
	KindResponseComplete

	// Assistant text
	KindTextStart
	KindTextDelta
	KindTextComplete

	// Reasoning / "thinking" content
	KindReasoningStart
	KindReasoningDelta
	KindReasoningComplete

	// Tool-call lifecycle
	KindToolCallPending
	KindToolCallInProgress
	KindToolCallComplete

	// Image generation
	KindImageCreated
	KindImageDelta
	KindImageComplete

	// Web search / citations
	KindWebSearchInProgress
	KindWebSearchComplete

	KindError
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindResponseCreated:     "response.created",
	KindResponseComplete:    "response.complete",
	KindTextStart:           "text.start",
	KindTextDelta:           "text.delta",
	KindTextComplete:        "text.complete",
	KindReasoningStart:      "reasoning.start",
	KindReasoningDelta:      "reasoning.delta",
	KindReasoningComplete:   "reasoning.complete",
	KindToolCallPending:     "tool_call.pending",
	KindToolCallInProgress:  "tool_call.in_progress",
	KindToolCallComplete:    "tool_call.complete",
	KindImageCreated:        "image.created",
	KindImageDelta:          "image.delta",
	KindImageComplete:       "image.complete",
	KindWebSearchInProgress: "web_search.in_progress",
	KindWebSearchComplete:   "web_search.complete",
	KindError:               "error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Usage holds token counters for one response. Counters are cumulative across
// tool-call recursion rounds of a single top-level request.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add folds another usage block into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// ToolCall carries the tool-call payload for the tool_call.* kinds. Arguments
// holds the raw argument JSON accumulated so far; Args holds the parsed object
// once the call is complete.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments string         `json:"arguments,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
}

// Citation is a single web-search result reference.
type Citation struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// Image carries image payload fragments for the image.* kinds.
type Image struct {
	MediaType string `json:"media_type,omitempty"`
	Base64    string `json:"base64,omitempty"`
}

// Chunk is one typed event in a provider response stream. The Kind tag
// selects which payload fields are meaningful; all other fields are zero.
// Chunks are immutable value objects: adapters construct them through the
// New* helpers and nothing downstream mutates them.
type Chunk struct {
	Kind Kind

	// Delta holds the text fragment for text.delta and reasoning.delta.
	// Adapters for cumulative-wire providers put the full accumulated string
	// here instead of an increment and set Cumulative; consumers must honor
	// the flag rather than assume either shape.
	Delta      string
	Cumulative bool

	Model     string
	Usage     *Usage
	ToolCall  *ToolCall
	Image     *Image
	Citations []Citation
	Err       error
}

func NewResponseCreated(model string) Chunk {
	return Chunk{Kind: KindResponseCreated, Model: model}
}

func NewResponseComplete(model string, usage Usage) Chunk {
	return Chunk{Kind: KindResponseComplete, Model: model, Usage: &usage}
}

func NewTextStart() Chunk    { return Chunk{Kind: KindTextStart} }
func NewTextComplete() Chunk { return Chunk{Kind: KindTextComplete} }

func NewTextDelta(delta string) Chunk {
	return Chunk{Kind: KindTextDelta, Delta: delta}
}

// NewCumulativeTextDelta carries the full text accumulated so far rather
// than an increment. Used by adapters whose wire format re-sends the whole
// string on every frame.
func NewCumulativeTextDelta(accumulated string) Chunk {
	return Chunk{Kind: KindTextDelta, Delta: accumulated, Cumulative: true}
}

func NewReasoningStart() Chunk    { return Chunk{Kind: KindReasoningStart} }
func NewReasoningComplete() Chunk { return Chunk{Kind: KindReasoningComplete} }

func NewReasoningDelta(delta string) Chunk {
	return Chunk{Kind: KindReasoningDelta, Delta: delta}
}

// NewCumulativeReasoningDelta is the reasoning counterpart of
// NewCumulativeTextDelta.
func NewCumulativeReasoningDelta(accumulated string) Chunk {
	return Chunk{Kind: KindReasoningDelta, Delta: accumulated, Cumulative: true}
}

func NewToolCallPending(id, name string) Chunk {
	return Chunk{Kind: KindToolCallPending, ToolCall: &ToolCall{ID: id, Name: name}}
}

func NewToolCallInProgress(id, name, arguments string) Chunk {
	return Chunk{Kind: KindToolCallInProgress, ToolCall: &ToolCall{ID: id, Name: name, Arguments: arguments}}
}

func NewToolCallComplete(id, name, arguments string, args map[string]any) Chunk {
	return Chunk{Kind: KindToolCallComplete, ToolCall: &ToolCall{ID: id, Name: name, Arguments: arguments, Args: args}}
}

func NewImageCreated(mediaType string) Chunk {
	return Chunk{Kind: KindImageCreated, Image: &Image{MediaType: mediaType}}
}

func NewImageDelta(mediaType, base64Data string) Chunk {
	return Chunk{Kind: KindImageDelta, Image: &Image{MediaType: mediaType, Base64: base64Data}}
}

func NewImageComplete() Chunk { return Chunk{Kind: KindImageComplete} }

func NewWebSearchInProgress() Chunk { return Chunk{Kind: KindWebSearchInProgress} }

func NewWebSearchComplete(citations []Citation) Chunk {
	return Chunk{Kind: KindWebSearchComplete, Citations: citations}
}

func NewError(err error) Chunk { return Chunk{Kind: KindError, Err: err} }

// Validate reports whether the chunk's populated fields match its declared
// kind. Malformed chunks must never be forwarded under a different kind; the
// dispatcher converts them to error chunks instead.
func (c Chunk) Validate() error {
	switch c.Kind {
	case KindTextDelta, KindReasoningDelta:
		// empty deltas are legal, nothing to check
	case KindResponseComplete:
		if c.Usage == nil {
			return fmt.Errorf("chunk %s missing usage", c.Kind)
		}
	case KindToolCallPending, KindToolCallInProgress, KindToolCallComplete:
		if c.ToolCall == nil {
			return fmt.Errorf("chunk %s missing tool call", c.Kind)
		}
		if c.ToolCall.Name == "" && c.ToolCall.ID == "" {
			return fmt.Errorf("chunk %s has neither id nor name", c.Kind)
		}
	case KindImageDelta:
		if c.Image == nil {
			return fmt.Errorf("chunk %s missing image payload", c.Kind)
		}
	case KindError:
		if c.Err == nil {
			return fmt.Errorf("chunk %s missing error", c.Kind)
		}
	case KindUnknown:
		return fmt.Errorf("chunk has unknown kind")
	}
	return nil
}
