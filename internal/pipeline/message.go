package pipeline

// Message is one turn of provider-neutral conversation history. Adapters
// translate these into their wire format; the pipeline appends tool-call and
// tool-result turns during recursion rounds.
type Message struct {
	Role   string // "system", "user", "assistant", "tool"
	Blocks []ContentBlock
}

// ContentBlock is a single piece of message content. Type selects which
// fields are populated.
type ContentBlock struct {
	Type string // "text", "tool_use", "tool_result"

	// Text content (type="text")
	Text string

	// Tool use (type="tool_use") - assistant requesting tool execution
	ToolID    string
	ToolName  string
	ToolInput map[string]any

	// Tool result (type="tool_result") - references the tool_use ToolID
	ToolOutput string
	IsError    bool
}

// TextMessage builds a simple single-text-block message.
func TextMessage(role, text string) Message {
	return Message{
		Role:   role,
		Blocks: []ContentBlock{{Type: "text", Text: text}},
	}
}

// Text returns the concatenated text content of the message.
func (m *Message) Text() string {
	var out string
	for _, b := range m.Blocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}
