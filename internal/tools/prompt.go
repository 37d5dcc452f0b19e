package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// InjectionPrompt serializes tool schemas into a system-prompt section for
// providers (or requests) that do not use native function calling. The model
// is instructed to answer with a tool_use tag, which the Scanner extracts
// from the output stream.
func InjectionPrompt(specs []Descriptor) string {
	if len(specs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("You have access to the following tools. To call a tool, emit exactly one block of the form:\n\n")
	b.WriteString("<tool_use><name>TOOL_NAME</name><arguments>{\"param\": \"value\"}</arguments></tool_use>\n\n")
	b.WriteString("The arguments must be a JSON object matching the tool's parameter schema. ")
	b.WriteString("Do not describe the call in prose; emit the block and stop. ")
	b.WriteString("After the tool result is returned to you, continue the conversation.\n\nTools:\n")

	for _, spec := range specs {
		schema, err := json.Marshal(spec.Parameters)
		if err != nil {
			schema = []byte("{}")
		}
		fmt.Fprintf(&b, "- %s: %s\n  parameters: %s\n", spec.Name, spec.Description, schema)
	}

	return b.String()
}
