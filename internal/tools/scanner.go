package tools

import (
	"encoding/json"
	"strings"
)

// ScannedCall is one tool invocation extracted from prompt-injected output.
type ScannedCall struct {
	Name string
	Args map[string]any

	// Raw is the full tag text that was stripped from the forwarded stream.
	Raw string
}

// tag dialects the model may emit when tool schemas are injected into the
// system prompt. The open tag may carry attributes (function_call does).
// tool_name is the bare dialect: the tag holds only the name and an optional
// <arguments> tag follows the close.
var dialects = []string{"tool_use", "tool_call", "function_call", "tool_name"}

// Scanner incrementally extracts tool-call tags from streamed text. Text
// arrives in arbitrary fragments; the scanner forwards everything that is
// not part of a recognized tag, in emission order, and holds back an
// unterminated trailing tag fragment instead of leaking partial tag text.
//
// The scan is a single pass over each fed fragment plus the held-back tail,
// so total cost stays linear in output size.
type Scanner struct {
	pending string
}

// Feed consumes the next text fragment and returns the text safe to forward
// plus any tool calls completed within this fragment.
func (s *Scanner) Feed(delta string) (string, []ScannedCall) {
	s.pending += delta

	var out strings.Builder
	var calls []ScannedCall

	for {
		i := strings.IndexByte(s.pending, '<')
		if i < 0 {
			out.WriteString(s.pending)
			s.pending = ""
			break
		}

		out.WriteString(s.pending[:i])
		s.pending = s.pending[i:]

		name, openLen, state := matchOpenTag(s.pending)
		if state == scanNoMatch {
			out.WriteByte('<')
			s.pending = s.pending[1:]
			continue
		}
		if state == scanPartial {
			// Could still become a known open tag; wait for more input.
			break
		}

		closeTag := "</" + name + ">"
		j := strings.Index(s.pending, closeTag)
		if j < 0 {
			// Open tag seen but not yet terminated; hold the whole tail.
			break
		}

		end := j + len(closeTag)
		inner := s.pending[openLen:j]
		attrs := s.pending[len("<"+name) : openLen-1]

		if name == "tool_name" {
			// The bare dialect: arguments arrive in a sibling tag after the
			// close, so we may need more input before deciding.
			argsText, consumed, argState := matchArgumentsSuffix(s.pending[end:])
			if argState == scanPartial {
				break
			}
			raw := s.pending[:end+consumed]
			s.pending = s.pending[end+consumed:]
			calls = append(calls, ScannedCall{
				Name: strings.TrimSpace(inner),
				Args: ParseArguments(argsText),
				Raw:  raw,
			})
			continue
		}

		raw := s.pending[:end]
		s.pending = s.pending[end:]

		if call, ok := parseTagBody(name, attrs, inner); ok {
			call.Raw = raw
			calls = append(calls, call)
		} else {
			// Recognized dialect but no usable call inside; forward the text
			// verbatim rather than silently dropping model output.
			out.WriteString(raw)
		}
	}

	return out.String(), calls
}

// Flush returns any held-back text. Called at end of stream: a tag that
// never terminated is forwarded as ordinary text at that point.
func (s *Scanner) Flush() string {
	rest := s.pending
	s.pending = ""
	return rest
}

type scanState int

const (
	scanNoMatch scanState = iota
	scanPartial
	scanOpen
)

// matchOpenTag inspects p (which starts with '<') for a known dialect open
// tag. On scanOpen it returns the dialect name and the open tag's length
// including the closing '>'.
func matchOpenTag(p string) (string, int, scanState) {
	if len(p) >= 2 && p[1] == '/' {
		return "", 0, scanNoMatch
	}

	partial := false

	for _, name := range dialects {
		open := "<" + name
		if len(p) < len(open) {
			if strings.HasPrefix(open, p) {
				partial = true
			}
			continue
		}
		if !strings.HasPrefix(p, open) {
			continue
		}

		switch p[len(open)] {
		case '>':
			return name, len(open) + 1, scanOpen
		case ' ', '\t', '\n':
			// Attributes follow; the open tag runs to the next '>'.
			end := strings.IndexByte(p[len(open):], '>')
			if end < 0 {
				partial = true
				continue
			}
			return name, len(open) + end + 1, scanOpen
		default:
			// Something like <tool_used>: a different tag.
			continue
		}
	}

	if partial {
		return "", 0, scanPartial
	}
	return "", 0, scanNoMatch
}

// matchArgumentsSuffix checks whether rest begins (after whitespace) with a
// complete <arguments>…</arguments> tag. consumed covers the whitespace and
// the tag when matched.
func matchArgumentsSuffix(rest string) (string, int, scanState) {
	const open, closing = "<arguments>", "</arguments>"

	ws := len(rest) - len(strings.TrimLeft(rest, " \t\n"))
	r := rest[ws:]

	if len(r) < len(open) {
		if r == "" || strings.HasPrefix(open, r) {
			return "", 0, scanPartial
		}
		return "", 0, scanNoMatch
	}
	if !strings.HasPrefix(r, open) {
		return "", 0, scanNoMatch
	}

	j := strings.Index(r, closing)
	if j < 0 {
		return "", 0, scanPartial
	}
	return strings.TrimSpace(r[len(open):j]), ws + j + len(closing), scanOpen
}

// parseTagBody extracts the tool name and arguments from a matched tag.
func parseTagBody(dialect, attrs, inner string) (ScannedCall, bool) {
	var call ScannedCall

	if dialect == "function_call" {
		call.Name = attrValue(attrs, "name")
		if call.Name != "" {
			call.Args = ParseArguments(inner)
			return call, true
		}
	}

	call.Name = subTag(inner, "name", "tool_name", "function")
	if argsText, ok := subTagOK(inner, "arguments", "parameters", "args", "input"); ok {
		call.Args = ParseArguments(argsText)
	} else {
		call.Args = map[string]any{}
	}

	if call.Name == "" {
		// Last resort: the body itself may be a JSON call object.
		var obj struct {
			Name string         `json:"name"`
			Args map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(inner)), &obj); err == nil && obj.Name != "" {
			call.Name = obj.Name
			if obj.Args != nil {
				call.Args = obj.Args
			}
		}
	}

	return call, call.Name != ""
}

func attrValue(attrs, key string) string {
	marker := key + `="`
	i := strings.Index(attrs, marker)
	if i < 0 {
		return ""
	}
	rest := attrs[i+len(marker):]
	j := strings.IndexByte(rest, '"')
	if j < 0 {
		return ""
	}
	return rest[:j]
}

func subTag(body string, names ...string) string {
	v, _ := subTagOK(body, names...)
	return v
}

func subTagOK(body string, names ...string) (string, bool) {
	for _, name := range names {
		open, closing := "<"+name+">", "</"+name+">"
		i := strings.Index(body, open)
		if i < 0 {
			continue
		}
		rest := body[i+len(open):]
		j := strings.Index(rest, closing)
		if j < 0 {
			continue
		}
		return strings.TrimSpace(rest[:j]), true
	}
	return "", false
}

// ParseArguments parses a tool-argument body. JSON objects win; otherwise
// simple "key: value" lines; otherwise the raw string is wrapped so nothing
// is lost.
func ParseArguments(text string) map[string]any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return map[string]any{}
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err == nil {
		return args
	}

	lines := strings.Split(trimmed, "\n")
	parsed := make(map[string]any)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			parsed = nil
			break
		}
		parsed[strings.TrimSpace(key)] = parseScalar(strings.TrimSpace(value))
	}
	if len(parsed) > 0 {
		return parsed
	}

	return map[string]any{"_raw": trimmed}
}

func parseScalar(v string) any {
	var out any
	if err := json.Unmarshal([]byte(v), &out); err == nil {
		return out
	}
	return v
}
