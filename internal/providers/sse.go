package providers

import (
	"bufio"
	"io"
	"strings"
)

// maxEventSize bounds a single SSE line; argument JSON and base64 image
// fragments can get large.
const maxEventSize = 10 << 20

// scanEvents reads a server-sent-event stream and invokes fn once per event
// with the event name (empty when the stream does not use event: lines) and
// the joined data payload. Comment lines are skipped. A final event without a
// trailing blank line is still delivered.
func scanEvents(r io.Reader, fn func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxEventSize)

	var event string
	var data []string

	flush := func() error {
		if len(data) == 0 {
			event = ""
			return nil
		}
		payload := strings.Join(data, "\n")
		name := event
		event, data = "", nil
		return fn(name, payload)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}
