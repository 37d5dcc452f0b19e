package pipeline

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/Davincible/omnillm/internal/chunk"
	"github.com/Davincible/omnillm/internal/llmerr"
)

// maxErrorBody caps how much of an upstream error response we read back.
const maxErrorBody = 64 << 10

// Dispatch is the final handler: it sends the wire request built by the
// adapter and feeds the response body back through the adapter's decoder.
// Every decoded chunk is validated before it reaches the sink; a malformed
// chunk is converted to an error chunk rather than forwarded under a kind its
// payload does not support.
func Dispatch() Handler {
	return func(ctx context.Context, pc *Context) error {
		req, err := pc.Adapter.BuildRequest(ctx, pc.Params)
		if err != nil {
			return fmt.Errorf("building %s request: %w", pc.Adapter.Name(), err)
		}

		client := pc.HTTPClient
		if client == nil {
			client = http.DefaultClient
		}

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return llmerr.FromStatus(resp.StatusCode, string(body))
		}

		reader, err := decompressed(resp)
		if err != nil {
			return err
		}

		emit := func(c chunk.Chunk) error {
			if verr := c.Validate(); verr != nil {
				pc.log().Warn("malformed chunk from adapter",
					"provider", pc.Adapter.Name(), "kind", c.Kind, "error", verr)
				c = chunk.NewError(llmerr.New(llmerr.Unknown, verr))
			}
			return pc.Emit(c)
		}

		if pc.Params.Stream && isEventStream(resp) {
			return pc.Adapter.DecodeStream(reader, emit)
		}

		body, err := io.ReadAll(reader)
		if err != nil {
			return err
		}
		return pc.Adapter.DecodeResponse(body, emit)
	}
}

// decompressed unwraps the response body according to Content-Encoding.
// net/http only handles gzip transparently when it negotiated it itself.
func decompressed(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

func isEventStream(resp *http.Response) bool {
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream")
}
