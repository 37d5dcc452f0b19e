package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Davincible/omnillm/internal/chunk"
	"github.com/Davincible/omnillm/internal/llmerr"
	"github.com/Davincible/omnillm/internal/tools"
)

// ToolExtraction wraps the sink to collect tool calls from the stream. In
// native mode it folds the tool_call.* lifecycle events into complete calls;
// in prompt mode it scans the text stream for injected tags, strips them, and
// synthesizes tool_call.complete events for downstream consumers. Either way
// the completed calls land in the context's pending queue for ToolRounds.
func ToolExtraction() Interceptor {
	return func(ctx context.Context, pc *Context, next Handler) error {
		if len(pc.Params.Tools) == 0 {
			return next(ctx, pc)
		}

		downstream := pc.Sink
		defer func() { pc.Sink = downstream }()

		if pc.Params.ToolMode == ToolModePrompt {
			pc.Sink = promptExtractionSink(pc, downstream)
		} else {
			pc.Sink = nativeExtractionSink(pc, downstream)
		}
		return next(ctx, pc)
	}
}

// nativeExtractionSink tracks the pending → in_progress → complete lifecycle
// of provider-native tool calls, accumulating argument fragments per call id.
func nativeExtractionSink(pc *Context, downstream EmitFunc) EmitFunc {
	records := make(map[string]*chunk.ToolCall)

	return func(c chunk.Chunk) error {
		switch c.Kind {
		case chunk.KindToolCallPending:
			tc := *c.ToolCall
			records[tc.ID] = &tc

		case chunk.KindToolCallInProgress:
			rec, ok := records[c.ToolCall.ID]
			if !ok {
				tc := *c.ToolCall
				tc.Arguments = ""
				rec = &tc
				records[c.ToolCall.ID] = rec
			}
			if c.ToolCall.Name != "" {
				rec.Name = c.ToolCall.Name
			}
			rec.Arguments += c.ToolCall.Arguments

		case chunk.KindToolCallComplete:
			call := *c.ToolCall
			if rec, ok := records[call.ID]; ok {
				if call.Name == "" {
					call.Name = rec.Name
				}
				if call.Arguments == "" {
					call.Arguments = rec.Arguments
				}
				delete(records, call.ID)
			}
			if call.Args == nil {
				call.Args = tools.ParseArguments(call.Arguments)
			}
			pc.AddPendingCall(call)
		}

		if downstream == nil {
			return nil
		}
		return downstream(c)
	}
}

// promptExtractionSink runs the tag scanner over the text stream. Stripped
// output is re-emitted in the same delta shape the adapter used: incremental
// deltas stay incremental, cumulative deltas stay cumulative.
func promptExtractionSink(pc *Context, downstream EmitFunc) EmitFunc {
	var scanner tools.Scanner
	var seen string     // raw cumulative text observed so far
	var stripped string // cumulative text after tag removal
	cumulative := false

	emit := func(c chunk.Chunk) error {
		if downstream == nil {
			return nil
		}
		return downstream(c)
	}

	emitForward := func(forward string) error {
		if forward == "" {
			return nil
		}
		if cumulative {
			stripped += forward
			return emit(chunk.NewCumulativeTextDelta(stripped))
		}
		return emit(chunk.NewTextDelta(forward))
	}

	emitCalls := func(calls []tools.ScannedCall) error {
		for _, sc := range calls {
			call := chunk.ToolCall{
				ID:   "call_" + uuid.NewString(),
				Name: sc.Name,
				Args: sc.Args,
			}
			pc.AddPendingCall(call)
			if err := emit(chunk.Chunk{Kind: chunk.KindToolCallComplete, ToolCall: &call}); err != nil {
				return err
			}
		}
		return nil
	}

	flush := func() error {
		return emitForward(scanner.Flush())
	}

	return func(c chunk.Chunk) error {
		switch c.Kind {
		case chunk.KindTextDelta:
			delta := c.Delta
			if c.Cumulative {
				cumulative = true
				if strings.HasPrefix(c.Delta, seen) {
					delta = c.Delta[len(seen):]
				}
				seen = c.Delta
			}
			forward, calls := scanner.Feed(delta)
			if err := emitForward(forward); err != nil {
				return err
			}
			return emitCalls(calls)

		case chunk.KindTextComplete, chunk.KindResponseComplete:
			if err := flush(); err != nil {
				return err
			}
			// Cumulative tracking is per text block; the next block (or
			// recursion round) starts from scratch.
			seen, stripped = "", ""
			return emit(c)

		default:
			return emit(c)
		}
	}
}

// ToolRounds drives tool-call recursion as an explicit loop: invoke the
// model, execute any extracted calls, fold the results into the conversation,
// and go again until there are no calls left or the depth limit is hit.
func ToolRounds() Interceptor {
	return func(ctx context.Context, pc *Context, next Handler) error {
		for {
			if err := next(ctx, pc); err != nil {
				return err
			}

			calls := pc.TakePendingCalls()
			if pc.Executor == nil || len(calls) == 0 {
				return nil
			}

			known := calls[:0]
			for _, call := range calls {
				if _, ok := pc.Executor.Lookup(call.Name); !ok {
					pc.log().Warn("model requested unknown tool", "tool", call.Name)
					continue
				}
				known = append(known, call)
			}
			if len(known) == 0 {
				return nil
			}

			exchanges := executeCalls(ctx, pc, known)
			pc.Result.Exchanges = append(pc.Result.Exchanges, exchanges...)
			appendToolRound(pc.Params, exchanges)

			pc.Depth++
			pc.IsRecursive = true
			if pc.Depth >= pc.MaxDepth {
				pc.log().Warn("tool recursion depth limit reached", "depth", pc.Depth)
				return nil
			}
			if ctx.Err() != nil {
				return llmerr.New(llmerr.Cancelled, ctx.Err())
			}
		}
	}
}

// executeCalls runs all calls of one round concurrently. A failing tool is
// isolated: its error becomes an error result fed back to the model, and the
// other calls are unaffected.
func executeCalls(ctx context.Context, pc *Context, calls []chunk.ToolCall) []ToolExchange {
	exchanges := make([]ToolExchange, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call chunk.ToolCall) {
			defer wg.Done()

			args := call.Args
			if args == nil {
				args = tools.ParseArguments(call.Arguments)
			}

			result, err := pc.Executor.Execute(ctx, call.Name, args)
			if err != nil {
				result = tools.ErrorResult(err.Error())
			}
			exchanges[i] = ToolExchange{Call: call, Result: result}
		}(i, call)
	}
	wg.Wait()

	return exchanges
}

// appendToolRound rehydrates the conversation: one assistant turn carrying
// the tool_use blocks, then one tool turn per result.
func appendToolRound(p *Params, exchanges []ToolExchange) {
	assistant := Message{Role: "assistant"}
	for _, ex := range exchanges {
		assistant.Blocks = append(assistant.Blocks, ContentBlock{
			Type:      "tool_use",
			ToolID:    ex.Call.ID,
			ToolName:  ex.Call.Name,
			ToolInput: ex.Call.Args,
		})
	}
	p.Messages = append(p.Messages, assistant)

	for _, ex := range exchanges {
		p.Messages = append(p.Messages, Message{
			Role: "tool",
			Blocks: []ContentBlock{{
				Type:       "tool_result",
				ToolID:     ex.Call.ID,
				ToolName:   ex.Call.Name,
				ToolOutput: ex.Result.Text(),
				IsError:    ex.Result.IsError,
			}},
		})
	}
}
