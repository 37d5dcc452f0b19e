package pipeline

import (
	"context"

	"github.com/pkoukk/tiktoken-go"

	"github.com/Davincible/omnillm/internal/chunk"
	"github.com/Davincible/omnillm/internal/llmerr"
	"github.com/Davincible/omnillm/internal/tools"
)

// Classifier is the outermost interceptor. It classifies any error coming
// back up the chain, records it on the result, and emits it as an error chunk
// so stream consumers see the failure in-band. Cancellation is never
// re-thrown; SuppressThrow downgrades everything else to a warning.
func Classifier() Interceptor {
	return func(ctx context.Context, pc *Context, next Handler) error {
		err := next(ctx, pc)
		if err == nil {
			return nil
		}

		classified := llmerr.Classify(err)
		if pc.Result.Err == nil {
			pc.Result.Err = classified
		}

		if emitErr := pc.Emit(chunk.NewError(classified)); emitErr != nil {
			pc.log().Warn("error chunk rejected by sink", "error", emitErr)
		}

		if classified.Kind == llmerr.Cancelled {
			pc.log().Debug("request cancelled", "provider", pc.Params.Provider)
			return nil
		}
		if pc.Params.SuppressThrow {
			pc.log().Warn("request failed", "kind", classified.Kind, "error", classified)
			return nil
		}
		return classified
	}
}

// Cancellation short-circuits requests whose context is already done, so a
// cancelled request is idempotent: no network call, result unchanged. It also
// absorbs cancellation errors from deeper in the chain.
func Cancellation() Interceptor {
	return func(ctx context.Context, pc *Context, next Handler) error {
		if ctx.Err() != nil {
			pc.log().Debug("skipping dispatch, context already done")
			return nil
		}

		err := next(ctx, pc)
		if err != nil && llmerr.IsCancelled(err) {
			pc.Result.Err = llmerr.Classify(err)
			pc.log().Debug("stream interrupted by cancellation")
			return nil
		}
		return err
	}
}

// NewTransform resolves provider credentials onto the params and settles the
// tool mode. Auto mode picks native function calling unless the tool count
// exceeds the threshold; prompt mode appends the injection block to the
// system prompt exactly once, before the first round.
func NewTransform(apiKey, apiBase string) Interceptor {
	return func(ctx context.Context, pc *Context, next Handler) error {
		p := pc.Params
		if p.APIKey == "" {
			p.APIKey = apiKey
		}
		if p.APIBase == "" {
			p.APIBase = apiBase
		}

		if len(p.Tools) > 0 && p.ToolMode == ToolModeAuto {
			p.ToolMode = ToolModeNative
			if pc.PromptToolThreshold > 0 && len(p.Tools) > pc.PromptToolThreshold {
				p.ToolMode = ToolModePrompt
				pc.log().Debug("switching to prompt-injected tools",
					"count", len(p.Tools), "threshold", pc.PromptToolThreshold)
			}
		}
		if p.ToolMode == ToolModePrompt {
			injection := tools.InjectionPrompt(p.Tools)
			if p.System != "" {
				p.System += "\n\n"
			}
			p.System += injection
		}

		return next(ctx, pc)
	}
}

// Accumulator folds the chunk stream into the Result: text and reasoning
// concatenated across rounds, usage summed, citations and model collected.
// Cumulative deltas replace the current block instead of appending. When the
// provider never reported output tokens, a tokenizer estimate fills the gap.
func Accumulator() Interceptor {
	return func(ctx context.Context, pc *Context, next Handler) error {
		res := pc.Result
		downstream := pc.Sink

		// Text committed before the block currently streaming; cumulative
		// deltas overwrite everything past this point.
		textBase := res.Text
		reasoningBase := res.Reasoning

		pc.Sink = func(c chunk.Chunk) error {
			switch c.Kind {
			case chunk.KindTextStart:
				textBase = res.Text
			case chunk.KindTextDelta:
				if c.Cumulative {
					res.Text = textBase + c.Delta
				} else {
					res.Text += c.Delta
				}
			case chunk.KindReasoningStart:
				reasoningBase = res.Reasoning
			case chunk.KindReasoningDelta:
				if c.Cumulative {
					res.Reasoning = reasoningBase + c.Delta
				} else {
					res.Reasoning += c.Delta
				}
			case chunk.KindResponseComplete:
				if c.Model != "" {
					res.Model = c.Model
				}
				if c.Usage != nil {
					res.Usage.Add(*c.Usage)
				}
				textBase = res.Text
				reasoningBase = res.Reasoning
			case chunk.KindWebSearchComplete:
				res.Citations = append(res.Citations, c.Citations...)
			}
			if downstream == nil {
				return nil
			}
			return downstream(c)
		}
		defer func() { pc.Sink = downstream }()

		err := next(ctx, pc)

		if res.Usage.OutputTokens == 0 && res.Text != "" {
			res.Usage.OutputTokens = estimateTokens(pc.Params.Model, res.Text)
			res.Usage.TotalTokens = res.Usage.InputTokens + res.Usage.OutputTokens
		}
		return err
	}
}

// estimateTokens is the usage fallback for providers that omit token counts.
func estimateTokens(model, text string) int {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Crude chars-per-token heuristic; better than reporting zero.
			return (len(text) + 3) / 4
		}
	}
	return len(enc.Encode(text, nil, nil))
}
