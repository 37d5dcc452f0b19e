// Package pipeline implements the request processing chain: a stack of
// interceptors composed around a final dispatch handler. Each interceptor can
// mutate the outgoing request, wrap the chunk sink to transform the response
// stream, and inspect or convert errors on the way back out.
package pipeline

import "context"

// Handler processes one request carried by the pipeline Context.
type Handler func(ctx context.Context, pc *Context) error

// Interceptor wraps a Handler. It may run code before and after next, skip
// next entirely (short-circuit), or call it repeatedly (tool recursion).
type Interceptor func(ctx context.Context, pc *Context, next Handler) error

// Compose folds interceptors around final. The first interceptor is the
// outermost: it sees the request first and the error last.
func Compose(final Handler, interceptors ...Interceptor) Handler {
	h := final
	for i := len(interceptors) - 1; i >= 0; i-- {
		ic := interceptors[i]
		next := h
		h = func(ctx context.Context, pc *Context) error {
			return ic(ctx, pc, next)
		}
	}
	return h
}
