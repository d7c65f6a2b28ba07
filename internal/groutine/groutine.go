// Package groutine starts named goroutines. The name is attached as a pprof
// label and stored in the context so logs and profiles can tell loops apart.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn in a goroutine labelled name and returns a channel closed when fn returns.
// Example usage:
//
//	done := groutine.Go(ctx, "uart-loop", func(ctx context.Context) {
//	    // work
//	})
//	<-done
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) <-chan struct{} {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	done := make(chan struct{})
	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		defer close(done)
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
	return done
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
