// Package groutine starts named goroutines. Names show up as pprof labels and can be
// read back from the context, which makes goroutine dumps of the long-lived
// stream tasks readable.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn in a goroutine labelled with name.
// If parentCtx is nil, context.Background() is used.
//
//	groutine.Go(ctx, "glm-supervisor", func(ctx context.Context) {
//	    // work
//	})
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	_ = Start(parentCtx, name, fn)
}

// Start is Go with a completion channel, closed after fn returns.
func Start(parentCtx context.Context, name string, fn func(ctx context.Context)) <-chan struct{} {
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
	if v, ok := ctx.Value(goroutineNameKey).(string); ok {
		return v
	}
	return ""
}
