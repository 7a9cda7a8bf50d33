package groutine

import (
	"context"
	"fmt"
	"runtime/pprof"
	"sync"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts a goroutine labelled with name for pprof, optional parent context.
// Example usage:
//
//	groutine.Go(ctx, "endpoint-imu", func(ctx context.Context) {
//	    // work
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
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

// Group starts named goroutines and waits for all of them to return.
// A panic inside a goroutine is recovered and passed to OnPanic.
type Group struct {
	OnPanic func(name string, err error)

	wg sync.WaitGroup
}

// Go starts fn as a named goroutine tracked by the group.
func (g *Group) Go(ctx context.Context, name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	Go(ctx, name, func(ctx context.Context) {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil && g.OnPanic != nil {
				g.OnPanic(name, fmt.Errorf("panic in %s: %v", name, r))
			}
		}()
		fn(ctx)
	})
}

// Wait blocks until every goroutine started by the group has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}
