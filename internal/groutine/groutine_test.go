package groutine

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_NamesContext(t *testing.T) {
	names := make(chan string, 1)
	Go(nil, "worker-1", func(ctx context.Context) {
		names <- GetName(ctx)
	})
	assert.Equal(t, "worker-1", <-names)
	assert.Empty(t, GetName(context.Background()))
}

func TestGroup_WaitsAndRecovers(t *testing.T) {
	var ran atomic.Int32
	var panicked atomic.Value

	g := &Group{OnPanic: func(name string, err error) { panicked.Store(err.Error()) }}
	for i := 0; i < 4; i++ {
		g.Go(context.Background(), "ok", func(context.Context) { ran.Add(1) })
	}
	g.Go(context.Background(), "boom", func(context.Context) { panic("bad payload") })
	g.Wait()

	assert.Equal(t, int32(4), ran.Load())
	require.NotNil(t, panicked.Load())
	assert.Equal(t, "panic in boom: bad payload", panicked.Load())
}
