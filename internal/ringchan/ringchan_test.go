package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannel_DropsOldest(t *testing.T) {
	rc := New[int](3)
	for i := 0; i < 10; i++ {
		rc.Send(i)
	}
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{7, 8, 9}, got)

	m := rc.Metrics()
	assert.Equal(t, int64(10), m.Written)
	assert.Equal(t, int64(7), m.Overwritten)
}

func TestRingChannel_SendReportsDrop(t *testing.T) {
	rc := New[string](1)
	assert.False(t, rc.Send("a"))
	assert.True(t, rc.Send("b"))

	v, ok := rc.Receive()
	require.True(t, ok)
	assert.Equal(t, "b", v)
	assert.Equal(t, int64(1), rc.Metrics().Processed)
}

func TestRingChannel_TrySend(t *testing.T) {
	rc := New[int](1)
	assert.True(t, rc.TrySend(1))
	assert.False(t, rc.TrySend(2))
	assert.Equal(t, 1, rc.Len())
	assert.Equal(t, 1, rc.Cap())

	v, ok := rc.TryReceive()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = rc.TryReceive()
	assert.False(t, ok)
}

func TestRingChannel_SendAfterCloseIsCounted(t *testing.T) {
	rc := New[int](2)
	rc.Send(1)
	rc.Close()
	rc.Close()

	assert.NotPanics(t, func() { rc.Send(2) })
	assert.False(t, rc.TrySend(3))
	assert.Equal(t, int64(2), rc.Metrics().Errors)

	v, ok := rc.Receive()
	assert.True(t, ok, "buffered values MUST survive Close")
	assert.Equal(t, 1, v)
	_, ok = rc.Receive()
	assert.False(t, ok)
}

func TestRingChannel_ConcurrentProducersPreserveOrderPerProducer(t *testing.T) {
	const producers, perProducer = 4, 500
	rc := New[[2]int](producers * perProducer)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				rc.Send([2]int{p, i})
			}
		}(p)
	}
	wg.Wait()
	rc.Close()

	last := map[int]int{0: -1, 1: -1, 2: -1, 3: -1}
	count := 0
	for v := range rc.C() {
		require.Greater(t, v[1], last[v[0]], "producer %d out of order", v[0])
		last[v[0]] = v[1]
		count++
	}
	assert.Equal(t, producers*perProducer, count)
}

func TestMetrics_Add(t *testing.T) {
	var total Metrics
	total.Add(Metrics{Processed: 1, Written: 2, Overwritten: 3, Errors: 4})
	total.Add(Metrics{Processed: 1, Written: 1, Overwritten: 1, Errors: 1})
	assert.Equal(t, Metrics{Processed: 2, Written: 3, Overwritten: 4, Errors: 5}, total)
}
