package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionQueue_FIFO(t *testing.T) {
	q := newActionQueue()
	for _, name := range []string{"a", "b", "c"} {
		require.True(t, q.Enqueue(Action{Name: name}))
	}
	assert.Equal(t, 3, q.Len())

	var got []string
	for {
		a, ok := q.TryDequeue()
		if !ok {
			break
		}
		got = append(got, a.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Zero(t, q.Len())
}

func TestActionQueue_SignalCoalesces(t *testing.T) {
	q := newActionQueue()
	q.Enqueue(Action{Name: "a"})
	q.Enqueue(Action{Name: "b"})

	<-q.Wait()
	select {
	case <-q.Wait():
		t.Fatal("second signal should have been coalesced")
	default:
	}
}

func TestActionQueue_Close(t *testing.T) {
	q := newActionQueue()
	q.Enqueue(Action{Name: "a"})
	q.Close()
	q.Close()

	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(Action{Name: "b"}), "closed queue rejects")

	_, ok := q.TryDequeue()
	assert.True(t, ok, "queued actions survive close")

	select {
	case <-q.Wait():
	default:
		t.Fatal("closed signal channel should be readable")
	}
}

func TestActionQueue_ConcurrentEnqueue(t *testing.T) {
	q := newActionQueue()
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				q.Enqueue(Action{Name: "x"})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 500, q.Len())
}
