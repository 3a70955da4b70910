package telegram

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatchKeepsPerUserOrder(t *testing.T) {
	d := newDispatcher(0, 1)

	var (
		mu     sync.Mutex
		order  []int
		active atomic.Int32
	)
	for i := 0; i < 50; i++ {
		i := i
		assert.True(t, d.Dispatch(1, func() {
			assert.Equal(t, int32(1), active.Add(1))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			active.Add(-1)
		}))
	}
	d.Wait()

	assert.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
	assert.Empty(t, d.queues)
}

func TestDispatchRunsUsersInParallel(t *testing.T) {
	d := newDispatcher(0, 1)

	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	for user := int64(1); user <= 2; user++ {
		d.Dispatch(user, func() {
			started.Done()
			<-release
		})
	}

	done := make(chan struct{})
	go func() {
		started.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handlers of different users did not run concurrently")
	}
	close(release)
	d.Wait()
}

func TestDispatchRateLimitsPerUser(t *testing.T) {
	d := newDispatcher(0.001, 2)

	assert.True(t, d.Dispatch(1, func() {}))
	assert.True(t, d.Dispatch(1, func() {}))
	assert.False(t, d.Dispatch(1, func() {}))
	assert.True(t, d.Dispatch(2, func() {}), "other users keep their own budget")

	ran := make(chan struct{})
	d.DispatchAlways(1, func() { close(ran) })
	d.Wait()
	select {
	case <-ran:
	default:
		t.Fatal("unlimited dispatch did not run")
	}
}

func TestPrune(t *testing.T) {
	d := newDispatcher(1, 1)
	now := time.Now()
	d.mu.Lock()
	d.allowLocked(1, now.Add(-time.Hour))
	d.allowLocked(2, now)
	d.mu.Unlock()

	assert.Equal(t, 1, d.Prune(now, 30*time.Minute))
	assert.Len(t, d.limiters, 1)
}
