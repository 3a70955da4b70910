package telegram

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// dispatcher runs handlers off the update loop. Each user has a FIFO queue
// drained by at most one goroutine, so a user's events run one at a time in
// arrival order while different users run in parallel. Each user also gets a
// token bucket against flooding.
type dispatcher struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	queues   map[int64]*userQueue
	limiters map[int64]*limiterEntry

	wg sync.WaitGroup
}

type userQueue struct {
	pending []func()
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newDispatcher(perSecond float64, burst int) *dispatcher {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &dispatcher{
		limit:    limit,
		burst:    burst,
		queues:   make(map[int64]*userQueue),
		limiters: make(map[int64]*limiterEntry),
	}
}

func (d *dispatcher) allowLocked(userID int64, now time.Time) bool {
	e, ok := d.limiters[userID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(d.limit, d.burst)}
		d.limiters[userID] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Dispatch queues fn for userID. It returns false without queueing when the
// user is over their event rate.
func (d *dispatcher) Dispatch(userID int64, fn func()) bool {
	return d.dispatch(userID, fn, true)
}

// DispatchAlways queues fn bypassing the rate limit. Used for payments.
func (d *dispatcher) DispatchAlways(userID int64, fn func()) {
	d.dispatch(userID, fn, false)
}

func (d *dispatcher) dispatch(userID int64, fn func(), limited bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if limited && !d.allowLocked(userID, time.Now()) {
		return false
	}
	q, running := d.queues[userID]
	if !running {
		q = &userQueue{}
		d.queues[userID] = q
	}
	q.pending = append(q.pending, fn)
	if !running {
		d.wg.Add(1)
		go d.drain(userID, q)
	}
	return true
}

func (d *dispatcher) drain(userID int64, q *userQueue) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(q.pending) == 0 {
			delete(d.queues, userID)
			d.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		d.mu.Unlock()

		fn()
	}
}

// Prune drops limiters idle for longer than maxIdle.
func (d *dispatcher) Prune(now time.Time, maxIdle time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for id, e := range d.limiters {
		if now.Sub(e.lastSeen) > maxIdle {
			delete(d.limiters, id)
			removed++
		}
	}
	return removed
}

// Wait blocks until every queued handler has returned.
func (d *dispatcher) Wait() {
	d.wg.Wait()
}
