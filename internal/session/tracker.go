package session

import (
	"sync"
	"time"

	"github.com/digkill/faceswapbot/internal/config"
	"github.com/digkill/faceswapbot/internal/metrics"
	"github.com/digkill/faceswapbot/internal/models"
)

type entry struct {
	mu        sync.Mutex
	step      Step
	buffers   map[string][]byte
	updatedAt time.Time
	removed   bool
	// processing is set once inputs are handed out and cleared by Complete.
	processing bool
}

func (e *entry) reset(now time.Time) {
	e.step = StepIdle
	e.buffers = nil
	e.updatedAt = now
	e.processing = false
}

// Tracker holds one session per user. The map lock only guards lookups; each
// session has its own mutex so users never wait on each other.
type Tracker struct {
	mu       sync.Mutex
	sessions map[int64]*entry
	ttl      time.Duration
	now      func() time.Time
}

func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{
		sessions: make(map[int64]*entry),
		ttl:      ttl,
		now:      time.Now,
	}
}

// acquire returns the locked session for userID, creating an idle one.
func (t *Tracker) acquire(userID int64) *entry {
	for {
		t.mu.Lock()
		e, ok := t.sessions[userID]
		if !ok {
			e = &entry{step: StepIdle, updatedAt: t.now()}
			t.sessions[userID] = e
		}
		t.mu.Unlock()

		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

func (t *Tracker) Step(userID int64) Step {
	e := t.acquire(userID)
	defer e.mu.Unlock()
	return e.step
}

// Start enters the first step of flow, discarding any flow in progress.
// It reports whether an unfinished flow was aborted.
func (t *Tracker) Start(userID int64, flow models.SwapKind) (Step, bool) {
	e := t.acquire(userID)
	defer e.mu.Unlock()

	aborted := e.step != StepIdle
	if aborted {
		metrics.SessionCompletions.WithLabelValues(string(CompletedAborted)).Inc()
	}
	e.reset(t.now())
	if flow == models.SwapVideo {
		e.step = StepAwaitingVideo
	} else {
		e.step = StepAwaitingImageSource
	}
	e.buffers = make(map[string][]byte)
	return e.step, aborted
}

// Advance feeds one media item into the user's flow. limits are the caller's
// current entitlement and are only read, never stored.
func (t *Tracker) Advance(userID int64, media Media, limits config.Limits) Outcome {
	e := t.acquire(userID)
	defer e.mu.Unlock()

	step := e.step
	reject := func(reason RejectReason) Outcome {
		return Outcome{Kind: Rejected, Step: step, Reason: reason}
	}

	if step == StepIdle {
		return reject(ReasonNoActiveFlow)
	}
	if media.Kind != step.Expects() {
		return reject(ReasonWrongKind)
	}
	if len(media.Data) == 0 {
		return reject(ReasonEmptyMedia)
	}
	if limits.MaxFileSize > 0 && media.Size > limits.MaxFileSize {
		return reject(ReasonFileTooLarge)
	}
	e.updatedAt = t.now()

	switch step {
	case StepAwaitingImageSource:
		e.buffers[slotSourceImage] = media.Data
		e.step = StepAwaitingImageTarget
		return Outcome{Kind: NeedMore, Step: e.step}

	case StepAwaitingImageTarget:
		source, ok := e.buffers[slotSourceImage]
		if !ok {
			e.step = StepAwaitingImageSource
			return Outcome{Kind: NeedMore, Step: e.step}
		}
		e.processing = true
		return Outcome{Kind: ReadyToProcess, Step: step, Inputs: &Inputs{
			Kind:        models.SwapImage,
			SourceImage: source,
			TargetImage: media.Data,
		}}

	case StepAwaitingVideo:
		if limits.MaxVideoDuration > 0 {
			if media.Duration <= 0 {
				return reject(ReasonUnknownDuration)
			}
			if media.Duration > limits.MaxVideoDuration {
				return reject(ReasonVideoTooLong)
			}
		}
		e.buffers[slotVideo] = media.Data
		e.step = StepAwaitingVideoFace
		return Outcome{Kind: NeedMore, Step: e.step}

	case StepAwaitingVideoFace:
		video, ok := e.buffers[slotVideo]
		if !ok {
			e.step = StepAwaitingVideo
			return Outcome{Kind: NeedMore, Step: e.step}
		}
		e.processing = true
		return Outcome{Kind: ReadyToProcess, Step: step, Inputs: &Inputs{
			Kind:      models.SwapVideo,
			Video:     video,
			FaceImage: media.Data,
		}}
	}
	return reject(ReasonNoActiveFlow)
}

// Complete returns the session to idle and releases every buffer, whatever
// the outcome was.
func (t *Tracker) Complete(userID int64, how Completion) {
	e := t.acquire(userID)
	defer e.mu.Unlock()
	if e.step != StepIdle {
		metrics.SessionCompletions.WithLabelValues(string(how)).Inc()
	}
	e.reset(t.now())
}

// Sweep resets flows idle for longer than the TTL and forgets idle sessions.
// Sessions busy in another goroutine or waiting on a swap are skipped; a swap
// can outlast the TTL and is ended by Complete.
func (t *Tracker) Sweep() (expired int) {
	if t.ttl <= 0 {
		return 0
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.sessions {
		if !e.mu.TryLock() {
			continue
		}
		if !e.processing && now.Sub(e.updatedAt) > t.ttl {
			if e.step != StepIdle {
				expired++
				metrics.SessionCompletions.WithLabelValues(string(CompletedExpired)).Inc()
			}
			e.reset(now)
			e.removed = true
			delete(t.sessions, id)
		}
		e.mu.Unlock()
	}
	return expired
}

// Len returns the number of tracked sessions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
