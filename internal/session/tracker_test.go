package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/faceswapbot/internal/config"
	"github.com/digkill/faceswapbot/internal/models"
)

var freeLimits = config.Limits{
	DailyImageSwaps:  3,
	DailyVideoSwaps:  1,
	MaxFileSize:      1 << 20,
	MaxVideoDuration: 30 * time.Second,
}

func image(b string) Media {
	return Media{Kind: MediaImage, Data: []byte(b), Size: int64(len(b))}
}

func video(b string, d time.Duration) Media {
	return Media{Kind: MediaVideo, Data: []byte(b), Size: int64(len(b)), Duration: d}
}

func TestImageFlowRoundTrip(t *testing.T) {
	tr := NewTracker(time.Hour)
	const user = 42

	step, aborted := tr.Start(user, models.SwapImage)
	assert.Equal(t, StepAwaitingImageSource, step)
	assert.False(t, aborted)

	out := tr.Advance(user, image("face"), freeLimits)
	require.Equal(t, NeedMore, out.Kind)
	assert.Equal(t, StepAwaitingImageTarget, out.Step)

	out = tr.Advance(user, image("target"), freeLimits)
	require.Equal(t, ReadyToProcess, out.Kind)
	require.NotNil(t, out.Inputs)
	assert.Equal(t, models.SwapImage, out.Inputs.Kind)
	assert.Equal(t, []byte("face"), out.Inputs.SourceImage)
	assert.Equal(t, []byte("target"), out.Inputs.TargetImage)

	// Still parked until the caller completes the flow.
	assert.Equal(t, StepAwaitingImageTarget, tr.Step(user))

	tr.Complete(user, CompletedSuccess)
	assert.Equal(t, StepIdle, tr.Step(user))
}

func TestVideoFlowRoundTrip(t *testing.T) {
	tr := NewTracker(time.Hour)
	const user = 7

	tr.Start(user, models.SwapVideo)
	out := tr.Advance(user, video("clip", 10*time.Second), freeLimits)
	require.Equal(t, NeedMore, out.Kind)
	assert.Equal(t, StepAwaitingVideoFace, out.Step)

	out = tr.Advance(user, image("face"), freeLimits)
	require.Equal(t, ReadyToProcess, out.Kind)
	assert.Equal(t, models.SwapVideo, out.Inputs.Kind)
	assert.Equal(t, []byte("clip"), out.Inputs.Video)
	assert.Equal(t, []byte("face"), out.Inputs.FaceImage)
}

func TestAdvanceRejections(t *testing.T) {
	tests := []struct {
		name   string
		flow   models.SwapKind
		media  Media
		reason RejectReason
	}{
		{"video while awaiting image", models.SwapImage, video("clip", time.Second), ReasonWrongKind},
		{"image while awaiting video", models.SwapVideo, image("face"), ReasonWrongKind},
		{"empty payload", models.SwapImage, Media{Kind: MediaImage}, ReasonEmptyMedia},
		{"file too large", models.SwapImage, Media{Kind: MediaImage, Data: []byte("x"), Size: 2 << 20}, ReasonFileTooLarge},
		{"video too long", models.SwapVideo, video("clip", 31*time.Second), ReasonVideoTooLong},
		{"video without duration", models.SwapVideo, video("clip", 0), ReasonUnknownDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(time.Hour)
			start, _ := tr.Start(1, tt.flow)

			out := tr.Advance(1, tt.media, freeLimits)
			assert.Equal(t, Rejected, out.Kind)
			assert.Equal(t, tt.reason, out.Reason)
			assert.Equal(t, start, out.Step)
			assert.Equal(t, start, tr.Step(1), "rejection must leave the step unchanged")
		})
	}
}

func TestAdvanceWhileIdle(t *testing.T) {
	tr := NewTracker(time.Hour)
	out := tr.Advance(1, image("face"), freeLimits)
	assert.Equal(t, Rejected, out.Kind)
	assert.Equal(t, ReasonNoActiveFlow, out.Reason)
	assert.Equal(t, StepIdle, tr.Step(1))
}

func TestPremiumLimitsAllowLongerVideo(t *testing.T) {
	tr := NewTracker(time.Hour)
	premium := freeLimits
	premium.MaxVideoDuration = 10 * time.Minute

	tr.Start(1, models.SwapVideo)
	out := tr.Advance(1, video("clip", 5*time.Minute), premium)
	assert.Equal(t, NeedMore, out.Kind)
}

func TestUnknownDurationAcceptedWithoutDurationLimit(t *testing.T) {
	tr := NewTracker(time.Hour)
	unlimited := freeLimits
	unlimited.MaxVideoDuration = 0

	tr.Start(1, models.SwapVideo)
	out := tr.Advance(1, video("clip", 0), unlimited)
	assert.Equal(t, NeedMore, out.Kind)
	assert.Equal(t, StepAwaitingVideoFace, tr.Step(1))
}

func TestStartAbortsFlowInProgress(t *testing.T) {
	tr := NewTracker(time.Hour)
	tr.Start(1, models.SwapImage)
	tr.Advance(1, image("face"), freeLimits)

	step, aborted := tr.Start(1, models.SwapVideo)
	assert.True(t, aborted)
	assert.Equal(t, StepAwaitingVideo, step)

	// Buffers of the old flow are gone.
	tr.Start(1, models.SwapImage)
	out := tr.Advance(1, image("second"), freeLimits)
	assert.Equal(t, NeedMore, out.Kind)
	out = tr.Advance(1, image("target"), freeLimits)
	require.Equal(t, ReadyToProcess, out.Kind)
	assert.Equal(t, []byte("second"), out.Inputs.SourceImage)
}

func TestSweepExpiresStaleFlows(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(30 * time.Minute)
	tr.now = func() time.Time { return now }

	tr.Start(1, models.SwapImage)
	tr.Start(2, models.SwapVideo)
	tr.Step(3)

	now = now.Add(10 * time.Minute)
	tr.Advance(2, video("clip", time.Second), freeLimits)

	now = now.Add(25 * time.Minute)
	assert.Equal(t, 1, tr.Sweep())
	assert.Equal(t, StepIdle, tr.Step(1))
	assert.Equal(t, StepAwaitingVideoFace, tr.Step(2))
	assert.Equal(t, 2, tr.Len())
}

func TestSweepSkipsSwapInProgress(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(30 * time.Minute)
	tr.now = func() time.Time { return now }

	tr.Start(1, models.SwapVideo)
	tr.Advance(1, video("clip", 10*time.Second), freeLimits)
	out := tr.Advance(1, image("face"), freeLimits)
	require.Equal(t, ReadyToProcess, out.Kind)

	// A long video swap outlives the TTL.
	now = now.Add(45 * time.Minute)
	assert.Equal(t, 0, tr.Sweep())
	assert.Equal(t, StepAwaitingVideoFace, tr.Step(1))

	tr.Complete(1, CompletedSuccess)
	assert.Equal(t, StepIdle, tr.Step(1))

	now = now.Add(45 * time.Minute)
	assert.Equal(t, 0, tr.Sweep())
	assert.Equal(t, 0, tr.Len())
}

func TestConcurrentUsersAreIndependent(t *testing.T) {
	tr := NewTracker(time.Hour)
	var wg sync.WaitGroup
	for i := int64(0); i < 50; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			tr.Start(user, models.SwapImage)
			tr.Advance(user, image("a"), freeLimits)
			out := tr.Advance(user, image("b"), freeLimits)
			assert.Equal(t, ReadyToProcess, out.Kind)
			tr.Complete(user, CompletedSuccess)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, tr.Len())
}

func TestRejectReasonErr(t *testing.T) {
	assert.ErrorIs(t, ReasonNoActiveFlow.Err(), ErrNoActiveFlow)
	assert.ErrorIs(t, ReasonWrongKind.Err(), ErrWrongKind)
	assert.ErrorIs(t, ReasonVideoTooLong.Err(), ErrMediaLimit)
	assert.ErrorIs(t, ReasonFileTooLarge.Err(), ErrMediaLimit)
	assert.ErrorIs(t, ReasonUnknownDuration.Err(), ErrMediaLimit)
}
