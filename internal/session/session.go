// Package session tracks where each user is inside a multi-message swap flow
// and buffers the media received so far. Sessions live in memory only.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/digkill/faceswapbot/internal/models"
)

type Step int

const (
	StepIdle Step = iota
	StepAwaitingImageSource
	StepAwaitingImageTarget
	StepAwaitingVideo
	StepAwaitingVideoFace
)

func (s Step) String() string {
	switch s {
	case StepIdle:
		return "idle"
	case StepAwaitingImageSource:
		return "awaiting_image_source"
	case StepAwaitingImageTarget:
		return "awaiting_image_target"
	case StepAwaitingVideo:
		return "awaiting_video"
	case StepAwaitingVideoFace:
		return "awaiting_video_face"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Expects returns the media kind the step accepts. Idle accepts nothing.
func (s Step) Expects() MediaKind {
	switch s {
	case StepAwaitingImageSource, StepAwaitingImageTarget, StepAwaitingVideoFace:
		return MediaImage
	case StepAwaitingVideo:
		return MediaVideo
	default:
		return ""
	}
}

// Flow returns the swap kind the step belongs to.
func (s Step) Flow() models.SwapKind {
	switch s {
	case StepAwaitingImageSource, StepAwaitingImageTarget:
		return models.SwapImage
	case StepAwaitingVideo, StepAwaitingVideoFace:
		return models.SwapVideo
	default:
		return ""
	}
}

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

type Media struct {
	Kind     MediaKind
	Data     []byte
	Size     int64
	Duration time.Duration
	MimeType string
}

const (
	slotSourceImage = "source_image"
	slotVideo       = "video"
)

// Inputs is a complete set of media for one swap.
type Inputs struct {
	Kind        models.SwapKind
	SourceImage []byte
	TargetImage []byte
	Video       []byte
	FaceImage   []byte
}

type OutcomeKind int

const (
	NeedMore OutcomeKind = iota
	ReadyToProcess
	Rejected
)

type RejectReason string

const (
	ReasonNoActiveFlow RejectReason = "no_active_flow"
	ReasonWrongKind    RejectReason = "wrong_kind"
	ReasonEmptyMedia   RejectReason = "empty_media"
	ReasonFileTooLarge RejectReason = "file_too_large"
	ReasonVideoTooLong RejectReason = "video_too_long"
	// ReasonUnknownDuration rejects a video whose length Telegram did not
	// report, such as one sent as a file, while a duration limit applies.
	ReasonUnknownDuration RejectReason = "unknown_duration"
)

var (
	ErrNoActiveFlow = errors.New("no active flow")
	ErrWrongKind    = errors.New("unexpected media kind")
	ErrMediaLimit   = errors.New("media exceeds limits")
)

// Err maps a rejection to its sentinel error.
func (r RejectReason) Err() error {
	switch r {
	case ReasonNoActiveFlow:
		return ErrNoActiveFlow
	case ReasonWrongKind, ReasonEmptyMedia:
		return fmt.Errorf("%w: %s", ErrWrongKind, r)
	case ReasonFileTooLarge, ReasonVideoTooLong, ReasonUnknownDuration:
		return fmt.Errorf("%w: %s", ErrMediaLimit, r)
	}
	return nil
}

// Outcome is the tagged result of Advance.
type Outcome struct {
	Kind   OutcomeKind
	Step   Step
	Inputs *Inputs
	Reason RejectReason
}

// Completion labels why a session went back to idle.
type Completion string

const (
	CompletedSuccess Completion = "success"
	CompletedFailure Completion = "failure"
	CompletedAborted Completion = "aborted"
	CompletedExpired Completion = "expired"
)
