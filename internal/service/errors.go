package service

import (
	"errors"
	"fmt"

	"github.com/digkill/faceswapbot/internal/models"
)

var (
	ErrQuotaExceeded = errors.New("daily quota exceeded")
	ErrPlanNotFound  = errors.New("plan not found")
)

// QuotaError reports a denied quota slot with the usage behind the decision.
type QuotaError struct {
	Kind  models.SwapKind
	Used  int
	Limit int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s quota exceeded: %d/%d", e.Kind, e.Used, e.Limit)
}

func (e *QuotaError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// PersistenceError wraps a failed user store write. The stored record is
// left as it was before the write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SwapError is the terminal failure of a swap request.
type SwapError struct {
	Kind     models.FailureKind
	Attempts int
	Err      error
}

func (e *SwapError) Error() string {
	return fmt.Sprintf("swap failed (%s after %d attempt(s)): %v", e.Kind, e.Attempts, e.Err)
}

func (e *SwapError) Unwrap() error { return e.Err }

// FailureOf classifies any error returned by this package.
func FailureOf(err error) models.FailureKind {
	var se *SwapError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return models.FailureQuotaExceeded
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return models.FailurePersistence
	}
	return ""
}
