package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for lookups of missing sessions, agents or
	// events.
	ErrNotFound = errors.New("not found")

	// ErrChainIntegrity marks a rejected batch: a hash mismatch, a broken
	// link, or a stale prevHash. Never retried automatically; it signals
	// either an upstream bug, a concurrent writer losing the append race,
	// or a forged event.
	ErrChainIntegrity = errors.New("chain integrity violation")

	// ErrValidation marks malformed input (bad filter parameters, ranges
	// over a year, missing required parameters). Surfaced immediately.
	ErrValidation = errors.New("validation failed")
)

// ChainIntegrityError carries the position and cause of a rejected batch.
type ChainIntegrityError struct {
	SessionID string
	Index     int
	Reason    string
}

func (e *ChainIntegrityError) Error() string {
	return fmt.Sprintf("chain integrity violation in session %s at index %d: %s", e.SessionID, e.Index, e.Reason)
}

func (e *ChainIntegrityError) Is(target error) bool {
	return target == ErrChainIntegrity
}

func chainErrorf(sessionID string, index int, format string, args ...any) error {
	return &ChainIntegrityError{
		SessionID: sessionID,
		Index:     index,
		Reason:    fmt.Sprintf(format, args...),
	}
}

// ValidationError wraps a human-readable description of the rejected input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Msg
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
