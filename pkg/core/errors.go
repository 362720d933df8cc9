package core

import "github.com/pkg/errors"

var (
	ErrInvalidStatus     = errors.New("initial job status can only be queued or hold")
	ErrDuplicateID       = errors.New("job id already registered")
	ErrUnknownJob        = errors.New("unknown job")
	ErrInvalidTickLength = errors.New("tick length must be positive")
	ErrInvalidRuntime    = errors.New("job runtime must be positive")
	ErrInvalidCapacity   = errors.New("slot capacity must not be negative")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrInvalidSubmitTime = errors.New("submit time must lie between zero and the current clock")
	ErrClockOverflow     = errors.New("tick would overflow the clock")
)
