package core

import "github.com/pkg/errors"

// Status is the lifecycle state of a job. The zero value is StatusAbsent,
// which is only ever returned for ids the scheduler has never seen.
type Status int

const (
	StatusAbsent Status = iota
	StatusQueued
	StatusHold
	StatusRunning
	StatusFinished
)

var statusNames = map[Status]string{
	StatusAbsent:   "absent",
	StatusQueued:   "queued",
	StatusHold:     "hold",
	StatusRunning:  "running",
	StatusFinished: "finished",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseStatus maps a status name back to its Status.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return StatusAbsent, errors.Wrapf(ErrInvalidStatus, "unknown status %q", name)
}

// Registrable reports whether a job may be created in this status.
func (s Status) Registrable() bool {
	return s == StatusQueued || s == StatusHold
}

// Event drives a job from one status to the next.
type Event int

const (
	EventAdmit Event = iota
	EventFinish
	EventHold
	EventResume
)

func (e Event) String() string {
	switch e {
	case EventAdmit:
		return "admit"
	case EventFinish:
		return "finish"
	case EventHold:
		return "hold"
	case EventResume:
		return "resume"
	}
	return "unknown"
}

// Transition returns the status reached by applying e to s.
func (s Status) Transition(e Event) (Status, error) {
	switch s {
	case StatusQueued:
		switch e {
		case EventAdmit:
			return StatusRunning, nil
		case EventHold:
			return StatusHold, nil
		}
	case StatusHold:
		switch e {
		case EventHold:
			return StatusHold, nil
		case EventResume:
			return StatusQueued, nil
		}
	case StatusRunning:
		switch e {
		case EventFinish:
			return StatusFinished, nil
		case EventHold:
			return StatusHold, nil
		}
	case StatusFinished, StatusAbsent:
	}
	return s, errors.Wrapf(ErrIllegalTransition, "%s on %s job", e, s)
}
