package booking

import (
	"errors"
	"time"
)

// Step is where a session is in the booking flow.
type Step string

const (
	StepIdle      Step = "idle"
	StepTutor     Step = "tutor"
	StepDay       Step = "day"
	StepBlock     Step = "block"
	StepReady     Step = "ready"
	StepSubmitted Step = "submitted"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrNoTutor              = errors.New("no tutor availability loaded")
	ErrNoDay                = errors.New("no day selected")
	ErrNoBlock              = errors.New("no block selected")
	ErrDayNotSelectable     = errors.New("day is not selectable")
	ErrBlockNotOffered      = errors.New("start time is not offered on this day")
	ErrExtensionUnavailable = errors.New("no adjacent block available")
	ErrSuperseded           = errors.New("availability request superseded by a newer one")
	ErrSubmitInProgress     = errors.New("submission in progress")
	ErrInvalidStep          = errors.New("operation not allowed at this step")
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// FSM holds the allowed step transitions.
type FSM struct {
	transitions map[Step][]Step
}

// NewFSM creates a new FSM with predefined transitions.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[Step][]Step{
			StepIdle:      {StepIdle, StepTutor},
			StepTutor:     {StepIdle, StepTutor, StepDay},
			StepDay:       {StepIdle, StepDay, StepBlock, StepReady},
			StepBlock:     {StepIdle, StepDay, StepBlock, StepReady},
			StepReady:     {StepIdle, StepDay, StepBlock, StepReady, StepSubmitted},
			StepSubmitted: {StepIdle},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to Step) bool {
	allowed, ok := f.transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// guard returns the error reported when a session at step cannot move to to.
func (f *FSM) guard(from, to Step) error {
	if f.CanTransition(from, to) {
		return nil
	}
	switch from {
	case StepIdle:
		return ErrNoTutor
	case StepTutor:
		return ErrNoDay
	case StepDay:
		return ErrNoBlock
	default:
		return ErrInvalidStep
	}
}
