package client

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

type Step int

const (
	StepChooseDate Step = iota
	StepChooseTime
	StepConfirm
	StepDone
	StepCanceled
)

func (s Step) String() string {
	switch s {
	case StepChooseDate:
		return "choose_date"
	case StepChooseTime:
		return "choose_time"
	case StepConfirm:
		return "confirm"
	case StepDone:
		return "done"
	case StepCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

var (
	ErrIllegalTransition = errors.New("illegal booking flow transition")
	ErrNoSlots           = errors.New("no available slots on that date")
	ErrSlotNotOffered    = errors.New("time is not one of the available slots")
)

// Flow is the date, time, confirm sequence a front-end walks a user through.
// Flow values are immutable; every transition returns a new one.
type Flow struct {
	Step  Step
	Date  string
	Time  string
	Slots []string
}

func NewFlow() Flow {
	return Flow{Step: StepChooseDate}
}

// WithDate records the chosen date and the slots offered on it, normally from
// CheckAvailability.
func (f Flow) WithDate(date string, slots []string) (Flow, error) {
	if f.Step != StepChooseDate && f.Step != StepChooseTime {
		return f, f.illegal("choose a date")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return f, fmt.Errorf("invalid date %q: use YYYY-MM-DD", date)
	}
	if len(slots) == 0 {
		return f, ErrNoSlots
	}
	return Flow{Step: StepChooseTime, Date: date, Slots: slices.Clone(slots)}, nil
}

func (f Flow) WithTime(t string) (Flow, error) {
	if f.Step != StepChooseTime && f.Step != StepConfirm {
		return f, f.illegal("choose a time")
	}
	if !slices.Contains(f.Slots, t) {
		return f, ErrSlotNotOffered
	}
	next := f.clone()
	next.Step, next.Time = StepConfirm, t
	return next, nil
}

// Confirm marks the flow done. Callers book the appointment first and only
// confirm once the API accepted it.
func (f Flow) Confirm() (Flow, error) {
	if f.Step != StepConfirm {
		return f, f.illegal("confirm")
	}
	next := f.clone()
	next.Step = StepDone
	return next, nil
}

// Back returns to the previous step, discarding the choice made there.
func (f Flow) Back() (Flow, error) {
	switch f.Step {
	case StepChooseTime:
		return NewFlow(), nil
	case StepConfirm:
		next := f.clone()
		next.Step, next.Time = StepChooseTime, ""
		return next, nil
	default:
		return f, f.illegal("go back")
	}
}

func (f Flow) Abort() (Flow, error) {
	if f.Terminal() {
		return f, f.illegal("abort")
	}
	next := f.clone()
	next.Step = StepCanceled
	return next, nil
}

func (f Flow) Terminal() bool {
	return f.Step == StepDone || f.Step == StepCanceled
}

// Request builds the booking request for a flow waiting on confirmation.
func (f Flow) Request(name, email, phone string) (BookingRequest, error) {
	if f.Step != StepConfirm {
		return BookingRequest{}, f.illegal("book")
	}
	return BookingRequest{Name: name, Email: email, Phone: phone, Date: f.Date, Time: f.Time}, nil
}

func (f Flow) clone() Flow {
	f.Slots = slices.Clone(f.Slots)
	return f
}

func (f Flow) illegal(action string) error {
	return fmt.Errorf("%w: cannot %s at step %s", ErrIllegalTransition, action, f.Step)
}
