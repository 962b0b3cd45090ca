package availability

import (
	"context"
	"strings"
	"time"

	"github.com/diagnosis/tutoring-appointments/pkg/logger"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/cache"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/domain"
)

// BookedTimesReader is the slice of the appointment store the engine reads.
type BookedTimesReader interface {
	BookedTimes(ctx context.Context, date time.Time) ([]string, error)
}

// Reasons reported by Check when no slot is offered.
const (
	ReasonInvalidDate = "invalid_date"
	ReasonClosed      = "closed"
	ReasonFullyBooked = "fully_booked"
	ReasonUnavailable = "unavailable"
)

type CheckResult struct {
	Date   string   `json:"date"`
	Slots  []string `json:"slots"`
	Reason string   `json:"reason,omitempty"`
}

type Engine struct {
	calendar *domain.Calendar
	store    BookedTimesReader
	cache    *cache.SlotCache
}

// NewEngine builds an engine. slots may be nil to read the store directly.
func NewEngine(calendar *domain.Calendar, store BookedTimesReader, slots *cache.SlotCache) *Engine {
	return &Engine{calendar: calendar, store: store, cache: slots}
}

// AvailableSlots returns the template times of date that have no scheduled
// appointment, in template order.
func (e *Engine) AvailableSlots(ctx context.Context, date string) ([]string, error) {
	day, err := time.Parse(domain.DateLayout, strings.TrimSpace(date))
	if err != nil {
		return nil, &domain.ValidationError{Field: "date", Kind: domain.InvalidDate}
	}

	template := e.calendar.SlotsFor(day.Weekday())
	if len(template) == 0 {
		return []string{}, nil
	}

	booked, err := e.bookedTimes(ctx, day)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]struct{}, len(booked))
	for _, b := range booked {
		taken[b] = struct{}{}
	}

	free := make([]string, 0, len(template))
	for _, s := range template {
		if _, ok := taken[s]; !ok {
			free = append(free, s)
		}
	}
	return free, nil
}

// Check answers "what can I book on date" without failing: problems become a
// Reason alongside an empty list.
func (e *Engine) Check(ctx context.Context, date string) CheckResult {
	res := CheckResult{Date: strings.TrimSpace(date), Slots: []string{}}

	slots, err := e.AvailableSlots(ctx, date)
	switch {
	case domain.IsValidation(err):
		res.Reason = ReasonInvalidDate
		return res
	case err != nil:
		logger.ErrorContext(ctx, "Availability lookup failed", "date", res.Date, "error", err)
		res.Reason = ReasonUnavailable
		return res
	}

	if len(slots) == 0 {
		day, _ := time.Parse(domain.DateLayout, res.Date)
		if len(e.calendar.SlotsFor(day.Weekday())) == 0 {
			res.Reason = ReasonClosed
		} else {
			res.Reason = ReasonFullyBooked
		}
		return res
	}
	res.Slots = slots
	return res
}

// Invalidate drops cached bookings for the day of at.
func (e *Engine) Invalidate(ctx context.Context, at time.Time) {
	if e.cache != nil {
		e.cache.Invalidate(ctx, at)
	}
}

func (e *Engine) bookedTimes(ctx context.Context, day time.Time) ([]string, error) {
	load := func(ctx context.Context) ([]string, error) {
		return e.store.BookedTimes(ctx, day)
	}
	if e.cache == nil {
		return load(ctx)
	}
	return e.cache.BookedTimes(ctx, day, load)
}
