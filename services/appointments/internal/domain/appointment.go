package domain

import (
	"strings"
	"time"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCanceled  AppointmentStatus = "canceled"
	// StatusCompleted is never stored. It is the display status of a
	// scheduled appointment whose time has passed.
	StatusCompleted AppointmentStatus = "completed"
)

func ParseAppointmentStatus(s string) (AppointmentStatus, bool) {
	switch AppointmentStatus(s) {
	case StatusScheduled, StatusCanceled:
		return AppointmentStatus(s), true
	default:
		return "", false
	}
}

// Layouts of the wire formats. Timestamps are naive wall-clock values: they
// are parsed and stored in UTC and never converted between zones.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
	slotLayout = DateLayout + " " + TimeLayout
)

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type Appointment struct {
	ID              int64             `json:"id"`
	UserID          int64             `json:"user_id"`
	AppointmentTime time.Time         `json:"appointment_time"`
	Status          AppointmentStatus `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	CanceledAt      *time.Time        `json:"canceled_at,omitempty"`
}

// AppointmentRecord is the joined user + appointment read model.
type AppointmentRecord struct {
	ID              int64             `json:"id"`
	UserID          int64             `json:"-"`
	Name            string            `json:"name"`
	Email           string            `json:"email"`
	Phone           string            `json:"phone"`
	AppointmentTime time.Time         `json:"-"`
	Date            string            `json:"date"`
	Time            string            `json:"time"`
	Status          AppointmentStatus `json:"status"`
	DisplayStatus   AppointmentStatus `json:"display_status"`
	IsPast          bool              `json:"is_past"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Classify fills Date, Time, IsPast and DisplayStatus from the stored
// timestamp. now must already be a wall-clock value (see WallClock).
func (r *AppointmentRecord) Classify(now time.Time) {
	r.Date = r.AppointmentTime.Format(DateLayout)
	r.Time = r.AppointmentTime.Format(TimeLayout)
	r.IsPast = r.AppointmentTime.Before(now)
	r.DisplayStatus = r.Status
	if r.Status == StatusScheduled && r.IsPast {
		r.DisplayStatus = StatusCompleted
	}
}

// IsActive reports whether the appointment still holds its slot.
func (r *AppointmentRecord) IsActive() bool {
	return r.Status == StatusScheduled
}

type BookingRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Date  string `json:"date"`
	Time  string `json:"time"`
}

// CancelRequest identifies an active appointment by owner email and slot.
// Name and Phone only fill in notification content.
type CancelRequest struct {
	Email string `json:"email"`
	Date  string `json:"date"`
	Time  string `json:"time"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type Confirmation struct {
	AppointmentID int64             `json:"id"`
	UserID        int64             `json:"user_id"`
	Name          string            `json:"name"`
	Email         string            `json:"email"`
	Phone         string            `json:"phone"`
	Date          string            `json:"date"`
	Time          string            `json:"time"`
	Status        AppointmentStatus `json:"status"`
}

// ParseSlot combines a YYYY-MM-DD date and an HH:MM time into the slot key.
func ParseSlot(date, hhmm string) (time.Time, error) {
	return time.Parse(slotLayout, strings.TrimSpace(date)+" "+strings.TrimSpace(hhmm))
}

// WallClock drops the zone of t, keeping its local reading, so it compares
// with stored naive timestamps.
func WallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
