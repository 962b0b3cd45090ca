package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/diagnosis/tutoring-appointments/pkg/events"
	"github.com/diagnosis/tutoring-appointments/pkg/logger"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/domain"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/notify"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/repository"
)

type AppointmentService interface {
	Validate(req *domain.BookingRequest) error
	Book(ctx context.Context, req *domain.BookingRequest) (*domain.Confirmation, error)
	Cancel(ctx context.Context, req *domain.CancelRequest) (*domain.AppointmentRecord, error)
	ListActive(ctx context.Context, email string) ([]domain.AppointmentRecord, error)
	History(ctx context.Context, email string) ([]domain.AppointmentRecord, error)
	ListActiveByName(ctx context.Context, name string) ([]domain.AppointmentRecord, error)
	DaySheet(ctx context.Context, date string) ([]domain.AppointmentRecord, error)
}

// Notifier accepts notifications for asynchronous delivery.
type Notifier interface {
	Enqueue(ctx context.Context, kind notify.TemplateKind, data notify.AppointmentData) bool
}

// SlotInvalidator drops cached availability for the day of a slot.
type SlotInvalidator interface {
	Invalidate(ctx context.Context, at time.Time)
}

type appointmentService struct {
	repo      repository.AppointmentRepository
	calendar  *domain.Calendar
	slots     SlotInvalidator
	publisher events.Publisher
	notifier  Notifier
	now       func() time.Time
}

// Option customizes an AppointmentService.
type Option func(*appointmentService)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *appointmentService) { s.now = now }
}

// NewAppointmentService wires the manager. slots, publisher and notifier may
// be nil.
func NewAppointmentService(
	repo repository.AppointmentRepository,
	calendar *domain.Calendar,
	slots SlotInvalidator,
	publisher events.Publisher,
	notifier Notifier,
	opts ...Option,
) AppointmentService {
	s := &appointmentService{
		repo:      repo,
		calendar:  calendar,
		slots:     slots,
		publisher: publisher,
		notifier:  notifier,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *appointmentService) Validate(req *domain.BookingRequest) error {
	required := []struct{ field, value string }{
		{"name", req.Name},
		{"email", req.Email},
		{"phone", req.Phone},
		{"date", req.Date},
		{"time", req.Time},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &domain.ValidationError{Field: r.field, Kind: domain.MissingField}
		}
	}
	if !strings.Contains(req.Email, "@") {
		return &domain.ValidationError{Field: "email", Kind: domain.InvalidEmail}
	}
	_, err := parseSlot(req.Date, req.Time)
	return err
}

// parseSlot validates date then time and returns the slot timestamp.
func parseSlot(date, hhmm string) (time.Time, error) {
	if _, err := time.Parse(domain.DateLayout, strings.TrimSpace(date)); err != nil {
		return time.Time{}, &domain.ValidationError{Field: "date", Kind: domain.InvalidDate}
	}
	if _, err := time.Parse(domain.TimeLayout, strings.TrimSpace(hhmm)); err != nil {
		return time.Time{}, &domain.ValidationError{Field: "time", Kind: domain.InvalidTime}
	}
	at, err := domain.ParseSlot(date, hhmm)
	if err != nil {
		return time.Time{}, &domain.ValidationError{Field: "time", Kind: domain.InvalidTime}
	}
	return at, nil
}

func (s *appointmentService) Book(ctx context.Context, req *domain.BookingRequest) (*domain.Confirmation, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	email := domain.NormalizeEmail(req.Email)
	phone := strings.TrimSpace(req.Phone)
	at, _ := parseSlot(req.Date, req.Time)

	if s.calendar != nil && !s.calendar.Contains(at.Weekday(), at.Format(domain.TimeLayout)) {
		return nil, &domain.ValidationError{Field: "time", Kind: domain.InvalidTime, Reason: "not an offered slot"}
	}

	var userID, appointmentID int64
	err := s.repo.InTx(ctx, func(tx repository.AppointmentRepository) error {
		if err := tx.LockSlot(ctx, at); err != nil {
			return err
		}
		taken, err := tx.HasActiveAppointment(ctx, at)
		if err != nil {
			return err
		}
		if taken {
			return &domain.SlotConflictError{Date: at.Format(domain.DateLayout), Time: at.Format(domain.TimeLayout)}
		}
		if userID, err = tx.FindOrCreateUser(ctx, name, email, phone); err != nil {
			return err
		}
		appointmentID, err = tx.InsertAppointment(ctx, userID, at)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to book appointment: %w", err)
	}

	ctx = logger.WithAppointment(ctx, appointmentID)
	logger.InfoContext(ctx, "Appointment booked",
		"email", logger.MaskEmail(email),
		"slot", at.Format("2006-01-02 15:04"),
	)

	conf := &domain.Confirmation{
		AppointmentID: appointmentID,
		UserID:        userID,
		Name:          name,
		Email:         email,
		Phone:         phone,
		Date:          at.Format(domain.DateLayout),
		Time:          at.Format(domain.TimeLayout),
		Status:        domain.StatusScheduled,
	}

	s.invalidate(ctx, at)
	s.publish(ctx, events.AppointmentBooked, events.AppointmentBookedEvent{
		AppointmentID: appointmentID,
		UserID:        userID,
		Name:          name,
		Email:         email,
		Date:          conf.Date,
		Time:          conf.Time,
		BookedAt:      s.now().UTC(),
	})
	s.enqueue(ctx, notify.KindConfirmation, notify.AppointmentData{
		AppointmentID: appointmentID,
		Name:          name,
		Email:         email,
		Phone:         phone,
		Date:          conf.Date,
		Time:          conf.Time,
	})

	return conf, nil
}

func (s *appointmentService) Cancel(ctx context.Context, req *domain.CancelRequest) (*domain.AppointmentRecord, error) {
	for _, r := range []struct{ field, value string }{
		{"email", req.Email},
		{"date", req.Date},
		{"time", req.Time},
	} {
		if strings.TrimSpace(r.value) == "" {
			return nil, &domain.ValidationError{Field: r.field, Kind: domain.MissingField}
		}
	}
	if !strings.Contains(req.Email, "@") {
		return nil, &domain.ValidationError{Field: "email", Kind: domain.InvalidEmail}
	}
	at, err := parseSlot(req.Date, req.Time)
	if err != nil {
		return nil, err
	}
	email := domain.NormalizeEmail(req.Email)
	notFound := &domain.NotFoundError{Email: email, Date: at.Format(domain.DateLayout), Time: at.Format(domain.TimeLayout)}

	rec, err := s.repo.FindActiveAppointment(ctx, email, at)
	if err != nil {
		return nil, fmt.Errorf("failed to find appointment: %w", err)
	}
	if rec == nil {
		return nil, notFound
	}

	ok, err := s.repo.Cancel(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel appointment: %w", err)
	}
	if !ok {
		// Canceled concurrently between the lookup and the update.
		return nil, notFound
	}

	canceledAt := s.now()
	rec.Status = domain.StatusCanceled
	rec.Classify(domain.WallClock(canceledAt))

	ctx = logger.WithAppointment(ctx, rec.ID)
	logger.InfoContext(ctx, "Appointment canceled", "email", logger.MaskEmail(email), "slot", at.Format("2006-01-02 15:04"))

	name, phone := rec.Name, rec.Phone
	if name == "" {
		name = strings.TrimSpace(req.Name)
	}
	if phone == "" {
		phone = strings.TrimSpace(req.Phone)
	}

	s.invalidate(ctx, at)
	s.publish(ctx, events.AppointmentCanceled, events.AppointmentCanceledEvent{
		AppointmentID: rec.ID,
		Email:         email,
		Date:          rec.Date,
		Time:          rec.Time,
		CanceledAt:    canceledAt.UTC(),
	})
	s.enqueue(ctx, notify.KindCancellation, notify.AppointmentData{
		AppointmentID: rec.ID,
		Name:          name,
		Email:         email,
		Phone:         phone,
		Date:          rec.Date,
		Time:          rec.Time,
		CanceledAt:    domain.WallClock(canceledAt),
	})

	return rec, nil
}

func (s *appointmentService) ListActive(ctx context.Context, email string) ([]domain.AppointmentRecord, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, &domain.ValidationError{Field: "email", Kind: domain.MissingField}
	}
	recs, err := s.repo.ListActiveByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return s.classify(recs), nil
}

func (s *appointmentService) History(ctx context.Context, email string) ([]domain.AppointmentRecord, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, &domain.ValidationError{Field: "email", Kind: domain.MissingField}
	}
	recs, err := s.repo.ListHistoryByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointment history: %w", err)
	}
	return s.classify(recs), nil
}

func (s *appointmentService) ListActiveByName(ctx context.Context, name string) ([]domain.AppointmentRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &domain.ValidationError{Field: "name", Kind: domain.MissingField}
	}
	recs, err := s.repo.ListActiveByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return s.classify(recs), nil
}

func (s *appointmentService) DaySheet(ctx context.Context, date string) ([]domain.AppointmentRecord, error) {
	day, err := time.Parse(domain.DateLayout, strings.TrimSpace(date))
	if err != nil {
		return nil, &domain.ValidationError{Field: "date", Kind: domain.InvalidDate}
	}
	recs, err := s.repo.ListByDate(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("failed to list day sheet: %w", err)
	}
	return s.classify(recs), nil
}

func (s *appointmentService) classify(recs []domain.AppointmentRecord) []domain.AppointmentRecord {
	now := domain.WallClock(s.now())
	out := make([]domain.AppointmentRecord, len(recs))
	for i := range recs {
		out[i] = recs[i]
		out[i].Classify(now)
	}
	return out
}

func (s *appointmentService) invalidate(ctx context.Context, at time.Time) {
	if s.slots != nil {
		s.slots.Invalidate(ctx, at)
	}
}

func (s *appointmentService) publish(ctx context.Context, subject string, event any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, subject, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish event", "subject", subject, "error", err)
	}
}

func (s *appointmentService) enqueue(ctx context.Context, kind notify.TemplateKind, data notify.AppointmentData) {
	if s.notifier == nil {
		return
	}
	if !s.notifier.Enqueue(ctx, kind, data) {
		logger.WarnContext(ctx, "Notification not queued", "template", kind)
	}
}
