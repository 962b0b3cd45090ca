package service_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/diagnosis/tutoring-appointments/pkg/events"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/availability"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/domain"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/notify"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/repository"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/service"
)

// mockRepo is an in-memory store. InTx serializes transactions and restores
// a snapshot when fn fails.
type mockRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex

	users        []domain.User
	appointments []domain.Appointment
	failWith     error
}

func (m *mockRepo) FindOrCreateUser(_ context.Context, name, email, phone string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return 0, m.failWith
	}
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) || u.Phone == phone {
			return u.ID, nil
		}
	}
	id := int64(len(m.users) + 1)
	m.users = append(m.users, domain.User{ID: id, Name: name, Email: email, Phone: phone})
	return id, nil
}

func (m *mockRepo) HasActiveAppointment(_ context.Context, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appointments {
		if a.AppointmentTime.Equal(at) && a.Status == domain.StatusScheduled {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) InsertAppointment(_ context.Context, userID int64, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appointments {
		if a.AppointmentTime.Equal(at) && a.Status == domain.StatusScheduled {
			return 0, &domain.SlotConflictError{}
		}
	}
	id := int64(len(m.appointments) + 1)
	m.appointments = append(m.appointments, domain.Appointment{ID: id, UserID: userID, AppointmentTime: at, Status: domain.StatusScheduled})
	return id, nil
}

func (m *mockRepo) record(a domain.Appointment) domain.AppointmentRecord {
	u := m.users[a.UserID-1]
	return domain.AppointmentRecord{
		ID: a.ID, UserID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone,
		AppointmentTime: a.AppointmentTime, Status: a.Status,
		Date: a.AppointmentTime.Format(domain.DateLayout), Time: a.AppointmentTime.Format(domain.TimeLayout),
	}
}

func (m *mockRepo) filter(keep func(domain.AppointmentRecord) bool) []domain.AppointmentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AppointmentRecord
	for i := len(m.appointments) - 1; i >= 0; i-- {
		if r := m.record(m.appointments[i]); keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func (m *mockRepo) FindActiveAppointment(_ context.Context, email string, at time.Time) (*domain.AppointmentRecord, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	recs := m.filter(func(r domain.AppointmentRecord) bool {
		return strings.EqualFold(r.Email, email) && r.AppointmentTime.Equal(at) && r.Status == domain.StatusScheduled
	})
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func (m *mockRepo) Cancel(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.appointments {
		if m.appointments[i].ID == id && m.appointments[i].Status == domain.StatusScheduled {
			m.appointments[i].Status = domain.StatusCanceled
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) ListActiveByEmail(_ context.Context, email string) ([]domain.AppointmentRecord, error) {
	return m.filter(func(r domain.AppointmentRecord) bool {
		return strings.EqualFold(r.Email, email) && r.Status == domain.StatusScheduled
	}), nil
}

func (m *mockRepo) ListHistoryByEmail(_ context.Context, email string) ([]domain.AppointmentRecord, error) {
	return m.filter(func(r domain.AppointmentRecord) bool { return strings.EqualFold(r.Email, email) }), nil
}

func (m *mockRepo) ListActiveByName(_ context.Context, name string) ([]domain.AppointmentRecord, error) {
	return m.filter(func(r domain.AppointmentRecord) bool {
		return strings.EqualFold(r.Name, name) && r.Status == domain.StatusScheduled
	}), nil
}

func (m *mockRepo) ListByDate(_ context.Context, date time.Time) ([]domain.AppointmentRecord, error) {
	day := date.Format(domain.DateLayout)
	return m.filter(func(r domain.AppointmentRecord) bool { return r.Date == day }), nil
}

func (m *mockRepo) BookedTimes(_ context.Context, date time.Time) ([]string, error) {
	day := date.Format(domain.DateLayout)
	var out []string
	for _, r := range m.filter(func(r domain.AppointmentRecord) bool {
		return r.Date == day && r.Status == domain.StatusScheduled
	}) {
		out = append(out, r.Time)
	}
	return out, nil
}

func (m *mockRepo) LockSlot(context.Context, time.Time) error { return nil }

func (m *mockRepo) InTx(_ context.Context, fn func(repository.AppointmentRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	users := append([]domain.User(nil), m.users...)
	appts := append([]domain.Appointment(nil), m.appointments...)
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.users, m.appointments = users, appts
		m.mu.Unlock()
		return err
	}
	return nil
}

type mockNotifier struct {
	mu   sync.Mutex
	jobs []notify.AppointmentData
	kind []notify.TemplateKind
	full bool
}

func (n *mockNotifier) Enqueue(_ context.Context, kind notify.TemplateKind, data notify.AppointmentData) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.full {
		return false
	}
	n.kind = append(n.kind, kind)
	n.jobs = append(n.jobs, data)
	return true
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, interface{}) error {
	return errors.New("nats unavailable")
}
func (failingPublisher) Close() error { return nil }

type fixture struct {
	repo     *mockRepo
	engine   *availability.Engine
	notifier *mockNotifier
	bus      *events.MemoryEventBus
	svc      service.AppointmentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cal, err := domain.NewCalendar(map[time.Weekday][]string{
		time.Monday: {"10:00", "11:00", "14:00"},
	})
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{repo: &mockRepo{}, notifier: &mockNotifier{}, bus: events.NewMemoryEventBus()}
	f.engine = availability.NewEngine(cal, f.repo, nil)
	now := func() time.Time { return time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC) }
	f.svc = service.NewAppointmentService(f.repo, cal, f.engine, f.bus, f.notifier, service.WithClock(now))
	return f
}

func janeRequest() *domain.BookingRequest {
	return &domain.BookingRequest{Name: "Jane Doe", Email: "Jane@X.com", Phone: "555-1111", Date: "2025-03-10", Time: "10:00"}
}

func TestValidate(t *testing.T) {
	svc := newFixture(t).svc
	tests := []struct {
		name  string
		req   domain.BookingRequest
		field string
		kind  domain.ValidationKind
		msg   string
	}{
		{"missing name", domain.BookingRequest{Email: "a@b.c", Phone: "1", Date: "2025-03-10", Time: "10:00"}, "name", domain.MissingField, "Missing required field: name"},
		{"blank phone", domain.BookingRequest{Name: "A", Email: "a@b.c", Phone: "  ", Date: "2025-03-10", Time: "10:00"}, "phone", domain.MissingField, "Missing required field: phone"},
		{"required before format", domain.BookingRequest{Name: "A", Email: "nope", Phone: "1", Date: "2025-03-10"}, "time", domain.MissingField, "Missing required field: time"},
		{"bad email", domain.BookingRequest{Name: "A", Email: "nope", Phone: "1", Date: "bad", Time: "10:00"}, "email", domain.InvalidEmail, "Invalid email format"},
		{"bad date", domain.BookingRequest{Name: "A", Email: "a@b.c", Phone: "1", Date: "2025-02-30", Time: "10:00"}, "date", domain.InvalidDate, "Invalid date format"},
		{"bad time", domain.BookingRequest{Name: "A", Email: "a@b.c", Phone: "1", Date: "2025-03-10", Time: "10am"}, "time", domain.InvalidTime, "Invalid time format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Validate(&tt.req)
			var v *domain.ValidationError
			if !errors.As(err, &v) {
				t.Fatalf("want ValidationError, got %v", err)
			}
			if v.Field != tt.field || v.Kind != tt.kind || v.Error() != tt.msg {
				t.Errorf("got %s/%s %q", v.Field, v.Kind, v.Error())
			}
		})
	}

	if err := svc.Validate(janeRequest()); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
}

func TestBookCancelScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conf, err := f.svc.Book(ctx, janeRequest())
	if err != nil {
		t.Fatal(err)
	}
	if conf.Email != "jane@x.com" || conf.Date != "2025-03-10" || conf.Time != "10:00" || conf.Status != domain.StatusScheduled {
		t.Fatalf("confirmation = %+v", conf)
	}

	slots, _ := f.engine.AvailableSlots(ctx, "2025-03-10")
	if !reflect.DeepEqual(slots, []string{"11:00", "14:00"}) {
		t.Fatalf("after booking: %v", slots)
	}

	other := &domain.BookingRequest{Name: "Bob", Email: "bob@y.com", Phone: "555-2222", Date: "2025-03-10", Time: "10:00"}
	_, err = f.svc.Book(ctx, other)
	var conflict *domain.SlotConflictError
	if !errors.As(err, &conflict) || conflict.Error() != "This time slot is already booked" {
		t.Fatalf("second booking: %v", err)
	}

	rec, err := f.svc.Cancel(ctx, &domain.CancelRequest{Email: "jane@x.com", Date: "2025-03-10", Time: "10:00"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != domain.StatusCanceled || rec.Name != "Jane Doe" {
		t.Fatalf("canceled record = %+v", rec)
	}

	slots, _ = f.engine.AvailableSlots(ctx, "2025-03-10")
	if !reflect.DeepEqual(slots, []string{"10:00", "11:00", "14:00"}) {
		t.Fatalf("after cancel: %v", slots)
	}

	hist, _ := f.svc.History(ctx, "JANE@x.com")
	if len(hist) != 1 || hist[0].Status != domain.StatusCanceled {
		t.Fatalf("history should keep the canceled row: %+v", hist)
	}

	if len(f.notifier.kind) != 2 || f.notifier.kind[0] != notify.KindConfirmation || f.notifier.kind[1] != notify.KindCancellation {
		t.Fatalf("notifications = %v", f.notifier.kind)
	}
	if f.notifier.jobs[1].Phone != "555-1111" {
		t.Errorf("cancellation email should use stored contact details, got %+v", f.notifier.jobs[1])
	}
}

func TestCancelNeverBooked(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Cancel(context.Background(), &domain.CancelRequest{Email: "ghost@x.com", Date: "2025-03-10", Time: "11:00"})
	if !errors.Is(err, domain.ErrNotFound) || err.Error() != "No matching active appointment found" {
		t.Fatalf("want not found, got %v", err)
	}
	if len(f.notifier.jobs) != 0 {
		t.Fatal("no notification for a failed cancellation")
	}
}

func TestCancelTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.Book(ctx, janeRequest())
	req := &domain.CancelRequest{Email: "jane@x.com", Date: "2025-03-10", Time: "10:00"}
	if _, err := f.svc.Cancel(ctx, req); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Cancel(ctx, req); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second cancel: %v", err)
	}
}

func TestCancelValidation(t *testing.T) {
	svc := newFixture(t).svc
	_, err := svc.Cancel(context.Background(), &domain.CancelRequest{Email: "a@b.c", Date: "2025-03-10"})
	var v *domain.ValidationError
	if !errors.As(err, &v) || v.Field != "time" || v.Kind != domain.MissingField {
		t.Fatalf("got %v", err)
	}
}

func TestBookRejectsSlotOutsideCalendar(t *testing.T) {
	f := newFixture(t)
	req := janeRequest()
	req.Time = "09:00"
	_, err := f.svc.Book(context.Background(), req)

	var v *domain.ValidationError
	if !errors.As(err, &v) || v.Kind != domain.InvalidTime || v.Error() != "Invalid time: not an offered slot" {
		t.Fatalf("got %v", err)
	}
}

func TestIdempotentUserResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Book(ctx, janeRequest())
	if err != nil {
		t.Fatal(err)
	}
	again := janeRequest()
	again.Email = "JANE@x.COM"
	again.Time = "11:00"
	second, err := f.svc.Book(ctx, again)
	if err != nil {
		t.Fatal(err)
	}
	if first.UserID != second.UserID || len(f.repo.users) != 1 {
		t.Fatalf("expected one user, got ids %d/%d and %d rows", first.UserID, second.UserID, len(f.repo.users))
	}
}

func TestConcurrentBookingSingleWinner(t *testing.T) {
	f := newFixture(t)
	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Book(context.Background(), janeRequest())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.Is(err, domain.ErrSlotConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()
	if successes != 1 || conflicts != n-1 {
		t.Fatalf("successes=%d conflicts=%d", successes, conflicts)
	}
}

func TestNotificationAndEventFailuresDoNotFailBooking(t *testing.T) {
	repo := &mockRepo{}
	notifier := &mockNotifier{full: true}
	svc := service.NewAppointmentService(repo, domain.DefaultCalendar(), nil, failingPublisher{}, notifier)

	conf, err := svc.Book(context.Background(), janeRequest())
	if err != nil || conf.AppointmentID == 0 {
		t.Fatalf("booking must succeed regardless of side effects: %+v, %v", conf, err)
	}
}

func TestPersistenceErrorsPropagate(t *testing.T) {
	f := newFixture(t)
	f.repo.failWith = &domain.PersistenceError{Op: "find user", Err: errors.New("disk full")}

	_, err := f.svc.Book(context.Background(), janeRequest())
	if !domain.IsPersistence(err) {
		t.Fatalf("want persistence error, got %v", err)
	}
	if len(f.repo.appointments) != 0 {
		t.Fatal("failed transaction must not leave an appointment behind")
	}
}

func TestBookPublishesEvent(t *testing.T) {
	f := newFixture(t)
	got := make(chan string, 1)
	f.bus.Subscribe(events.AppointmentBooked, func(msg *events.Message) { got <- msg.Subject })

	if _, err := f.svc.Book(context.Background(), janeRequest()); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-got:
		if s != events.AppointmentBooked {
			t.Fatalf("subject = %s", s)
		}
	default:
		t.Fatal("appointment.booked not published")
	}
}

func TestListingsClassifyPast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := &domain.BookingRequest{Name: "Jane Doe", Email: "jane@x.com", Phone: "555-1111", Date: "2025-03-03", Time: "10:00"}
	if _, err := f.svc.Book(ctx, past); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Book(ctx, janeRequest()); err != nil {
		t.Fatal(err)
	}

	active, err := f.svc.ListActive(ctx, "jane@x.com")
	if err != nil || len(active) != 2 {
		t.Fatalf("active = %v, %v", active, err)
	}
	byDate := map[string]domain.AppointmentRecord{}
	for _, r := range active {
		byDate[r.Date] = r
	}
	if r := byDate["2025-03-03"]; !r.IsPast || r.DisplayStatus != domain.StatusCompleted || r.Status != domain.StatusScheduled {
		t.Errorf("past appointment = %+v", r)
	}
	if r := byDate["2025-03-10"]; r.IsPast || r.DisplayStatus != domain.StatusScheduled {
		t.Errorf("upcoming appointment = %+v", r)
	}

	byName, err := f.svc.ListActiveByName(ctx, "jane doe")
	if err != nil || len(byName) != 2 {
		t.Fatalf("by name = %v, %v", byName, err)
	}
	sheet, err := f.svc.DaySheet(ctx, "2025-03-10")
	if err != nil || len(sheet) != 1 {
		t.Fatalf("day sheet = %v, %v", sheet, err)
	}
	if _, err := f.svc.DaySheet(ctx, "March 10"); !domain.IsValidation(err) {
		t.Fatalf("bad date: %v", err)
	}
	if _, err := f.svc.ListActive(ctx, " "); !domain.IsValidation(err) {
		t.Fatalf("blank email: %v", err)
	}
}
