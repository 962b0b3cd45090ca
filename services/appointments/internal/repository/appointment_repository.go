package repository

import (
	"context"
	"errors"
	"time"

	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AppointmentRepository persists users and appointments. Every method wraps
// storage faults in *domain.PersistenceError; a lost race for a slot is
// reported as *domain.SlotConflictError.
type AppointmentRepository interface {
	FindOrCreateUser(ctx context.Context, name, email, phone string) (int64, error)
	HasActiveAppointment(ctx context.Context, at time.Time) (bool, error)
	InsertAppointment(ctx context.Context, userID int64, at time.Time) (int64, error)
	FindActiveAppointment(ctx context.Context, email string, at time.Time) (*domain.AppointmentRecord, error)
	Cancel(ctx context.Context, id int64) (bool, error)
	ListActiveByEmail(ctx context.Context, email string) ([]domain.AppointmentRecord, error)
	ListHistoryByEmail(ctx context.Context, email string) ([]domain.AppointmentRecord, error)
	ListActiveByName(ctx context.Context, name string) ([]domain.AppointmentRecord, error)
	ListByDate(ctx context.Context, date time.Time) ([]domain.AppointmentRecord, error)
	BookedTimes(ctx context.Context, date time.Time) ([]string, error)
	// LockSlot serializes writers of one timestamp until the surrounding
	// transaction ends. It fails outside InTx.
	LockSlot(ctx context.Context, at time.Time) error
	// InTx runs fn against a repository bound to a single transaction,
	// committing when fn returns nil.
	InTx(ctx context.Context, fn func(AppointmentRepository) error) error
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type appointmentRepository struct {
	pool    *pgxpool.Pool
	db      dbtx
	inTx    bool
	timeout time.Duration
}

func NewAppointmentRepository(pool *pgxpool.Pool, timeout time.Duration) AppointmentRepository {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &appointmentRepository{pool: pool, db: pool, timeout: timeout}
}

const activeSlotIndex = "appointments_active_slot"

const recordCols = `a.id, a.user_id, u.name, u.email, u.phone, a.appointment_time, a.status, a.created_at`

const recordFrom = ` FROM appointments a JOIN users u ON u.id = a.user_id `

func (r *appointmentRepository) FindOrCreateUser(ctx context.Context, name, email, phone string) (int64, error) {
	const find = `SELECT id FROM users
		WHERE lower(email) = lower($1) OR phone = $2
		ORDER BY (lower(email) = lower($1)) DESC, id
		LIMIT 1`
	const insert = `INSERT INTO users (name, email, phone) VALUES ($1, $2, $3)
		ON CONFLICT ((lower(email))) DO UPDATE SET email = users.email
		RETURNING id`

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var id int64
	err := r.db.QueryRow(ctx, find, email, phone).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, persistence("find user", err)
	}

	if err := r.db.QueryRow(ctx, insert, name, email, phone).Scan(&id); err != nil {
		return 0, persistence("create user", err)
	}
	return id, nil
}

func (r *appointmentRepository) HasActiveAppointment(ctx context.Context, at time.Time) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM appointments WHERE appointment_time = $1 AND status = 'scheduled')`
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var exists bool
	if err := r.db.QueryRow(ctx, q, at).Scan(&exists); err != nil {
		return false, persistence("check active appointment", err)
	}
	return exists, nil
}

func (r *appointmentRepository) InsertAppointment(ctx context.Context, userID int64, at time.Time) (int64, error) {
	const q = `INSERT INTO appointments (user_id, appointment_time, status)
		VALUES ($1, $2, 'scheduled') RETURNING id`
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var id int64
	if err := r.db.QueryRow(ctx, q, userID, at).Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == activeSlotIndex {
			return 0, &domain.SlotConflictError{Date: at.Format(domain.DateLayout), Time: at.Format(domain.TimeLayout)}
		}
		return 0, persistence("insert appointment", err)
	}
	return id, nil
}

func (r *appointmentRepository) FindActiveAppointment(ctx context.Context, email string, at time.Time) (*domain.AppointmentRecord, error) {
	const q = `SELECT ` + recordCols + recordFrom + `
		WHERE lower(u.email) = lower($1) AND a.appointment_time = $2 AND a.status = 'scheduled'
		LIMIT 1`
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rec, err := scanRecord(r.db.QueryRow(ctx, q, email, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistence("find active appointment", err)
	}
	return rec, nil
}

func (r *appointmentRepository) Cancel(ctx context.Context, id int64) (bool, error) {
	const q = `UPDATE appointments SET status = 'canceled', canceled_at = now()
		WHERE id = $1 AND status = 'scheduled'`
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.db.Exec(ctx, q, id)
	if err != nil {
		return false, persistence("cancel appointment", err)
	}
	return result.RowsAffected() > 0, nil
}

func (r *appointmentRepository) ListActiveByEmail(ctx context.Context, email string) ([]domain.AppointmentRecord, error) {
	const q = `SELECT ` + recordCols + recordFrom + `
		WHERE lower(u.email) = lower($1) AND a.status = 'scheduled'
		ORDER BY a.appointment_time DESC`
	return r.list(ctx, "list active appointments", q, email)
}

func (r *appointmentRepository) ListHistoryByEmail(ctx context.Context, email string) ([]domain.AppointmentRecord, error) {
	const q = `SELECT ` + recordCols + recordFrom + `
		WHERE lower(u.email) = lower($1)
		ORDER BY a.appointment_time DESC, a.id DESC`
	return r.list(ctx, "list appointment history", q, email)
}

func (r *appointmentRepository) ListActiveByName(ctx context.Context, name string) ([]domain.AppointmentRecord, error) {
	const q = `SELECT ` + recordCols + recordFrom + `
		WHERE lower(u.name) = lower($1) AND a.status = 'scheduled'
		ORDER BY a.appointment_time DESC`
	return r.list(ctx, "list active appointments by name", q, name)
}

func (r *appointmentRepository) ListByDate(ctx context.Context, date time.Time) ([]domain.AppointmentRecord, error) {
	const q = `SELECT ` + recordCols + recordFrom + `
		WHERE a.appointment_time >= $1 AND a.appointment_time < $2
		ORDER BY a.appointment_time, a.id`
	start := dayStart(date)
	return r.list(ctx, "list appointments by date", q, start, start.AddDate(0, 0, 1))
}

func (r *appointmentRepository) BookedTimes(ctx context.Context, date time.Time) ([]string, error) {
	const q = `SELECT appointment_time FROM appointments
		WHERE appointment_time >= $1 AND appointment_time < $2 AND status = 'scheduled'
		ORDER BY appointment_time`
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := dayStart(date)
	rows, err := r.db.Query(ctx, q, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, persistence("list booked times", err)
	}
	times, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, persistence("list booked times", err)
	}

	out := make([]string, 0, len(times))
	for _, t := range times {
		out = append(out, t.Format(domain.TimeLayout))
	}
	return out, nil
}

func (r *appointmentRepository) LockSlot(ctx context.Context, at time.Time) error {
	if !r.inTx {
		return persistence("lock slot", errors.New("slot lock requires a transaction"))
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, slotLockKey(at)); err != nil {
		return persistence("lock slot", err)
	}
	return nil
}

func (r *appointmentRepository) InTx(ctx context.Context, fn func(AppointmentRepository) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return persistence("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&appointmentRepository{db: tx, inTx: true, timeout: r.timeout}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == activeSlotIndex {
			return &domain.SlotConflictError{}
		}
		return persistence("commit transaction", err)
	}
	return nil
}

func (r *appointmentRepository) list(ctx context.Context, op, q string, args ...any) ([]domain.AppointmentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, persistence(op, err)
	}
	defer rows.Close()

	var out []domain.AppointmentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, persistence(op, err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence(op, err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (*domain.AppointmentRecord, error) {
	var rec domain.AppointmentRecord
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.Name, &rec.Email, &rec.Phone,
		&rec.AppointmentTime, &rec.Status, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Date = rec.AppointmentTime.Format(domain.DateLayout)
	rec.Time = rec.AppointmentTime.Format(domain.TimeLayout)
	rec.DisplayStatus = rec.Status
	return &rec, nil
}

// slotLockKey maps a timestamp to an advisory lock key at minute resolution.
func slotLockKey(at time.Time) int64 {
	return at.Unix() / 60
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func persistence(op string, err error) error {
	return &domain.PersistenceError{Op: op, Err: err}
}
