package notify

import (
	"context"
	"sync"

	"github.com/diagnosis/tutoring-appointments/pkg/events"
	"github.com/diagnosis/tutoring-appointments/pkg/logger"
)

type Job struct {
	Kind TemplateKind
	Data AppointmentData
	ctx  context.Context
}

// Queue runs notifications off the request path on a fixed worker pool.
// Enqueue never blocks: when the buffer is full the job is dropped.
type Queue struct {
	dispatcher *Dispatcher
	publisher  events.Publisher

	mu     sync.RWMutex
	closed bool
	jobs   chan Job
	wg     sync.WaitGroup
}

// NewQueue starts workers immediately. publisher may be nil.
func NewQueue(d *Dispatcher, publisher events.Publisher, size, workers int) *Queue {
	if size <= 0 {
		size = 100
	}
	if workers <= 0 {
		workers = 1
	}
	q := &Queue{
		dispatcher: d,
		publisher:  publisher,
		jobs:       make(chan Job, size),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Enqueue schedules a notification and reports whether it was accepted. The
// job keeps ctx's values (request id) but not its cancellation.
func (q *Queue) Enqueue(ctx context.Context, kind TemplateKind, data AppointmentData) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		logger.WarnContext(ctx, "Notification queue closed, dropping job", "template", kind, "appointment_id", data.AppointmentID)
		return false
	}
	select {
	case q.jobs <- Job{Kind: kind, Data: data, ctx: context.WithoutCancel(ctx)}:
		return true
	default:
		logger.WarnContext(ctx, "Notification queue full, dropping job", "template", kind, "appointment_id", data.AppointmentID)
		return false
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.run(job)
	}
}

func (q *Queue) run(job Job) {
	ctx := job.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logger.WithAppointment(ctx, job.Data.AppointmentID)

	res := q.dispatcher.Notify(ctx, job.Kind, job.Data)
	if res.OK() {
		logger.InfoContext(ctx, "Notifications sent", "template", job.Kind)
		return
	}

	logger.WarnContext(ctx, "Notification delivery incomplete",
		"template", job.Kind,
		"user_ok", res.UserOK,
		"admin_ok", res.AdminOK,
		"errors", res.ErrorStrings(),
	)
	if q.publisher == nil {
		return
	}
	if err := q.publisher.Publish(ctx, events.NotifyFailed, events.NotificationFailedEvent{
		AppointmentID: job.Data.AppointmentID,
		Template:      string(job.Kind),
		UserOK:        res.UserOK,
		AdminOK:       res.AdminOK,
		Errors:        res.ErrorStrings(),
	}); err != nil {
		logger.ErrorContext(ctx, "Failed to publish notify.failed", "error", err)
	}
}

// Close stops accepting jobs and waits for queued ones to finish or for ctx
// to expire.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
