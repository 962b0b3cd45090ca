package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/diagnosis/tutoring-appointments/pkg/logger"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/mailer"
	"golang.org/x/sync/errgroup"
)

// Result reports each recipient separately. Errors holds one entry per
// failed send.
type Result struct {
	UserOK  bool
	AdminOK bool
	Errors  []error
}

func (r Result) OK() bool { return r.UserOK && r.AdminOK }

func (r Result) ErrorStrings() []string {
	out := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		out = append(out, err.Error())
	}
	return out
}

type Dispatcher struct {
	sender     mailer.Sender
	adminEmail string
	center     Center
	timeout    time.Duration
	now        func() time.Time
}

func NewDispatcher(sender mailer.Sender, adminEmail string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		sender:     sender,
		adminEmail: adminEmail,
		center:     DefaultCenter(adminEmail),
		timeout:    timeout,
		now:        time.Now,
	}
}

// Notify sends the user and admin variants of kind concurrently. A failure
// on one side never stops the other, and Notify itself never fails.
func (d *Dispatcher) Notify(ctx context.Context, kind TemplateKind, data AppointmentData) Result {
	if data.Center == (Center{}) {
		data.Center = d.center
	}
	if kind == KindCancellation && data.CanceledAt.IsZero() {
		data.CanceledAt = d.now()
	}

	var (
		g                 errgroup.Group
		userErr, adminErr error
	)
	g.Go(func() error {
		userErr = d.send(ctx, kind, AudienceUser, data.Email, data.Name, data)
		return nil
	})
	g.Go(func() error {
		adminErr = d.send(ctx, kind, AudienceAdmin, d.adminEmail, "", data)
		return nil
	})
	g.Wait()

	res := Result{UserOK: userErr == nil, AdminOK: adminErr == nil}
	if userErr != nil {
		res.Errors = append(res.Errors, fmt.Errorf("user: %w", userErr))
	}
	if adminErr != nil {
		res.Errors = append(res.Errors, fmt.Errorf("admin: %w", adminErr))
	}
	return res
}

func (d *Dispatcher) send(ctx context.Context, kind TemplateKind, audience Audience, to, toName string, data AppointmentData) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic sending %s %s email: %v", audience, kind, rec)
		}
	}()

	if to == "" {
		return fmt.Errorf("no %s address configured", audience)
	}
	msg, err := Render(kind, audience, data)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.sender.Send(ctx, mailer.Message{
		To:      to,
		ToName:  toName,
		Subject: msg.Subject,
		Text:    msg.Text,
		HTML:    msg.HTML,
	}); err != nil {
		return err
	}
	logger.DebugContext(ctx, "Email sent", "template", kind, "audience", audience, "to", logger.MaskEmail(to))
	return nil
}
