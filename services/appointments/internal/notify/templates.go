package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"
)

//go:embed templates/email.html templates/email.txt
var templateFS embed.FS

var (
	htmlTemplates = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/email.html"))
	textTemplates = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/email.txt"))
)

type TemplateKind string

const (
	KindConfirmation TemplateKind = "confirmation"
	KindCancellation TemplateKind = "cancellation"
)

// Audience selects the user or the admin variant of a template.
type Audience string

const (
	AudienceUser  Audience = "user"
	AudienceAdmin Audience = "admin"
)

// Center is the contact block printed in user emails.
type Center struct {
	Address string
	Phone   string
	Email   string
}

func DefaultCenter(email string) Center {
	return Center{
		Address: "38-08 Union St 12A, NY 11354",
		Phone:   "+1 (718)-971-9914",
		Email:   email,
	}
}

// AppointmentData is everything a template may print.
type AppointmentData struct {
	AppointmentID int64
	Name          string
	Email         string
	Phone         string
	Date          string
	Time          string
	CanceledAt    time.Time
	Center        Center
}

type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

func subject(kind TemplateKind, audience Audience, name string) string {
	switch {
	case kind == KindConfirmation && audience == AudienceUser:
		return "Appointment Confirmation - New Turbo Education"
	case kind == KindConfirmation:
		return "New Appointment: " + name
	case audience == AudienceUser:
		return "Appointment Cancellation Confirmation - New Turbo Education"
	default:
		return "Appointment Cancelled: " + name
	}
}

// Render produces the subject and both bodies for one recipient.
func Render(kind TemplateKind, audience Audience, data AppointmentData) (Rendered, error) {
	if kind != KindConfirmation && kind != KindCancellation {
		return Rendered{}, fmt.Errorf("unknown template %q", kind)
	}
	name := string(audience) + "_" + string(kind)

	var html, text bytes.Buffer
	if err := htmlTemplates.ExecuteTemplate(&html, name, data); err != nil {
		return Rendered{}, fmt.Errorf("render %s html: %w", name, err)
	}
	if err := textTemplates.ExecuteTemplate(&text, name, data); err != nil {
		return Rendered{}, fmt.Errorf("render %s text: %w", name, err)
	}

	return Rendered{
		Subject: subject(kind, audience, data.Name),
		Text:    strings.TrimSpace(text.String()) + "\n",
		HTML:    strings.TrimSpace(html.String()),
	}, nil
}
