// Package client talks to the appointments API on behalf of a front-end such
// as the chatbot. Errors carry a message that can be shown to the end user.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/google/uuid"

	"github.com/diagnosis/tutoring-appointments/pkg/logger"
	"github.com/diagnosis/tutoring-appointments/pkg/response"
)

const DefaultTimeout = 15 * time.Second

const (
	msgTimeout     = "Request timed out. The server is taking too long to respond."
	msgUnreachable = "Could not connect to the server. Please try again later."
	msgNotFound    = "No matching appointment found"
)

// Error is returned for every failed call. Message is safe to show to users.
type Error struct {
	Status  int
	Code    string
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// IsConflict reports whether err is a taken-slot rejection.
func IsConflict(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Status == http.StatusConflict
}

// IsNotFound reports whether err means no matching active appointment.
func IsNotFound(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Status == http.StatusNotFound
}

type Appointment struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Status        string `json:"status"`
	DisplayStatus string `json:"display_status,omitempty"`
	IsPast        bool   `json:"is_past,omitempty"`
}

type Availability struct {
	Date           string   `json:"date"`
	AvailableSlots []string `json:"available_slots"`
	Reason         string   `json:"reason,omitempty"`
}

type BookingRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Date  string `json:"date"`
	Time  string `json:"time"`
}

type CancelRequest struct {
	Email string `json:"email"`
	Date  string `json:"date"`
	Time  string `json:"time"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type availabilityQuery struct {
	Date string `url:"date"`
}

type listQuery struct {
	Email string `url:"email,omitempty"`
	Name  string `url:"name,omitempty"`
}

type result struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	Appointment  *Appointment  `json:"appointment"`
	Appointments []Appointment `json:"appointments"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckAvailability returns the open slots of date. An empty list comes with
// a reason (invalid_date, closed, fully_booked or unavailable).
func (c *Client) CheckAvailability(ctx context.Context, date string) (*Availability, error) {
	var out Availability
	if err := c.do(ctx, http.MethodGet, "/v1/availability", availabilityQuery{Date: date}, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	var out result
	if err := c.do(ctx, http.MethodPost, "/v1/appointments", nil, req, &out); err != nil {
		return nil, err
	}
	return out.Appointment, nil
}

func (c *Client) Cancel(ctx context.Context, req CancelRequest) (*Appointment, error) {
	var out result
	if err := c.do(ctx, http.MethodPost, "/v1/appointments/cancel", nil, req, &out); err != nil {
		return nil, err
	}
	return out.Appointment, nil
}

// Active lists scheduled appointments by email.
func (c *Client) Active(ctx context.Context, email string) ([]Appointment, error) {
	return c.list(ctx, "/v1/appointments", listQuery{Email: strings.ToLower(strings.TrimSpace(email))}, "email")
}

func (c *Client) ActiveByName(ctx context.Context, name string) ([]Appointment, error) {
	return c.list(ctx, "/v1/appointments", listQuery{Name: strings.TrimSpace(name)}, "name")
}

func (c *Client) History(ctx context.Context, email string) ([]Appointment, error) {
	return c.list(ctx, "/v1/appointments/history", listQuery{Email: strings.ToLower(strings.TrimSpace(email))}, "email")
}

func (c *Client) list(ctx context.Context, path string, q listQuery, field string) ([]Appointment, error) {
	if q.Email == "" && q.Name == "" {
		return nil, &Error{Field: field, Message: "Please provide your " + field + " to search appointments"}
	}
	var out result
	if err := c.do(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	if out.Appointments == nil {
		return []Appointment{}, nil
	}
	return out.Appointments, nil
}

func (c *Client) do(ctx context.Context, method, path string, params, body, out any) error {
	url := c.baseURL + path
	if params != nil {
		v, err := query.Values(params)
		if err != nil {
			return &Error{Message: "Invalid request", Err: err}
		}
		if enc := v.Encode(); enc != "" {
			url += "?" + enc
		}
	}

	var bodyReader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &Error{Message: "Invalid request", Err: err}
		}
		bodyReader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return &Error{Message: "Invalid request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}
	if requestID, ok := ctx.Value(logger.RequestIDKey).(string); ok {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		logger.WarnContext(ctx, "Appointments API call failed", "method", method, "path", path, "error", err)
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Status: resp.StatusCode, Message: "Error parsing response", Err: err}
	}
	return nil
}

func transportError(err error) *Error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &Error{Message: msgTimeout, Err: err}
	}
	return &Error{Message: msgUnreachable, Err: err}
}

func decodeError(resp *http.Response) *Error {
	e := &Error{Status: resp.StatusCode}
	var body response.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err == nil {
		e.Code, e.Field, e.Message = body.Code, body.Details, body.Error
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		e.Message = msgNotFound
	case resp.StatusCode >= 500:
		e.Message = fmt.Sprintf("Server error: %d", resp.StatusCode)
	case e.Message == "":
		e.Message = fmt.Sprintf("HTTP Error: %d - %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return e
}
