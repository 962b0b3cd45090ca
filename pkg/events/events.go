package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/diagnosis/tutoring-appointments/pkg/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

const headerMsgID = "Nats-Msg-Id"

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url, name string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set(headerMsgID, uuid.NewString())

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "bytes", len(payload))

	return n.conn.PublishMsg(msg)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(fromNATS(msg))
	})
	return err
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(fromNATS(msg))
	})
	return err
}

func (n *NATSEventBus) Close() error {
	return n.conn.Drain()
}

func fromNATS(msg *nats.Msg) *Message {
	id := ""
	if msg.Header != nil {
		id = msg.Header.Get(headerMsgID)
	}
	if id == "" {
		id = uuid.NewString()
	}
	return &Message{
		Subject:   msg.Subject,
		Data:      msg.Data,
		Timestamp: time.Now(),
		ID:        id,
	}
}

// MemoryEventBus delivers events synchronously inside the process. It is used
// when no NATS server is configured and in tests. Queue groups deliver each
// message to one member, round robin.
type MemoryEventBus struct {
	mu       sync.RWMutex
	handlers map[string][]func(*Message)
	queues   map[string]map[string]*memoryQueue
	closed   bool
}

type memoryQueue struct {
	members []func(*Message)
	next    int
}

func NewMemoryEventBus() *MemoryEventBus {
	return &MemoryEventBus{
		handlers: make(map[string][]func(*Message)),
		queues:   make(map[string]map[string]*memoryQueue),
	}
}

func (m *MemoryEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	msg := &Message{Subject: subject, Data: payload, Timestamp: time.Now(), ID: uuid.NewString()}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("event bus closed")
	}
	targets := append([]func(*Message){}, m.handlers[subject]...)
	for _, q := range m.queues[subject] {
		if len(q.members) == 0 {
			continue
		}
		targets = append(targets, q.members[q.next%len(q.members)])
		q.next++
	}
	m.mu.Unlock()

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "bytes", len(payload))
	for _, h := range targets {
		h(msg)
	}
	return nil
}

func (m *MemoryEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[subject] = append(m.handlers[subject], handler)
	return nil
}

func (m *MemoryEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	groups, ok := m.queues[subject]
	if !ok {
		groups = make(map[string]*memoryQueue)
		m.queues[subject] = groups
	}
	q, ok := groups[queue]
	if !ok {
		q = &memoryQueue{}
		groups[queue] = q
	}
	q.members = append(q.members, handler)
	return nil
}

func (m *MemoryEventBus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Subjects
const (
	AppointmentBooked   = "appointment.booked"
	AppointmentCanceled = "appointment.canceled"
	NotifyFailed        = "notify.failed"
)

type AppointmentBookedEvent struct {
	AppointmentID int64     `json:"appointment_id"`
	UserID        int64     `json:"user_id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	BookedAt      time.Time `json:"booked_at"`
}

type AppointmentCanceledEvent struct {
	AppointmentID int64     `json:"appointment_id"`
	Email         string    `json:"email"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	CanceledAt    time.Time `json:"canceled_at"`
}

type NotificationFailedEvent struct {
	AppointmentID int64    `json:"appointment_id"`
	Template      string   `json:"template"`
	UserOK        bool     `json:"user_ok"`
	AdminOK       bool     `json:"admin_ok"`
	Errors        []string `json:"errors"`
}
