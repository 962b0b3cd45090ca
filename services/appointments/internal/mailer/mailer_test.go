package mailer

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/diagnosis/tutoring-appointments/pkg/config"
)

func TestNewSelectsProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.EmailConfig
		wantErr bool
		check   func(Sender) bool
	}{
		{"dev default", config.EmailConfig{}, false, func(s Sender) bool { _, ok := s.(*DevMailer); return ok }},
		{"smtp", config.EmailConfig{Provider: "smtp", SMTPHost: "localhost", SMTPPort: 25, FromEmail: "a@b.c"}, false,
			func(s Sender) bool { _, ok := s.(*SMTPMailer); return ok }},
		{"smtp missing host", config.EmailConfig{Provider: "smtp", FromEmail: "a@b.c"}, true, nil},
		{"mailersend", config.EmailConfig{Provider: "mailersend", MailerSendKey: "key", FromEmail: "a@b.c"}, false,
			func(s Sender) bool { _, ok := s.(*MailerSendClient); return ok }},
		{"mailersend missing key", config.EmailConfig{Provider: "mailersend"}, true, nil},
		{"unknown", config.EmailConfig{Provider: "pigeon"}, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if tt.check != nil && !tt.check(s) {
				t.Fatalf("wrong sender %T", s)
			}
		})
	}
}

func TestSMTPBuild(t *testing.T) {
	s := NewSMTPMailer("localhost", 25, "New Turbo Education", "noreply@example.com", "", "", false)
	body, err := s.build(Message{To: "jane@example.com", ToName: "Jane Doe", Subject: "Appointment Confirmation", Text: "hello", HTML: "<p>hello</p>"})
	if err != nil {
		t.Fatal(err)
	}
	raw := string(body)
	for _, want := range []string{
		`From: "New Turbo Education" <noreply@example.com>`,
		`To: "Jane Doe" <jane@example.com>`,
		"Subject: Appointment Confirmation",
		"multipart/alternative",
		"text/plain; charset=utf-8",
		"<p>hello</p>",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

// fakeSMTP accepts a single unauthenticated message and returns its DATA.
func fakeSMTP(t *testing.T) (port int, data <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		reply := func(s string) { conn.Write([]byte(s + "\r\n")) }

		reply("220 localhost ready")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250-localhost")
				reply("250 8BITMIME")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				reply("250 OK")
			case cmd == "DATA":
				reply("354 go ahead")
				var sb strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					sb.WriteString(l)
				}
				out <- sb.String()
				reply("250 queued")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("250 OK")
			}
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port, out
}

func TestSMTPSend(t *testing.T) {
	port, data := fakeSMTP(t)
	s := NewSMTPMailer("127.0.0.1", port, "Center", "noreply@example.com", "", "", false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Send(ctx, Message{To: "jane@example.com", Subject: "Hi", Text: "body text"})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-data:
		if !strings.Contains(got, "body text") || !strings.Contains(got, "Subject: Hi") {
			t.Fatalf("unexpected DATA:\n%s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("server never received DATA")
	}
}

func TestSMTPSendRequiresRecipient(t *testing.T) {
	s := NewSMTPMailer("127.0.0.1", 1, "", "noreply@example.com", "", "", false)
	if err := s.Send(context.Background(), Message{To: "  "}); err == nil {
		t.Fatal("empty recipient should fail before dialing")
	}
}

func TestSMTPSendHonorsTLSRequirement(t *testing.T) {
	port, _ := fakeSMTP(t)
	s := NewSMTPMailer("127.0.0.1", port, "", "noreply@example.com", "", "", true)
	err := s.Send(context.Background(), Message{To: "jane@example.com", Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "STARTTLS") {
		t.Fatalf("want STARTTLS error, got %v", err)
	}
}
