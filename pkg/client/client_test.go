package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL + "/")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestCheckAvailability(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/availability" || r.URL.Query().Get("date") != "2025-03-10" {
			t.Errorf("unexpected request %s", r.URL)
		}
		writeJSON(w, http.StatusOK, map[string]any{"date": "2025-03-10", "available_slots": []string{"10:00", "11:00"}})
	})

	got, err := c.CheckAvailability(context.Background(), "2025-03-10")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.AvailableSlots) != 2 || got.Reason != "" {
		t.Fatalf("availability = %+v", got)
	}
}

func TestBookSendsJSONAndIdempotencyKey(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/appointments" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Idempotency-Key") == "" {
			t.Error("missing Idempotency-Key")
		}
		var req BookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"success": true,
			"message": "Appointment scheduled successfully",
			"appointment": map[string]any{
				"id": 7, "name": req.Name, "email": req.Email, "phone": req.Phone,
				"date": req.Date, "time": req.Time, "status": "scheduled",
			},
		})
	})

	appt, err := c.Book(context.Background(), BookingRequest{
		Name: "Jane Doe", Email: "jane@example.com", Phone: "555-0100", Date: "2025-03-10", Time: "10:00",
	})
	if err != nil {
		t.Fatal(err)
	}
	if appt.ID != 7 || appt.Status != "scheduled" || appt.Time != "10:00" {
		t.Fatalf("appointment = %+v", appt)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantMsg   string
		wantField string
		conflict  bool
		notFound  bool
	}{
		{"validation", 400, `{"error":"Missing required field: phone","code":"INVALID_INPUT","details":"phone"}`, "Missing required field: phone", "phone", false, false},
		{"conflict", 409, `{"error":"This time slot is already booked","code":"CONFLICT"}`, "This time slot is already booked", "", true, false},
		{"not found", 404, `{"error":"Appointment not found","code":"NOT_FOUND"}`, msgNotFound, "", false, true},
		{"server", 500, `{"error":"Something went wrong. Please try again later.","code":"INTERNAL_ERROR"}`, "Server error: 500", "", false, false},
		{"no body", 429, ``, "HTTP Error: 429 - Too Many Requests", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.Cancel(context.Background(), CancelRequest{Email: "jane@example.com", Date: "2025-03-10", Time: "10:00"})
			var ce *Error
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v", err)
			}
			if ce.Message != tt.wantMsg || ce.Field != tt.wantField || ce.Status != tt.status {
				t.Fatalf("error = %+v", ce)
			}
			if IsConflict(err) != tt.conflict || IsNotFound(err) != tt.notFound {
				t.Fatalf("IsConflict=%v IsNotFound=%v", IsConflict(err), IsNotFound(err))
			}
		})
	}
}

func TestActiveNormalizesEmailAndEmptyList(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("email"); got != "jane@example.com" {
			t.Errorf("email = %q", got)
		}
		if r.URL.Query().Has("name") {
			t.Error("name should be omitted")
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "No active appointments found"})
	})

	got, err := c.Active(context.Background(), "  Jane@Example.COM ")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("appointments = %#v", got)
	}
}

func TestHistoryAndByName(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/appointments/history":
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "appointments": []map[string]any{
				{"id": 1, "status": "canceled", "display_status": "canceled"},
				{"id": 2, "status": "scheduled", "display_status": "completed", "is_past": true},
			}})
		case "/v1/appointments":
			if r.URL.Query().Get("name") != "Jane Doe" {
				t.Errorf("name = %q", r.URL.Query().Get("name"))
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "appointments": []map[string]any{{"id": 3}}})
		}
	})

	hist, err := c.History(context.Background(), "jane@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[1].DisplayStatus != "completed" || !hist[1].IsPast {
		t.Fatalf("history = %+v", hist)
	}

	byName, err := c.ActiveByName(context.Background(), " Jane Doe ")
	if err != nil {
		t.Fatal(err)
	}
	if len(byName) != 1 || byName[0].ID != 3 {
		t.Fatalf("by name = %+v", byName)
	}
}

func TestListRequiresKey(t *testing.T) {
	c := New("http://127.0.0.1:1")
	_, err := c.Active(context.Background(), "   ")
	var ce *Error
	if !errors.As(err, &ce) || ce.Field != "email" {
		t.Fatalf("err = %v", err)
	}
}

func TestTimeoutMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(srv.URL, WithTimeout(20*time.Millisecond))
	_, err := c.CheckAvailability(context.Background(), "2025-03-10")
	var ce *Error
	if !errors.As(err, &ce) || ce.Message != msgTimeout {
		t.Fatalf("err = %v", err)
	}
}

func TestUnreachableMessage(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).CheckAvailability(context.Background(), "2025-03-10")
	var ce *Error
	if !errors.As(err, &ce) || ce.Message != msgUnreachable {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), msgUnreachable) {
		t.Fatalf("Error() = %q", err.Error())
	}
}
