package handlers

import (
	"net/http"
	"strings"

	"github.com/diagnosis/tutoring-appointments/pkg/response"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/domain"
)

type availabilityResponse struct {
	Date           string   `json:"date"`
	AvailableSlots []string `json:"available_slots"`
	Reason         string   `json:"reason,omitempty"`
}

type bookingResponse struct {
	Success     bool                 `json:"success"`
	Message     string               `json:"message"`
	Appointment *domain.Confirmation `json:"appointment"`
}

type cancelResponse struct {
	Success     bool                      `json:"success"`
	Message     string                    `json:"message"`
	Appointment *domain.AppointmentRecord `json:"appointment,omitempty"`
}

type listResponse struct {
	Success      bool                       `json:"success"`
	Appointments []domain.AppointmentRecord `json:"appointments"`
	Message      string                     `json:"message,omitempty"`
}

// CheckAvailability never fails on bad input; the reason field explains an
// empty list.
func (h *Handlers) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	res := h.availability.Check(r.Context(), r.URL.Query().Get("date"))
	response.WriteJSON(w, http.StatusOK, availabilityResponse{
		Date:           res.Date,
		AvailableSlots: res.Slots,
		Reason:         res.Reason,
	})
}

func (h *Handlers) BookAppointment(w http.ResponseWriter, r *http.Request) {
	var req domain.BookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	conf, err := h.appointments.Book(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, bookingResponse{
		Success:     true,
		Message:     "Appointment scheduled successfully",
		Appointment: conf,
	})
}

func (h *Handlers) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	var req domain.CancelRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := h.appointments.Cancel(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, cancelResponse{
		Success:     true,
		Message:     "Appointment cancelled successfully",
		Appointment: rec,
	})
}

// ListActiveAppointments looks up by ?email= or, failing that, ?name=.
func (h *Handlers) ListActiveAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	email, name := strings.TrimSpace(q.Get("email")), strings.TrimSpace(q.Get("name"))

	var (
		recs []domain.AppointmentRecord
		err  error
	)
	switch {
	case email != "":
		recs, err = h.appointments.ListActive(r.Context(), email)
	case name != "":
		recs, err = h.appointments.ListActiveByName(r.Context(), name)
	default:
		response.WriteErrorWithDetails(w, http.StatusBadRequest, "Missing required field: email", response.CodeInvalidInput, "email")
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := listResponse{Success: true, Appointments: nonNil(recs)}
	if len(recs) == 0 {
		resp.Message = "No active appointments found"
	}
	response.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handlers) AppointmentHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := h.appointments.History(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, listResponse{Success: true, Appointments: nonNil(recs)})
}

func nonNil(recs []domain.AppointmentRecord) []domain.AppointmentRecord {
	if recs == nil {
		return []domain.AppointmentRecord{}
	}
	return recs
}
