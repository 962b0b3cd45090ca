package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/diagnosis/tutoring-appointments/pkg/auth"
	"github.com/diagnosis/tutoring-appointments/pkg/logger"
	"github.com/diagnosis/tutoring-appointments/pkg/response"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/availability"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/domain"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/service"
	"github.com/go-chi/chi/v5"
)

// AvailabilityChecker answers availability queries.
type AvailabilityChecker interface {
	Check(ctx context.Context, date string) availability.CheckResult
}

type Handlers struct {
	appointments service.AppointmentService
	availability AvailabilityChecker
	jwtSecret    string
}

func New(appointments service.AppointmentService, checker AvailabilityChecker, jwtSecret string) *Handlers {
	return &Handlers{
		appointments: appointments,
		availability: checker,
		jwtSecret:    jwtSecret,
	}
}

// Routes mounts the public and admin API under r.
func (h *Handlers) Routes(r chi.Router, bookingMW ...func(http.Handler) http.Handler) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/availability", h.CheckAvailability)

		r.Route("/appointments", func(r chi.Router) {
			r.With(bookingMW...).Post("/", h.BookAppointment)
			r.With(bookingMW...).Post("/cancel", h.CancelAppointment)
			r.Get("/", h.ListActiveAppointments)
			r.Get("/history", h.AppointmentHistory)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.RequireAdmin)
			r.Get("/appointments", h.DaySheet)
		})
	})
}

type claimsKey struct{}

// RequireAdmin accepts only bearer tokens carrying the admin role.
func (h *Handlers) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			response.WriteError(w, http.StatusUnauthorized, "Missing or invalid authorization header", response.CodeUnauthorized)
			return
		}

		claims, err := auth.Parse(strings.TrimPrefix(authHeader, "Bearer "), h.jwtSecret)
		if err != nil {
			response.WriteError(w, http.StatusUnauthorized, "Invalid token", response.CodeUnauthorized)
			return
		}
		if claims.Role != auth.RoleAdmin {
			response.WriteError(w, http.StatusForbidden, "Insufficient permissions", response.CodeForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getClaims(r *http.Request) *auth.Claims {
	if claims, ok := r.Context().Value(claimsKey{}).(*auth.Claims); ok {
		return claims
	}
	return nil
}

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.WriteError(w, http.StatusBadRequest, "Invalid JSON format", response.CodeInvalidInput)
		return false
	}
	return true
}

// writeServiceError maps domain errors to HTTP replies. Storage details are
// logged, never returned.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *domain.ValidationError
		conflict   *domain.SlotConflictError
		notFound   *domain.NotFoundError
	)
	switch {
	case errors.As(err, &validation):
		response.WriteErrorWithDetails(w, http.StatusBadRequest, validation.Error(), response.CodeInvalidInput, validation.Field)
	case errors.As(err, &conflict):
		response.WriteError(w, http.StatusConflict, conflict.Error(), response.CodeConflict)
	case errors.As(err, &notFound):
		response.WriteError(w, http.StatusNotFound, notFound.Error(), response.CodeNotFound)
	default:
		logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
		response.WriteError(w, http.StatusInternalServerError, "Something went wrong. Please try again later.", response.CodeInternalError)
	}
}
