package handlers

import (
	"net/http"

	"github.com/diagnosis/tutoring-appointments/pkg/logger"
	"github.com/diagnosis/tutoring-appointments/pkg/response"
)

type daySheetResponse struct {
	Date         string `json:"date"`
	Appointments any    `json:"appointments"`
	Count        int    `json:"count"`
}

// DaySheet lists every appointment of ?date=, canceled ones included.
func (h *Handlers) DaySheet(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	recs, err := h.appointments.DaySheet(r.Context(), date)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if claims := getClaims(r); claims != nil {
		logger.InfoContext(r.Context(), "Day sheet viewed", "admin", logger.MaskEmail(claims.Email), "date", date)
	}

	response.WriteJSON(w, http.StatusOK, daySheetResponse{
		Date:         date,
		Appointments: nonNil(recs),
		Count:        len(recs),
	})
}
