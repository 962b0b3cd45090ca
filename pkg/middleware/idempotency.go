package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/diagnosis/tutoring-appointments/pkg/logger"
)

// IdempotencyStore keeps replayable responses keyed by a hashed
// Idempotency-Key header.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Idempotency replays the first successful response for a repeated POST with
// the same Idempotency-Key. A nil store disables it.
func Idempotency(store IdempotencyStore, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}

			sum := sha256.Sum256([]byte(r.URL.Path + "\x00" + key))
			hashedKey := fmt.Sprintf("idempotency:%x", sum)

			if existing, err := store.Get(r.Context(), hashedKey); err == nil && existing != "" {
				var prev storedResponse
				if json.Unmarshal([]byte(existing), &prev) == nil && prev.Status != 0 {
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("Idempotent-Replayed", "true")
					w.WriteHeader(prev.Status)
					w.Write(prev.Body)
					return
				}
			}

			recorder := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(recorder, r)

			if recorder.statusCode < 200 || recorder.statusCode >= 300 || !json.Valid(recorder.body) {
				return
			}
			payload, err := json.Marshal(storedResponse{Status: recorder.statusCode, Body: recorder.body})
			if err != nil {
				return
			}
			if err := store.Set(r.Context(), hashedKey, string(payload), ttl); err != nil {
				logger.WarnContext(r.Context(), "Failed to store idempotent response", "error", err)
			}
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       []byte
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(body []byte) (int, error) {
	r.body = append(r.body, body...)
	return r.ResponseWriter.Write(body)
}
