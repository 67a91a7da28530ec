package chi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/marcelsud/webhook-relay/webhook"
)

// Inbound bodies larger than this are rejected with 413
const maxBodyBytes = 10 << 20

/* HTTP layer DTOs for the collector API
 * Separate from domain entities to avoid leaking internal structure
 */

// acceptedResponse is returned when a webhook was queued
type acceptedResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

// errorResponse is the body of every non-2xx answer
type errorResponse struct {
	Detail string `json:"detail"`
}

// statusResponse is returned by the health check
type statusResponse struct {
	Status string `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// statusFor maps collector errors to their HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, webhook.ErrUnknownSource):
		return http.StatusNotFound
	case errors.Is(err, webhook.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, webhook.ErrMissingSignature), errors.Is(err, webhook.ErrInvalidPayload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// postWebhook handles POST /webhooks/{source}
func postWebhook(svc webhook.UseCase, opts Options) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		source := chi.URLParam(r, "source")

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		defer r.Body.Close()

		id, err := svc.Accept(r.Context(), webhook.Request{
			Source:  source,
			Body:    body,
			Headers: r.Header,
		})

		if err == nil || errors.Is(err, webhook.ErrPublish) {
			opts.Recorder.WebhookReceived(r.Context(), source, time.Since(start))
			opts.Recorder.QueuePublished(r.Context(), opts.QueueType, err)
		}

		if err != nil {
			status := statusFor(err)
			if status == http.StatusInternalServerError {
				opts.Logger.Error("failed to queue webhook", zap.String("source", source), zap.Error(err))
				writeError(w, status, "failed to queue webhook")
				return
			}
			opts.Logger.Warn("webhook rejected",
				zap.String("source", source),
				zap.Int("status", status),
				zap.Error(err),
			)
			writeError(w, status, err.Error())
			return
		}

		opts.Logger.Info("webhook queued", zap.String("source", source), zap.String("message_id", id))
		writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", MessageID: id})
	})
}

// getHealth handles GET /webhooks/health
func getHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
	})
}
