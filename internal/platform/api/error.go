// Package api holds the plain-text error responses shared by the proxy
// handlers. Players and curl users read these bodies directly, so they stay
// short and human readable.
package api

import (
	"net/http"
	"strconv"
	"time"
)

func WriteText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// Convenience helpers
func BadRequest(w http.ResponseWriter, message string) {
	WriteText(w, http.StatusBadRequest, message)
}

func RateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(retryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	WriteText(w, http.StatusTooManyRequests, "rate limit exceeded\n")
}

// Internal reports a failed request with its reason; requestID, when set, is
// appended so operators can find the matching log line.
func Internal(w http.ResponseWriter, reason, requestID string) {
	msg := "error processing playlist: " + reason
	if requestID != "" {
		msg += " (request " + requestID + ")"
	}
	WriteText(w, http.StatusInternalServerError, msg+"\n")
}
