package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jamesl1500/taskispace.com-sub003/internal/contextkeys"
	"github.com/sirupsen/logrus"
)

// Logger logs each HTTP request with method, path, status, and duration.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		fields := logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if id := middleware.GetReqID(r.Context()); id != "" {
			fields["request_id"] = id
		}
		if caller, ok := contextkeys.CallerFrom(r.Context()); ok {
			fields["user_id"] = caller.UserID
		}

		entry := logrus.WithFields(fields)
		switch {
		case ww.status >= http.StatusInternalServerError:
			entry.Error("request")
		case ww.status >= http.StatusBadRequest:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
