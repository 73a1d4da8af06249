package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
	"github.com/jamesl1500/taskispace.com-sub003/internal/handler"
	"github.com/sirupsen/logrus"
)

// Recovery catches panics and returns a 500 error instead of crashing the server.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logrus.WithFields(logrus.Fields{
					"panic":  rec,
					"method": r.Method,
					"path":   r.URL.Path,
					"stack":  string(debug.Stack()),
				}).Error("recovered from panic")
				handler.Error(w, domain.ErrInternal("internal server error", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
