package middleware

import (
	"net/http"

	"github.com/jamesl1500/taskispace.com-sub003/internal/contextkeys"
	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
	"github.com/jamesl1500/taskispace.com-sub003/internal/handler"
	"github.com/sirupsen/logrus"
)

// AdminOnly lets through only callers whose token carries the admin role.
// Must be used AFTER Auth.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, _ := contextkeys.CallerFrom(r.Context())
		if caller.Role != domain.RoleAdmin {
			logrus.WithFields(logrus.Fields{"user_id": caller.UserID, "path": r.URL.Path}).Warn("admin route denied")
			handler.Error(w, domain.ErrForbidden("admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
