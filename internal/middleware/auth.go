package middleware

import (
	"net/http"
	"strings"

	"github.com/jamesl1500/taskispace.com-sub003/internal/contextkeys"
	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
	"github.com/jamesl1500/taskispace.com-sub003/internal/handler"
	"github.com/jamesl1500/taskispace.com-sub003/internal/service"
)

// Auth creates a JWT authentication middleware. Every handler behind it can
// rely on contextkeys.CallerFrom succeeding.
func Auth(authSvc *service.AuthService) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				handler.Error(w, domain.ErrUnauthorized("missing or malformed bearer token"))
				return
			}

			claims, err := authSvc.VerifyToken(token)
			if err != nil {
				handler.Error(w, err)
				return
			}

			ctx := contextkeys.WithCaller(r.Context(), contextkeys.Caller{
				UserID: claims.Sub,
				Email:  claims.Email,
				Role:   claims.Role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
