package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/jamesl1500/taskispace.com-sub003/internal/contextkeys"
	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
	"github.com/sirupsen/logrus"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logrus.WithError(err).Warn("failed to encode JSON response")
		}
	}
}

// Error writes an error JSON response, using AppError status codes when available.
func Error(w http.ResponseWriter, err error) {
	if appErr, ok := domain.AsAppError(err); ok {
		switch {
		case appErr.Kind == domain.KindTransientStore:
			w.Header().Set("Retry-After", "1")
			logrus.WithError(err).Warn("transient storage failure")
		case appErr.Code >= http.StatusInternalServerError:
			logrus.WithError(err).Error("request failed")
		}
		JSON(w, appErr.Code, map[string]string{"error": appErr.Message, "code": string(appErr.Kind)})
		return
	}
	logrus.WithError(err).Error("unhandled error")
	JSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error", "code": string(domain.KindInternal)})
}

// DecodeJSON decodes a JSON request body into the given struct and runs its
// validate tags.
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrBadRequest("invalid JSON body")
	}
	if err := validate.Struct(v); err != nil {
		return domain.ErrValidation(err.Error())
	}
	return nil
}

// userID returns the authenticated user from the request context.
func userID(r *http.Request) (string, error) {
	caller, ok := contextkeys.CallerFrom(r.Context())
	if !ok {
		return "", domain.ErrNotAuthenticated
	}
	return caller.UserID, nil
}
