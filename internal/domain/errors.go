package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the machine-readable class of an AppError.
type ErrorKind string

const (
	KindNotAuthenticated    ErrorKind = "not_authenticated"
	KindForbidden           ErrorKind = "forbidden"
	KindBadRequest          ErrorKind = "bad_request"
	KindNotFound            ErrorKind = "not_found"
	KindInvalidPlan         ErrorKind = "invalid_plan"
	KindInvalidPeriod       ErrorKind = "invalid_period"
	KindNoSubscription      ErrorKind = "no_subscription"
	KindMalformedEvent      ErrorKind = "malformed_event"
	KindSubscriptionUnknown ErrorKind = "subscription_unknown"
	KindTransientStore      ErrorKind = "transient_store_failure"
	KindStoreInvariant      ErrorKind = "store_invariant_violation"
	KindInternal            ErrorKind = "internal"
)

// AppError is a structured application error with HTTP status code.
type AppError struct {
	Kind    ErrorKind `json:"code"`
	Code    int       `json:"-"`
	Message string    `json:"error"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError of the same kind, so sentinels work with errors.Is
// even when the returned error carries a different message or cause.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok || t.Kind == "" {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrNotAuthenticated    = &AppError{Kind: KindNotAuthenticated, Code: http.StatusUnauthorized, Message: "not authenticated"}
	ErrInvalidPlan         = &AppError{Kind: KindInvalidPlan, Code: http.StatusBadRequest, Message: "invalid plan"}
	ErrInvalidPeriod       = &AppError{Kind: KindInvalidPeriod, Code: http.StatusBadRequest, Message: "invalid billing period"}
	ErrNoSubscription      = &AppError{Kind: KindNoSubscription, Code: http.StatusNotFound, Message: "no billing account for user"}
	ErrMalformedEvent      = &AppError{Kind: KindMalformedEvent, Code: http.StatusBadRequest, Message: "malformed event"}
	ErrSubscriptionUnknown = &AppError{Kind: KindSubscriptionUnknown, Code: http.StatusConflict, Message: "subscription not known yet"}
	ErrTransientStore      = &AppError{Kind: KindTransientStore, Code: http.StatusServiceUnavailable, Message: "temporary storage failure"}
	ErrStoreInvariant      = &AppError{Kind: KindStoreInvariant, Code: http.StatusInternalServerError, Message: "storage invariant violated"}
)

// Common error constructors.

func ErrNotFound(msg string) *AppError {
	return &AppError{Kind: KindNotFound, Code: http.StatusNotFound, Message: msg}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Kind: KindNotAuthenticated, Code: http.StatusUnauthorized, Message: msg}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Kind: KindForbidden, Code: http.StatusForbidden, Message: msg}
}

func ErrBadRequest(msg string) *AppError {
	return &AppError{Kind: KindBadRequest, Code: http.StatusBadRequest, Message: msg}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Kind: KindBadRequest, Code: http.StatusUnprocessableEntity, Message: msg}
}

func ErrInternal(msg string, err error) *AppError {
	return &AppError{Kind: KindInternal, Code: http.StatusInternalServerError, Message: msg, Err: err}
}

// InvalidPlan reports an unknown or non-purchasable plan identifier.
func InvalidPlan(planID string) *AppError {
	return &AppError{Kind: KindInvalidPlan, Code: http.StatusBadRequest, Message: fmt.Sprintf("invalid plan %q", planID)}
}

// InvalidPeriod reports a billing period outside monthly|yearly.
func InvalidPeriod(period string) *AppError {
	return &AppError{Kind: KindInvalidPeriod, Code: http.StatusBadRequest, Message: fmt.Sprintf("invalid billing period %q", period)}
}

// MalformedEvent reports an inbound processor event that cannot be mapped.
func MalformedEvent(msg string) *AppError {
	return &AppError{Kind: KindMalformedEvent, Code: http.StatusBadRequest, Message: "malformed event: " + msg}
}

// TransientStore wraps a storage failure the caller should retry as a whole.
func TransientStore(err error) *AppError {
	return &AppError{Kind: KindTransientStore, Code: http.StatusServiceUnavailable, Message: "temporary storage failure", Err: err}
}

// StoreInvariant reports a storage state that must never occur.
func StoreInvariant(msg string) *AppError {
	return &AppError{Kind: KindStoreInvariant, Code: http.StatusInternalServerError, Message: "storage invariant violated: " + msg}
}

// AsAppError attempts to extract an AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
