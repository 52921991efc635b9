package apperr

import (
	"errors"
	"net/http"
	"strings"
)

// Kind classifies where an error came from and how callers should react to it.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuth          Kind = "auth"
	KindAuthorization Kind = "authorization"
	KindDomain        Kind = "domain"
	KindTransport     Kind = "transport"
)

const CodeAlreadyVoted = "already_voted"

type AppError struct {
	Kind    Kind   `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
	Err     error  `json:"-"`
	status  int
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *AppError) StatusCode() int {
	if e == nil || e.status == 0 {
		return http.StatusInternalServerError
	}
	return e.status
}

// Validation errors are raised locally and never reach the network.
func Validation(code, msg string) *AppError {
	return &AppError{Kind: KindValidation, Code: code, Message: msg, status: http.StatusBadRequest}
}

func Auth(code, msg string, err error) *AppError {
	return &AppError{Kind: KindAuth, Code: code, Message: msg, Err: err, status: http.StatusUnauthorized}
}

func Authorization(code, msg string, err error) *AppError {
	return &AppError{Kind: KindAuthorization, Code: code, Message: msg, Err: err, status: http.StatusUnauthorized}
}

func Domain(status int, code, msg string, err error) *AppError {
	return &AppError{Kind: KindDomain, Code: code, Message: msg, Err: err, status: status}
}

func Transport(msg string, err error) *AppError {
	return &AppError{Kind: KindTransport, Code: "transport_error", Message: msg, Err: err, status: http.StatusBadGateway}
}

func BadRequest(code, msg string, err error) *AppError {
	return newAppError(KindDomain, code, msg, err, http.StatusBadRequest)
}

func NotFound(code, msg string, err error) *AppError {
	return newAppError(KindDomain, code, msg, err, http.StatusNotFound)
}

func Conflict(code, msg string, err error) *AppError {
	return newAppError(KindDomain, code, msg, err, http.StatusConflict)
}

func Unauthorized(code, msg string, err error) *AppError {
	return newAppError(KindAuthorization, code, msg, err, http.StatusUnauthorized)
}

func Forbidden(code, msg string, err error) *AppError {
	return newAppError(KindDomain, code, msg, err, http.StatusForbidden)
}

func TooManyRequests(code, msg string, err error) *AppError {
	return newAppError(KindDomain, code, msg, err, http.StatusTooManyRequests)
}

func Internal(code, msg string, err error) *AppError {
	return newAppError(KindTransport, code, msg, err, http.StatusInternalServerError)
}

// FromStatus classifies a non-2xx REST response. authEndpoint marks login and
// registration calls, whose 401s are credential rejections rather than an
// expired session.
func FromStatus(status int, code, msg string, authEndpoint bool) *AppError {
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case authEndpoint && status >= 400 && status < 500:
		return &AppError{Kind: KindAuth, Code: code, Message: msg, status: status}
	case status == http.StatusUnauthorized:
		return &AppError{Kind: KindAuthorization, Code: code, Message: msg, status: status}
	case status >= 500:
		return &AppError{Kind: KindTransport, Code: code, Message: msg, status: status}
	default:
		return &AppError{Kind: KindDomain, Code: code, Message: msg, status: status}
	}
}

func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("internal_error", http.StatusText(http.StatusInternalServerError), err)
}

func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// IsAlreadyVoted matches both the machine code and the human message, since
// servers differ in which one they populate.
func IsAlreadyVoted(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code == CodeAlreadyVoted {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already voted")
}

func newAppError(kind Kind, code, msg string, err error, status int) *AppError {
	return &AppError{
		Kind:    kind,
		Code:    code,
		Message: msg,
		Err:     err,
		status:  status,
	}
}
