// Package apperr implements the discriminated error taxonomy shared by
// every ephemera component. Handlers return *Error (or an error that
// wraps one); the HTTP layer maps Kind to a canonical status code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind discriminates the error taxonomy of the upload/download/archive
// pipelines, the quota accountant, and the notification/P2P subsystems.
type Kind int

const (
	KindUnknown Kind = iota
	KindRangeNotSupported
	KindInvalidRange
	KindRangeNotSatisfiable
	KindRangeTooLarge
	KindNotFound
	KindETagMismatch
	KindUnauthorized
	KindForbidden
	KindConflict
	KindBadRequest
	KindDatabase
	KindIO
	KindDiskQuotaExceeded
	KindUserQuotaExceeded
	KindIncompleteUpload
	KindTaskJoinFailed
	KindInternal
)

// Error is the single discriminated error type used across ephemera.
// Causes are chained for logging but never rendered in HTTP bodies.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Conflict carries the id of the pre-existing record a dedup hit
	// or hash collision resolved to.
	ConflictID string

	// UserQuotaExceeded detail.
	Used, Add, Quota int64

	// IncompleteUpload detail.
	Expected, Got int64
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Status maps Kind to the canonical HTTP status code per the error
// taxonomy's propagation rules. Causes of Kind Database and IO are
// further refined by their underlying error.
func (e *Error) Status() int {
	switch e.Kind {
	case KindRangeNotSupported:
		return http.StatusNotImplemented
	case KindInvalidRange:
		return http.StatusBadRequest
	case KindRangeNotSatisfiable:
		return http.StatusRequestedRangeNotSatisfiable
	case KindRangeTooLarge:
		return http.StatusRequestedRangeNotSatisfiable
	case KindNotFound:
		return http.StatusNotFound
	case KindETagMismatch:
		return http.StatusPreconditionFailed
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindBadRequest:
		return http.StatusBadRequest
	case KindDatabase:
		return refineDatabase(e.Cause)
	case KindIO:
		return refineIO(e.Cause)
	case KindDiskQuotaExceeded:
		return http.StatusInsufficientStorage
	case KindUserQuotaExceeded:
		return http.StatusInsufficientStorage
	case KindIncompleteUpload:
		return http.StatusPreconditionFailed
	case KindTaskJoinFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Body is the text sent to the client: the canonical reason phrase for
// 5xx, the specific message for 4xx.
func (e *Error) Body() string {
	status := e.Status()
	if status >= 500 {
		return http.StatusText(status)
	}
	return e.Message
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func Conflict(message, existingID string) *Error {
	return &Error{Kind: KindConflict, Message: message, ConflictID: existingID}
}

func BadRequest(message string) *Error {
	return &Error{Kind: KindBadRequest, Message: message}
}

func UserQuotaExceeded(used, add, quota int64) *Error {
	return &Error{
		Kind:    KindUserQuotaExceeded,
		Message: fmt.Sprintf("quota exceeded: used=%d add=%d quota=%d", used, add, quota),
		Used:    used, Add: add, Quota: quota,
	}
}

func IncompleteUpload(expected, got int64) *Error {
	return &Error{
		Kind:     KindIncompleteUpload,
		Message:  fmt.Sprintf("incomplete upload: expected %d bytes, got %d", expected, got),
		Expected: expected, Got: got,
	}
}

// As extracts an *Error from err, following the wrap chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusOf returns the HTTP status implied by err, defaulting to 500
// for errors that aren't *Error.
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.Status()
	}
	return http.StatusInternalServerError
}
