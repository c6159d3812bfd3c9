package presence

import "errors"

// Error codes surfaced to clients.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnknownSession   = "unknown_session"
	ErrCodeStoreUnavailable = "store_unavailable"
	ErrCodeInternal         = "internal"
)

var (
	ErrInvalidViewer  = errors.New("viewer id and login are required")
	ErrInvalidRoom    = errors.New("room is required")
	ErrUnknownSession = errors.New("unknown session")
	ErrClosed         = errors.New("presence store closed")
)

// Error wraps a code and human-readable message.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Unavailable marks err as a failure of the backing store.
func Unavailable(err error) error {
	return &Error{Code: ErrCodeStoreUnavailable, Message: "presence store unavailable", Err: err}
}

// Code maps err to a client-facing error code.
func Code(err error) string {
	var pe *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return pe.Code
	case errors.Is(err, ErrInvalidViewer), errors.Is(err, ErrInvalidRoom):
		return ErrCodeBadRequest
	case errors.Is(err, ErrUnknownSession):
		return ErrCodeUnknownSession
	default:
		return ErrCodeInternal
	}
}
