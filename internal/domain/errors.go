package domain

import "errors"

// Error classes. Every error returned by the service layer wraps exactly one of
// these so the transport layer can map it to a status code with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInactiveAccount = errors.New("account is inactive")
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("conflict")
	ErrPersistence     = errors.New("persistence failure")
)

type classifiedError struct {
	class error
	msg   string
	cause error
}

func (e *classifiedError) Error() string { return e.msg }

func (e *classifiedError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.class}
	}
	return []error{e.class, e.cause}
}

// NewError returns an error whose message is msg and which matches class with errors.Is
func NewError(class error, msg string) error {
	return &classifiedError{class: class, msg: msg}
}

// Classify attaches class to err while keeping err's message and identity
func Classify(class error, err error) error {
	if err == nil || errors.Is(err, class) {
		return err
	}
	return &classifiedError{class: class, msg: err.Error(), cause: err}
}

// Message returns the message of the outermost classified error in err's chain
func Message(err error) (string, bool) {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.msg, true
	}
	return "", false
}
