package api

import "errors"

// ErrInvalidRequest marks request failures the client caused. Handlers map
// anything wrapping it to a 400 response.
var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

// newInvalidRequest wraps msg so the result matches ErrInvalidRequest under
// errors.Is while keeping the original message for the response body.
func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}
