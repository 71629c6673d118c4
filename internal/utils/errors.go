package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// ValidationError reports input rejected before any collaborator was contacted.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// RemoteError reports a collaborator that answered with a non-success status
// or could not be reached. Status is zero when no response was received.
type RemoteError struct {
	Op     string
	Status int
	Msg    string
	Err    error
}

func (e *RemoteError) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	default:
		return fmt.Sprintf("%s: collaborator returned %d %s", e.Op, e.Status, http.StatusText(e.Status))
	}
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// StreamError reports a push transport failure.
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Op, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// MalformedPayloadError reports a payload that could not be decoded.
type MalformedPayloadError struct {
	Transport string
	Err       error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed %s payload: %v", e.Transport, e.Err)
}

func (e *MalformedPayloadError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsRemote reports whether err carries a RemoteError.
func IsRemote(err error) bool {
	var r *RemoteError
	return errors.As(err, &r)
}

// IsNotFound reports whether err is a RemoteError for a 404 response.
func IsNotFound(err error) bool {
	var r *RemoteError
	return errors.As(err, &r) && r.Status == http.StatusNotFound
}
