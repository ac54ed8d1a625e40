package services

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies why a generation call failed.
type ErrorKind string

const (
	KindUnavailable ErrorKind = "unavailable"
	KindTimeout     ErrorKind = "timeout"
	KindEmptyReply  ErrorKind = "empty_reply"
	KindCanceled    ErrorKind = "canceled"
)

// ServiceError is returned by every failed call to the generative text service.
type ServiceError struct {
	Kind ErrorKind
	Err  error
}

func (e *ServiceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("generative service %s", e.Kind)
	}
	return fmt.Sprintf("generative service %s: %v", e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// AsServiceError normalizes any error into a *ServiceError. Context errors map
// to timeout/canceled; anything else not already classified is unavailable.
func AsServiceError(err error) *ServiceError {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ServiceError{Kind: KindTimeout, Err: err}
	case errors.Is(err, context.Canceled):
		return &ServiceError{Kind: KindCanceled, Err: err}
	default:
		return &ServiceError{Kind: KindUnavailable, Err: err}
	}
}
