package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a missing entity. Handlers answer it with 404.
	ErrNotFound = errors.New("not found")
	// ErrInvalid marks a request the server understood but cannot accept.
	// Handlers answer it with 400.
	ErrInvalid = errors.New("invalid request")
)

// StatusError is a non-success response seen by the Client.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rpc server returned %d: %s", e.Code, e.Message)
}
