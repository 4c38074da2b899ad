package error

import (
	"errors"
	"net/http"
)

// NotFoundError is returned when a connection, instance or channel is unknown.
// Callers of provider operations usually degrade it (treat as disconnected or
// already deleted) instead of surfacing it.
type NotFoundError string

func (err NotFoundError) Error() string {
	return string(err)
}

func (err NotFoundError) ErrCode() string {
	return "NOT_FOUND_ERROR"
}

func (err NotFoundError) StatusCode() int {
	return http.StatusNotFound
}

func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}
