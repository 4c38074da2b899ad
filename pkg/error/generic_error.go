package error

import (
	"errors"
	"net/http"
)

// GenericError is implemented by every error that knows how to render itself
// on the HTTP boundary.
type GenericError interface {
	Error() string
	ErrCode() string
	StatusCode() int
}

type UnauthorizedError string

func (err UnauthorizedError) Error() string   { return string(err) }
func (err UnauthorizedError) ErrCode() string { return "UNAUTHORIZED" }
func (err UnauthorizedError) StatusCode() int { return http.StatusUnauthorized }

type ValidationError string

func (err ValidationError) Error() string   { return string(err) }
func (err ValidationError) ErrCode() string { return "BAD_REQUEST" }
func (err ValidationError) StatusCode() int { return http.StatusBadRequest }

type InvalidArgumentError string

func (err InvalidArgumentError) Error() string   { return string(err) }
func (err InvalidArgumentError) ErrCode() string { return "INVALID_ARGUMENT" }
func (err InvalidArgumentError) StatusCode() int { return http.StatusUnprocessableEntity }

// ProviderUnavailableError covers network failures and 5xx answers from the
// Evolution API. It is never retried synchronously.
type ProviderUnavailableError string

func (err ProviderUnavailableError) Error() string   { return string(err) }
func (err ProviderUnavailableError) ErrCode() string { return "PROVIDER_UNAVAILABLE" }
func (err ProviderUnavailableError) StatusCode() int { return http.StatusBadGateway }

type QuotaExceededError string

func (err QuotaExceededError) Error() string   { return string(err) }
func (err QuotaExceededError) ErrCode() string { return "QUOTA_EXCEEDED" }
func (err QuotaExceededError) StatusCode() int { return http.StatusConflict }

type InternalServerError string

func (err InternalServerError) Error() string   { return string(err) }
func (err InternalServerError) ErrCode() string { return "INTERNAL_SERVER_ERROR" }
func (err InternalServerError) StatusCode() int { return http.StatusInternalServerError }

type WebhookError string

func (err WebhookError) Error() string   { return string(err) }
func (err WebhookError) ErrCode() string { return "WEBHOOK_ERROR" }
func (err WebhookError) StatusCode() int { return http.StatusBadGateway }

func IsUnauthorized(err error) bool {
	var target UnauthorizedError
	return errors.As(err, &target)
}

func IsProviderUnavailable(err error) bool {
	var target ProviderUnavailableError
	return errors.As(err, &target)
}

func IsQuotaExceeded(err error) bool {
	var target QuotaExceededError
	return errors.As(err, &target)
}

func IsInvalidArgument(err error) bool {
	var target InvalidArgumentError
	return errors.As(err, &target)
}

// AsGeneric extracts the first GenericError in the chain.
func AsGeneric(err error) (GenericError, bool) {
	var target GenericError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
