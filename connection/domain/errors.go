package domain

import (
	"errors"

	pkgError "github.com/AzielCF/az-connect/pkg/error"
)

var (
	ErrConnectionNotFound = pkgError.NotFoundError("connection not found")
	ErrWorkspaceNotFound  = pkgError.NotFoundError("workspace not found")
	ErrChannelNotFound    = pkgError.NotFoundError("channel not found")
	ErrInvalidSecret      = pkgError.UnauthorizedError("invalid or missing webhook secret")
	ErrQuotaExceeded      = pkgError.QuotaExceededError("workspace connection quota exceeded")
	ErrDuplicateInstance  = pkgError.InvalidArgumentError("instance name already in use")
	ErrInvalidTransition  = pkgError.InvalidArgumentError("invalid status transition")

	// ErrDuplicateMessage signals an inbound message that was already stored.
	// Callers treat it as a no-op.
	ErrDuplicateMessage = errors.New("message already recorded")
)
