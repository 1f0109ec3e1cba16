package services

import "errors"

var (
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrWriteConflict means the assignment changed since it was read; re-read and retry.
	ErrWriteConflict = errors.New("assignment was modified concurrently")
	// ErrLeaseHeld means another worker is evaluating the assignment right now.
	ErrLeaseHeld = errors.New("assignment is being evaluated elsewhere")
	// ErrAssignmentClosed is returned for state changes on AUTO_UNASSIGNED or RELEASED records.
	ErrAssignmentClosed = errors.New("assignment is closed")

	// ErrInvalidInput wraps request validation failures.
	ErrInvalidInput = errors.New("invalid input")

	ErrInvalidCredentials = errors.New("invalid credentials")
)
