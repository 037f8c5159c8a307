// Package errors provides structured error handling for the engine.
package errors

// Code is a machine-readable error code surfaced to clients.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Connection/session errors
	CodeNotConnected     Code = "NOT_CONNECTED"
	CodeNoWorld          Code = "NO_WORLD"
	CodeNoPC             Code = "NO_PC"
	CodeNotAuthorized    Code = "NOT_AUTHORIZED"
	CodeDmAlreadyPresent Code = "DM_ALREADY_PRESENT"

	// Moderation errors
	CodeQueueError    Code = "QUEUE_ERROR"
	CodeApprovalError Code = "APPROVAL_ERROR"

	// Shared errors
	CodeNotFound        Code = "NOT_FOUND"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeCircuitOpen     Code = "CIRCUIT_OPEN"
	CodeStorageError    Code = "STORAGE_ERROR"
)
