package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer. NotFound is a valid outcome, not a
// fault; the rest map onto the failure taxonomy the router and adapters
// propagate.
var (
	ErrNotFound           = fmt.Errorf("not found")
	ErrBackendUnavailable = fmt.Errorf("backend unavailable")
	ErrTransport          = fmt.Errorf("transport failure")
	ErrConflict           = fmt.Errorf("sync conflict detected")
	ErrInvalidInput       = fmt.Errorf("invalid input")
	ErrBackendRead        = fmt.Errorf("backend read failed")
	ErrBackendWrite       = fmt.Errorf("backend write failed")
	ErrSyncFailed         = fmt.Errorf("markdown sync failed")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrMaintenanceRunning = fmt.Errorf("maintenance pass already running")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Store.Create")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsNotFound reports whether err means "record absent" rather than a fault.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransient reports whether err is a per-call failure worth falling
// through to the next tier, as opposed to a probe-level unavailability.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrBackendRead)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	CodeTransport          ErrorCode = "TRANSPORT_FAILURE"
	CodeConflict           ErrorCode = "CONFLICT_DETECTED"
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
	CodeBackendRead        ErrorCode = "BACKEND_READ"
	CodeBackendWrite       ErrorCode = "BACKEND_WRITE"
	CodeSyncFailed         ErrorCode = "SYNC_FAILED"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeMaintenanceRunning ErrorCode = "MAINTENANCE_RUNNING"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:           CodeNotFound,
	ErrBackendUnavailable: CodeBackendUnavailable,
	ErrTransport:          CodeTransport,
	ErrConflict:           CodeConflict,
	ErrInvalidInput:       CodeInvalidInput,
	ErrBackendRead:        CodeBackendRead,
	ErrBackendWrite:       CodeBackendWrite,
	ErrSyncFailed:         CodeSyncFailed,
	ErrConfigLoad:         CodeConfigLoad,
	ErrMaintenanceRunning: CodeMaintenanceRunning,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
