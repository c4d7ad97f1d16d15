package backup

import (
	"errors"
	"fmt"
)

var (
	ErrNoBackups         = errors.New("no backups found")
	ErrDumpMissing       = errors.New("dump does not exist")
	ErrDumpUnreadable    = errors.New("dump could not be read")
	ErrForeignDump       = errors.New("dump was not generated by " + ProductName)
	ErrDumpFailed        = errors.New("dump failed")
	ErrQueryFailed       = errors.New("query failed")
	ErrInvalidBackupName = errors.New("invalid backup name")
)

// ManagerError is the single error type surfaced by the Manager.
// Kind is one of the sentinel errors above so callers can use errors.Is,
// Cause is the underlying failure when there is one.
type ManagerError struct {
	Kind    error
	Message string
	Cause   error
}

func (e *ManagerError) Error() string {
	return e.Message
}

func (e *ManagerError) Unwrap() []error {
	errs := make([]error, 0, 2)

	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}

	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}

	return errs
}

func newManagerError(kind error, format string, args ...any) *ManagerError {
	return &ManagerError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// The message of a wrapped failure is the message of its cause.
func wrapManagerError(kind error, cause error) *ManagerError {
	var managerErr *ManagerError
	if errors.As(cause, &managerErr) {
		return managerErr
	}

	return &ManagerError{
		Kind:    kind,
		Message: cause.Error(),
		Cause:   cause,
	}
}
