package configs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an unknown category, snapshot or pending plan.
	ErrNotFound = errors.New("configs: not found")
	// ErrForbidden indicates an attempt to remove a current or stable snapshot.
	ErrForbidden = errors.New("configs: forbidden")
	// ErrCategoryMismatch indicates a diff across two categories.
	ErrCategoryMismatch = errors.New("configs: category mismatch")
	// ErrSameVersion indicates a comparison of a snapshot with itself.
	ErrSameVersion = errors.New("configs: same version")
	// ErrValidation indicates malformed or missing input.
	ErrValidation = errors.New("configs: validation failed")
	// ErrNoChange indicates that a submitted configuration equals the current one.
	ErrNoChange = errors.New("configs: no change")
	// ErrConflict indicates that the current snapshot moved since the caller read it.
	ErrConflict = errors.New("configs: conflict")
)

var errorKinds = []struct {
	sentinel error
	kind     string
}{
	{ErrNotFound, "not_found"},
	{ErrForbidden, "forbidden"},
	{ErrCategoryMismatch, "category_mismatch"},
	{ErrSameVersion, "same_version"},
	{ErrValidation, "validation_error"},
	{ErrNoChange, "no_change"},
	{ErrConflict, "conflict"},
}

// ErrorKind returns the user-facing kind of err, or "internal" when err is not
// one of the package sentinels.
func ErrorKind(err error) string {
	for _, candidate := range errorKinds {
		if errors.Is(err, candidate.sentinel) {
			return candidate.kind
		}
	}
	return "internal"
}

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
