package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrIntegrity          = errors.New("integrity error")
	ErrStorage            = errors.New("storage error")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrAdapterUnavailable = errors.New("adapter unavailable")
	ErrPartialFailure     = errors.New("partial failure")
)

// PartialFailureError reports a restore that replaced some collections before
// failing on another. The live store is in a mixed state: Restored hold the
// snapshot contents, Failed and Skipped still hold their previous contents.
type PartialFailureError struct {
	BackupID string
	Restored []string
	Failed   []string
	Skipped  []string // never attempted because an earlier write failed
	Cause    error
}

func (e *PartialFailureError) Error() string {
	msg := fmt.Sprintf("restore of backup %s partially failed: restored [%s], failed [%s]",
		e.BackupID, strings.Join(e.Restored, ", "), strings.Join(e.Failed, ", "))
	if len(e.Skipped) > 0 {
		msg += fmt.Sprintf(", skipped [%s]", strings.Join(e.Skipped, ", "))
	}
	return fmt.Sprintf("%s: %v", msg, e.Cause)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Cause
}

func (e *PartialFailureError) Is(target error) bool {
	return target == ErrPartialFailure
}
