package sales

import (
	"errors"
	"fmt"
)

// Routing faults are fatal to the affected station's records, never to the cycle.
// External-system faults abort or fail the cycle. Format faults exclude one record.
var (
	ErrUnknownStation       = errors.New("sales: unknown station")
	ErrUnsupportedPartition = errors.New("sales: unsupported partition")
	ErrAuthFailure          = errors.New("settlement: authentication failed")
	ErrTimeout              = errors.New("settlement: timeout")
	ErrSubmissionRejected   = errors.New("settlement: submission rejected")
	ErrFormat               = errors.New("sales: format error")
	ErrClaimLost            = errors.New("sales: claim no longer held")
	ErrRecordNotFound       = errors.New("sales: record not found")
)

// FormatError reports a record that cannot be shaped for the settlement service
type FormatError struct {
	RecordID string
	Field    string
	Reason   string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("record %s: field %s: %s", e.RecordID, e.Field, e.Reason)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// AuthError is returned when a token cannot be obtained.
// Rejected distinguishes credential rejection from an unreachable service.
type AuthError struct {
	Rejected   bool
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.Rejected {
		return fmt.Sprintf("settlement: credentials rejected (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("settlement: authentication unavailable: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func (e *AuthError) Is(target error) bool {
	return target == ErrAuthFailure
}

// IsRecordFault reports whether err only concerns a single record or station
func IsRecordFault(err error) bool {
	return errors.Is(err, ErrFormat) ||
		errors.Is(err, ErrUnknownStation) ||
		errors.Is(err, ErrUnsupportedPartition) ||
		errors.Is(err, ErrClaimLost)
}
