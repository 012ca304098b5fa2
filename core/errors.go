package core

import "errors"

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// ValidationError sentinels (spec §7's ValidationError taxonomy).
var (
	ErrBadEncoding               = errors.New("validation: bad encoding")
	ErrUnknownParent             = errors.New("validation: unknown parent")
	ErrBadSignature              = errors.New("validation: bad signature")
	ErrTransactionConflict       = errors.New("validation: transaction conflict")
	ErrOutputOverflow            = errors.New("validation: output overflow")
	ErrMonotonicPrivacyViolation = errors.New("validation: monotonic privacy violation")
	ErrEquivocation              = errors.New("validation: equivocation")
)
