// Package common defines shared sentinel errors and small helpers used across
// the server components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Account-level errors.
	ErrorAccountNotFound  = errors.New("account not found")
	ErrorDuplicateAccount = errors.New("account already exists")

	// ErrorNotFound covers handshakes, sessions and data entries that are
	// absent or expired. The two cases are intentionally indistinguishable:
	// an expired record is deleted before this error is returned.
	ErrorNotFound = errors.New("not found")

	// Rotation state machine errors.
	ErrorRotationInProgress = errors.New("credential rotation in progress")
	ErrorRotationMismatch   = errors.New("rotation state mismatch")

	// Protocol errors.
	ErrorProofMismatch = errors.New("proof mismatch")

	// Infrastructure errors. Detail is logged server-side; callers only see
	// the sentinel.
	ErrorStorageUnavailable = errors.New("storage unavailable")
	ErrorInternal           = errors.New("internal error")
)
