package models

import "time"

// Validity bundles the two independent expiry policies a record can carry:
// an absolute deadline and a use budget. Either, both, or neither may be set.
type Validity struct {
	ExpiresAt *time.Time
	MaxUses   *int64
	Uses      int64
}

// Valid reports whether the record is still usable at the given instant.
func (v Validity) Valid(now time.Time) bool {
	if v.ExpiresAt != nil && now.After(*v.ExpiresAt) {
		return false
	}
	if v.MaxUses != nil && v.Uses >= *v.MaxUses {
		return false
	}
	return true
}
