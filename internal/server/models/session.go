package models

import "time"

// Session is an authenticated login session minted from a completed
// handshake. SessionKey is the SRP-derived key, unique across all sessions.
// MaxRequests and ExpiresAt are independent expiry policies; nil disables
// the corresponding check.
type Session struct {
	ID        string
	PublicID  string
	AccountID string

	SessionKey   []byte
	RequestCount int64
	LastUsed     time.Time

	MaxRequests *int64
	ExpiresAt   *time.Time

	Rotation  bool
	CreatedAt time.Time
}

// Validity exposes both expiry policies through the shared check.
func (s *Session) Validity() Validity {
	return Validity{ExpiresAt: s.ExpiresAt, MaxUses: s.MaxRequests, Uses: s.RequestCount}
}
