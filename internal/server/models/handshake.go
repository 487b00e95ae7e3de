package models

import "time"

// Handshake is a short-lived record binding a server ephemeral keypair to an
// account during an in-flight SRP exchange. It is consumed exactly once:
// promoted into a Session or reclaimed on expiry. Never updated in place.
type Handshake struct {
	ID        string
	PublicID  string
	AccountID string

	ServerPrivate []byte
	ServerPublic  []byte

	ExpiresAt time.Time
	Rotation  bool
	CreatedAt time.Time
}

// Validity adapts the handshake's single absolute deadline to the shared
// validity check.
func (h *Handshake) Validity() Validity {
	expires := h.ExpiresAt
	return Validity{ExpiresAt: &expires}
}
