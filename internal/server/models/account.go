// Package models defines the server-side entities persisted in the database.
package models

import "time"

// Account is the root entity. The server stores a blinded username hash and
// SRP credential material only; it never learns the plaintext username or
// password. Handshakes, sessions and data entries all reference the account
// and are removed with it.
//
// Staged* fields hold the incoming credentials during a password rotation.
// The coordinator keeps them non-nil exactly while RotationInProgress is
// true; storage does not enforce that invariant.
type Account struct {
	ID            string
	UsernameHash  []byte
	SRPSalt       []byte
	SRPVerifier   []byte
	MasterKeySalt []byte

	RotationInProgress  bool
	StagedSRPSalt       []byte
	StagedSRPVerifier   []byte
	StagedMasterKeySalt []byte

	CreatedAt time.Time
}

// Staged reports whether staged credential material is present.
func (a *Account) Staged() bool {
	return a.StagedSRPSalt != nil && a.StagedSRPVerifier != nil && a.StagedMasterKeySalt != nil
}
