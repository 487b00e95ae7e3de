package models

import "time"

// DataEntry is a user-owned secret. Name and Data are opaque encrypted blobs;
// the server stores and returns them unchanged. StagedName/StagedData hold an
// in-flight edit for the entry, independent of account-level rotation.
type DataEntry struct {
	ID        string
	PublicID  string
	AccountID string

	Name []byte
	Data []byte

	StagedName []byte
	StagedData []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Attachment is server-side metadata for an oversized entry payload kept in
// object storage. The ciphertext itself never touches the database.
type Attachment struct {
	EntryID   string
	AccountID string

	StorageKey   string
	UploadStatus string

	CreatedAt time.Time
}

// Attachment upload states.
const (
	UploadPending   = "pending"
	UploadCompleted = "completed"
)
