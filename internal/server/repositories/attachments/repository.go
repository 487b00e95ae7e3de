package attachments

import (
	"context"

	"github.com/dkovalev/vaultcore/internal/server/models"
)

// Repository is the persistence contract for attachment metadata.
type Repository interface {
	Create(ctx context.Context, attachment *models.Attachment) error
	GetByEntryID(ctx context.Context, entryID string) (*models.Attachment, error)
	MarkUploaded(ctx context.Context, entryID string) error
	Delete(ctx context.Context, entryID string) error
}
