package entries

import (
	"context"

	"github.com/dkovalev/vaultcore/internal/server/models"
)

// Repository is the persistence contract for secure data entries.
// Update and StageEdit take nil for fields that should keep their stored
// value (patch semantics).
type Repository interface {
	Create(ctx context.Context, entry *models.DataEntry) (*models.DataEntry, error)
	GetByPublicID(ctx context.Context, publicID string) (*models.DataEntry, error)
	SelectByAccount(ctx context.Context, accountID string) ([]*models.DataEntry, error)
	Update(ctx context.Context, id string, name, data []byte) error
	StageEdit(ctx context.Context, id string, name, data []byte) error
	DiscardStaged(ctx context.Context, id string) error
	PromoteStagedForAccount(ctx context.Context, accountID string) error
	DiscardStagedForAccount(ctx context.Context, accountID string) error
	Delete(ctx context.Context, id string) error
}
