package handshakes

import (
	"context"

	"github.com/dkovalev/vaultcore/internal/server/models"
)

// Repository is the persistence contract for in-flight SRP handshakes.
// Records are immutable after creation; deletion is the only mutation.
type Repository interface {
	Create(ctx context.Context, handshake *models.Handshake) (*models.Handshake, error)
	GetByPublicID(ctx context.Context, publicID string) (*models.Handshake, error)
	Delete(ctx context.Context, id string) error
	DeleteAllForAccount(ctx context.Context, accountID string) error
	SelectAll(ctx context.Context) ([]*models.Handshake, error)
}
