package accounts

import (
	"context"

	"github.com/dkovalev/vaultcore/internal/server/models"
)

// Repository is the persistence contract for accounts.
type Repository interface {
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	GetByUsernameHash(ctx context.Context, usernameHash []byte) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	UpdateUsernameHash(ctx context.Context, id string, usernameHash []byte) error
	SetRotation(ctx context.Context, id string, rotating bool) error
	StageCredentials(ctx context.Context, id string, srpSalt, srpVerifier, masterKeySalt []byte) error
	PromoteStaged(ctx context.Context, id string) error
	ClearRotation(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}
