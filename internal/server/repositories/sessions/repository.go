package sessions

import (
	"context"
	"time"

	"github.com/dkovalev/vaultcore/internal/server/models"
)

// Repository is the persistence contract for login sessions.
type Repository interface {
	Create(ctx context.Context, session *models.Session) (*models.Session, error)
	GetByPublicID(ctx context.Context, publicID string) (*models.Session, error)
	GetByID(ctx context.Context, id string) (*models.Session, error)
	LogUse(ctx context.Context, id string, now time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteAllForAccount(ctx context.Context, accountID string) error
	DeleteAllForAccountExcept(ctx context.Context, accountID, keepPublicID string) error
	ClearRotation(ctx context.Context, accountID, publicID string) error
	SelectByAccount(ctx context.Context, accountID string) ([]*models.Session, error)
	SelectAll(ctx context.Context) ([]*models.Session, error)
}
