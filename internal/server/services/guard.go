package services

import (
	"context"
	"time"

	"github.com/dkovalev/vaultcore/internal/common"
	"github.com/dkovalev/vaultcore/internal/dbx"
	"github.com/dkovalev/vaultcore/internal/server/models"
	"github.com/dkovalev/vaultcore/internal/server/repositories/repomanager"
)

// requireNormal is the rotation lock. Every non-rotation mutator reads the
// account row inside its own transaction and calls this before writing.
func requireNormal(account *models.Account) error {
	if account.RotationInProgress {
		return common.ErrorRotationInProgress
	}
	return nil
}

// cleanPasswordChange resets an account to the normal state: rotation flag
// off, staged credentials and staged entry edits dropped, every handshake and
// session for the account deleted. Live credentials and live entry data are
// left alone. Runs inside the caller's transaction.
func cleanPasswordChange(ctx context.Context, tx dbx.DBTX, rm repomanager.RepositoryManager, accountID string) error {
	if err := rm.Accounts(tx).ClearRotation(ctx, accountID); err != nil {
		return err
	}
	if err := rm.Handshakes(tx).DeleteAllForAccount(ctx, accountID); err != nil {
		return err
	}
	if err := rm.Sessions(tx).DeleteAllForAccount(ctx, accountID); err != nil {
		return err
	}
	return rm.Entries(tx).DiscardStagedForAccount(ctx, accountID)
}

// acquireHandshake fetches a handshake by handle and enforces expiry
// destructively: an expired record is reclaimed inside the same transaction
// before ErrorNotFound is returned. Expiry of a rotation handshake aborts the
// whole password change, since the rotation lock must not outlive it.
func acquireHandshake(ctx context.Context, tx dbx.DBTX, rm repomanager.RepositoryManager, publicID string, now time.Time) (*models.Handshake, error) {
	h, err := rm.Handshakes(tx).GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if h.Validity().Valid(now) {
		return h, nil
	}
	if h.Rotation {
		if err := cleanPasswordChange(ctx, tx, rm, h.AccountID); err != nil {
			return nil, err
		}
	} else if err := rm.Handshakes(tx).Delete(ctx, h.ID); err != nil {
		return nil, err
	}
	return nil, common.ErrorNotFound
}

// validateSession applies the dual-expiry check destructively to an already
// fetched session, with the same rotation-abort behavior as handshakes.
func validateSession(ctx context.Context, tx dbx.DBTX, rm repomanager.RepositoryManager, s *models.Session, now time.Time) (*models.Session, error) {
	if s.Validity().Valid(now) {
		return s, nil
	}
	if s.Rotation {
		if err := cleanPasswordChange(ctx, tx, rm, s.AccountID); err != nil {
			return nil, err
		}
	} else if err := rm.Sessions(tx).Delete(ctx, s.ID); err != nil {
		return nil, err
	}
	return nil, common.ErrorNotFound
}

func acquireSession(ctx context.Context, tx dbx.DBTX, rm repomanager.RepositoryManager, publicID string, now time.Time) (*models.Session, error) {
	s, err := rm.Sessions(tx).GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	return validateSession(ctx, tx, rm, s, now)
}

func acquireSessionByID(ctx context.Context, tx dbx.DBTX, rm repomanager.RepositoryManager, id string, now time.Time) (*models.Session, error) {
	s, err := rm.Sessions(tx).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return validateSession(ctx, tx, rm, s, now)
}
