package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dkovalev/vaultcore/internal/common"
	"github.com/dkovalev/vaultcore/internal/dbx"
	"github.com/dkovalev/vaultcore/internal/logging"
	"github.com/dkovalev/vaultcore/internal/server/models"
	"github.com/dkovalev/vaultcore/internal/server/repositories/repomanager"
)

// SessionDetails pairs a live session with its account's blinded username.
type SessionDetails struct {
	Session      *models.Session
	UsernameHash []byte
}

// SessionService manages login sessions. Validity checks are destructive: a
// session found expired by any operation is deleted before ErrorNotFound is
// returned, so absent and expired are the same observable outcome.
type SessionService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
	now         func() time.Time
}

// NewSessionService constructs a SessionService.
func NewSessionService(db *sql.DB, m repomanager.RepositoryManager, log logging.Logger) *SessionService {
	return &SessionService{
		db:          db,
		repomanager: m,
		log:         log,
		now:         time.Now,
	}
}

// GetDetails resolves a session handle to the full record.
func (s *SessionService) GetDetails(ctx context.Context, publicID string) (*SessionDetails, error) {
	var result *SessionDetails

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		session, err := acquireSession(ctx, tx, s.repomanager, publicID, s.now())
		if err != nil {
			return err
		}
		account, err := s.repomanager.Accounts(tx).GetByID(ctx, session.AccountID)
		if err != nil {
			return err
		}
		result = &SessionDetails{Session: session, UsernameHash: account.UsernameHash}
		return nil
	})
	if err != nil {
		return nil, mapError(ctx, s.log, "session.get_details", err)
	}
	return result, nil
}

// LogUse charges one request against the session identified by its internal
// id and returns the session key for the caller to decrypt the request with.
func (s *SessionService) LogUse(ctx context.Context, id string) ([]byte, error) {
	var key []byte

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		session, err := acquireSessionByID(ctx, tx, s.repomanager, id, s.now())
		if err != nil {
			return err
		}
		if err := s.repomanager.Sessions(tx).LogUse(ctx, session.ID, s.now()); err != nil {
			return err
		}
		key = session.SessionKey
		return nil
	})
	if err != nil {
		return nil, mapError(ctx, s.log, "session.log_use", err)
	}
	return key, nil
}

// Delete is ordinary logout. A session not owned by accountID is reported as
// ErrorNotFound rather than revealing its existence. Rotation sessions are
// managed only by the password-change coordinator.
func (s *SessionService) Delete(ctx context.Context, accountID, publicID string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		session, err := acquireSession(ctx, tx, s.repomanager, publicID, s.now())
		if err != nil {
			return err
		}
		if session.AccountID != accountID {
			return common.ErrorNotFound
		}
		if session.Rotation {
			return common.ErrorRotationInProgress
		}
		return s.repomanager.Sessions(tx).Delete(ctx, session.ID)
	})
	return mapError(ctx, s.log, "session.delete", err)
}

// CleanAccount reclaims the account's expired sessions.
func (s *SessionService) CleanAccount(ctx context.Context, accountID string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		list, err := s.repomanager.Sessions(tx).SelectByAccount(ctx, accountID)
		if err != nil {
			return err
		}
		return s.sweep(ctx, tx, list)
	})
	return mapError(ctx, s.log, "session.clean_account", err)
}

// CleanAll reclaims expired sessions across all accounts.
func (s *SessionService) CleanAll(ctx context.Context) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		list, err := s.repomanager.Sessions(tx).SelectAll(ctx)
		if err != nil {
			return err
		}
		return s.sweep(ctx, tx, list)
	})
	return mapError(ctx, s.log, "session.clean_all", err)
}

// sweep deletes the expired sessions in the list; an expired rotation session
// aborts its account's password change.
func (s *SessionService) sweep(ctx context.Context, tx dbx.DBTX, list []*models.Session) error {
	now := s.now()
	cleaned := make(map[string]bool)
	for _, session := range list {
		if session.Validity().Valid(now) || cleaned[session.AccountID] {
			continue
		}
		if session.Rotation {
			if err := cleanPasswordChange(ctx, tx, s.repomanager, session.AccountID); err != nil {
				return err
			}
			cleaned[session.AccountID] = true
			continue
		}
		if err := s.repomanager.Sessions(tx).Delete(ctx, session.ID); err != nil && !errors.Is(err, common.ErrorNotFound) {
			return err
		}
	}
	return nil
}
