package services

import (
	"context"
	"database/sql"

	"github.com/dkovalev/vaultcore/internal/dbx"
	"github.com/dkovalev/vaultcore/internal/logging"
	"github.com/dkovalev/vaultcore/internal/server/models"
	"github.com/dkovalev/vaultcore/internal/server/repositories/repomanager"
)

// AccountService handles account lifecycle. Registration takes credential
// material computed client-side: the blinded username hash, the SRP salt and
// verifier, and the master-key salt. The plaintext username and password
// never reach the server.
type AccountService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
}

// NewAccountService constructs an AccountService.
func NewAccountService(db *sql.DB, m repomanager.RepositoryManager, log logging.Logger) *AccountService {
	return &AccountService{
		db:          db,
		repomanager: m,
		log:         log,
	}
}

// Register creates an account and returns its id. A username-hash collision
// fails with ErrorDuplicateAccount.
func (s *AccountService) Register(ctx context.Context, usernameHash, srpSalt, srpVerifier, masterKeySalt []byte) (string, error) {
	account := &models.Account{
		UsernameHash:  usernameHash,
		SRPSalt:       srpSalt,
		SRPVerifier:   srpVerifier,
		MasterKeySalt: masterKeySalt,
	}
	var id string
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		created, err := s.repomanager.Accounts(tx).Create(ctx, account)
		if err != nil {
			return err
		}
		id = created.ID
		return nil
	})
	if err != nil {
		return "", mapError(ctx, s.log, "account.register", err)
	}
	return id, nil
}

// ChangeUsernameHash re-blinds the account under a new username hash.
// Refused while a credential rotation is in progress.
func (s *AccountService) ChangeUsernameHash(ctx context.Context, accountID string, usernameHash []byte) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		account, err := s.repomanager.Accounts(tx).GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		if err := requireNormal(account); err != nil {
			return err
		}
		return s.repomanager.Accounts(tx).UpdateUsernameHash(ctx, accountID, usernameHash)
	})
	return mapError(ctx, s.log, "account.change_username_hash", err)
}

// Delete removes the account. Handshakes, sessions, entries and attachment
// metadata go with it through the schema's cascades. Refused while a
// credential rotation is in progress.
func (s *AccountService) Delete(ctx context.Context, accountID string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		account, err := s.repomanager.Accounts(tx).GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		if err := requireNormal(account); err != nil {
			return err
		}
		return s.repomanager.Accounts(tx).Delete(ctx, account.ID)
	})
	return mapError(ctx, s.log, "account.delete", err)
}
