package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dkovalev/vaultcore/internal/common"
	"github.com/dkovalev/vaultcore/internal/dbx"
	"github.com/dkovalev/vaultcore/internal/logging"
	"github.com/dkovalev/vaultcore/internal/server/models"
	"github.com/dkovalev/vaultcore/internal/server/repositories/repomanager"
)

// DataService stores opaque encrypted entries. The server never sees
// plaintext; names and payloads are ciphertext produced client-side. Every
// mutator re-reads the account row in its own transaction and refuses to
// proceed while a credential rotation is in progress.
type DataService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
	now         func() time.Time
}

// NewDataService constructs a DataService.
func NewDataService(db *sql.DB, m repomanager.RepositoryManager, log logging.Logger) *DataService {
	return &DataService{
		db:          db,
		repomanager: m,
		log:         log,
		now:         time.Now,
	}
}

// Create inserts a new entry and returns its handle.
func (s *DataService) Create(ctx context.Context, accountID string, name, data []byte) (string, error) {
	var publicID string

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		account, err := s.repomanager.Accounts(tx).GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		if err := requireNormal(account); err != nil {
			return err
		}

		e := &models.DataEntry{
			PublicID:  uuid.New().String(),
			AccountID: accountID,
			Name:      name,
			Data:      data,
		}
		if _, err := s.repomanager.Entries(tx).Create(ctx, e); err != nil {
			return err
		}
		publicID = e.PublicID
		return nil
	})
	if err != nil {
		return "", mapError(ctx, s.log, "data.create", err)
	}
	return publicID, nil
}

// Edit patches an entry: a nil name or data keeps the stored value.
func (s *DataService) Edit(ctx context.Context, accountID, publicID string, name, data []byte) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		e, account, err := s.resolve(ctx, tx, accountID, publicID)
		if err != nil {
			return err
		}
		if err := requireNormal(account); err != nil {
			return err
		}
		return s.repomanager.Entries(tx).Update(ctx, e.ID, name, data)
	})
	return mapError(ctx, s.log, "data.edit", err)
}

// StageEdit records a re-encrypted copy of the entry while the account's
// credentials are being rotated. The staged copy becomes live when the
// rotation commits and is dropped if it aborts. Requires the account to be
// rotating; the ordinary Edit path is the one for normal accounts.
func (s *DataService) StageEdit(ctx context.Context, accountID, publicID string, name, data []byte) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		e, account, err := s.resolve(ctx, tx, accountID, publicID)
		if err != nil {
			return err
		}
		if !account.RotationInProgress {
			return common.ErrorRotationMismatch
		}
		return s.repomanager.Entries(tx).StageEdit(ctx, e.ID, name, data)
	})
	return mapError(ctx, s.log, "data.stage_edit", err)
}

// DiscardStagedEdit cancels one entry's staged re-encryption. The live
// fields are untouched; the next StageEdit starts from a clean slate. Like
// StageEdit, it only makes sense while the account is rotating.
func (s *DataService) DiscardStagedEdit(ctx context.Context, accountID, publicID string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		e, account, err := s.resolve(ctx, tx, accountID, publicID)
		if err != nil {
			return err
		}
		if !account.RotationInProgress {
			return common.ErrorRotationMismatch
		}
		return s.repomanager.Entries(tx).DiscardStaged(ctx, e.ID)
	})
	return mapError(ctx, s.log, "data.discard_staged_edit", err)
}

// Delete removes an entry and, via the schema, its attachment metadata.
func (s *DataService) Delete(ctx context.Context, accountID, publicID string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		e, account, err := s.resolve(ctx, tx, accountID, publicID)
		if err != nil {
			return err
		}
		if err := requireNormal(account); err != nil {
			return err
		}
		return s.repomanager.Entries(tx).Delete(ctx, e.ID)
	})
	return mapError(ctx, s.log, "data.delete", err)
}

// GetEntry fetches a single entry. allowDuringRotation bypasses the rotation
// lock so the rotation workflow can read entries for re-encryption while
// holding the lock itself.
func (s *DataService) GetEntry(ctx context.Context, accountID, publicID string, allowDuringRotation bool) (*models.DataEntry, error) {
	var result *models.DataEntry

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		e, account, err := s.resolve(ctx, tx, accountID, publicID)
		if err != nil {
			return err
		}
		if !allowDuringRotation {
			if err := requireNormal(account); err != nil {
				return err
			}
		}
		result = e
		return nil
	})
	if err != nil {
		return nil, mapError(ctx, s.log, "data.get_entry", err)
	}
	return result, nil
}

// GetList returns all of the account's entries.
func (s *DataService) GetList(ctx context.Context, accountID string) ([]*models.DataEntry, error) {
	var result []*models.DataEntry

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		account, err := s.repomanager.Accounts(tx).GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		if err := requireNormal(account); err != nil {
			return err
		}
		result, err = s.repomanager.Entries(tx).SelectByAccount(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, mapError(ctx, s.log, "data.get_list", err)
	}
	return result, nil
}

// resolve looks up the entry by handle and its owning account. A handle
// owned by a different account and a missing owning account both collapse to
// ErrorNotFound.
func (s *DataService) resolve(ctx context.Context, tx dbx.DBTX, accountID, publicID string) (*models.DataEntry, *models.Account, error) {
	e, err := s.repomanager.Entries(tx).GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, nil, err
	}
	if e.AccountID != accountID {
		return nil, nil, common.ErrorNotFound
	}
	account, err := s.repomanager.Accounts(tx).GetByID(ctx, e.AccountID)
	if err != nil {
		if errors.Is(err, common.ErrorAccountNotFound) {
			return nil, nil, common.ErrorNotFound
		}
		return nil, nil, err
	}
	return e, account, nil
}
