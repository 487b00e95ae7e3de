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
	"github.com/dkovalev/vaultcore/internal/srp"
)

// RotationService coordinates credential rotation. The account row is the
// state machine: rotation_in_progress false means normal, true means a
// password change is underway and every ordinary mutator is locked out.
//
// Rotation starts through HandshakeService.Start with the rotation flag set,
// authenticated against the current credentials. The client then stages its
// new credential material, proves knowledge of the new password against the
// staged verifier, and Complete performs the cutover: staged fields become
// live, and every session and handshake for the account dies except the one
// session that carried the rotation.
type RotationService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	group       srp.Group
	log         logging.Logger
	now         func() time.Time
}

// NewRotationService constructs a RotationService over the given SRP group.
func NewRotationService(db *sql.DB, m repomanager.RepositoryManager, group srp.Group, log logging.Logger) *RotationService {
	return &RotationService{
		db:          db,
		repomanager: m,
		group:       group,
		log:         log,
		now:         time.Now,
	}
}

// StageCredentials records the incoming credential material on a rotating
// account and opens a verification handshake against the staged verifier.
// The returned handle and server public ephemeral feed the proof exchange
// that Complete finishes. Calling this on a non-rotating account fails with
// ErrorRotationMismatch.
func (s *RotationService) StageCredentials(ctx context.Context, accountID string, srpSalt, srpVerifier, masterKeySalt []byte, handshakeExpiry time.Duration) (publicID string, serverPublic []byte, err error) {
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		account, err := s.repomanager.Accounts(tx).GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		if !account.RotationInProgress {
			return common.ErrorRotationMismatch
		}

		if err := s.repomanager.Accounts(tx).StageCredentials(ctx, accountID, srpSalt, srpVerifier, masterKeySalt); err != nil {
			return err
		}

		public, private, err := srp.GenerateEphemeral(s.group, srpVerifier)
		if err != nil {
			return err
		}
		h := &models.Handshake{
			PublicID:      uuid.New().String(),
			AccountID:     accountID,
			ServerPrivate: private,
			ServerPublic:  public,
			ExpiresAt:     s.now().Add(handshakeExpiry),
			Rotation:      true,
		}
		if _, err := s.repomanager.Handshakes(tx).Create(ctx, h); err != nil {
			return err
		}

		publicID = h.PublicID
		serverPublic = public
		return nil
	})
	if err != nil {
		return "", nil, mapError(ctx, s.log, "rotation.stage_credentials", err)
	}
	return publicID, serverPublic, nil
}

// Complete commits the rotation. It verifies the client's proof of the new
// password against the staged verifier, promotes the staged credentials and
// any staged entry edits, and deletes every handshake and every session for
// the account except keepSessionPublicID, which is demoted to an ordinary
// session. All of it happens in one transaction, so a session minted under
// the old credentials either dies here or the rotation did not happen.
func (s *RotationService) Complete(ctx context.Context, accountID, handshakePublicID string, clientPublic, clientProof []byte, keepSessionPublicID string) (serverProof []byte, err error) {
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		account, err := s.repomanager.Accounts(tx).GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		if !account.RotationInProgress || !account.Staged() {
			return common.ErrorRotationMismatch
		}

		h, err := acquireHandshake(ctx, tx, s.repomanager, handshakePublicID, s.now())
		if err != nil {
			return err
		}
		if !h.Rotation || h.AccountID != accountID {
			return common.ErrorRotationMismatch
		}

		// the surviving session must be this account's own rotation carrier
		keep, err := s.repomanager.Sessions(tx).GetByPublicID(ctx, keepSessionPublicID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrorRotationMismatch
			}
			return err
		}
		if keep.AccountID != accountID || !keep.Rotation {
			return common.ErrorRotationMismatch
		}

		key, err := srp.ComputeSessionKey(s.group, clientPublic, h.ServerPublic, h.ServerPrivate, account.StagedSRPVerifier)
		if err != nil {
			return mapProofError(err)
		}
		proof, err := srp.VerifyClientProof(s.group, clientPublic, h.ServerPublic, key, clientProof)
		if err != nil {
			return mapProofError(err)
		}

		if err := s.repomanager.Accounts(tx).PromoteStaged(ctx, accountID); err != nil {
			return err
		}
		if err := s.repomanager.Entries(tx).PromoteStagedForAccount(ctx, accountID); err != nil {
			return err
		}
		if err := s.repomanager.Handshakes(tx).DeleteAllForAccount(ctx, accountID); err != nil {
			return err
		}
		if err := s.repomanager.Sessions(tx).DeleteAllForAccountExcept(ctx, accountID, keepSessionPublicID); err != nil {
			return err
		}
		if err := s.repomanager.Sessions(tx).ClearRotation(ctx, accountID, keepSessionPublicID); err != nil {
			return err
		}

		serverProof = proof
		return nil
	})
	if err != nil {
		return nil, mapError(ctx, s.log, "rotation.complete", err)
	}
	return serverProof, nil
}

// Abort cancels an in-progress rotation. Live credentials and live entry
// data stay as they were; staged material is dropped and every handshake and
// session for the account is removed, forcing re-authentication.
func (s *RotationService) Abort(ctx context.Context, accountID string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		account, err := s.repomanager.Accounts(tx).GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		if !account.RotationInProgress {
			return common.ErrorRotationMismatch
		}
		return cleanPasswordChange(ctx, tx, s.repomanager, accountID)
	})
	return mapError(ctx, s.log, "rotation.abort", err)
}

// CleanPasswordChange resets the account to the normal state in its own
// transaction. The handshake and session sweeps use the in-transaction form
// directly; this entry point exists for external housekeeping.
func (s *RotationService) CleanPasswordChange(ctx context.Context, accountID string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return cleanPasswordChange(ctx, tx, s.repomanager, accountID)
	})
	return mapError(ctx, s.log, "rotation.clean_password_change", err)
}
