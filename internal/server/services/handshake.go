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

// HandshakeStart is what a client needs to continue an SRP exchange: the
// handle to refer to the exchange, the account's salt, and the server
// public ephemeral B.
type HandshakeStart struct {
	PublicID     string
	SRPSalt      []byte
	ServerPublic []byte
}

// HandshakeDetails pairs an active handshake with its account's blinded
// username, for the request layer to rebuild protocol state.
type HandshakeDetails struct {
	Handshake    *models.Handshake
	UsernameHash []byte
}

// HandshakeService manages in-flight SRP exchanges. A handshake is created by
// Start, lives until its deadline, and is consumed exactly once: either
// promoted into a login session by Complete or reclaimed on expiry.
type HandshakeService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	group       srp.Group
	log         logging.Logger
	now         func() time.Time
}

// NewHandshakeService constructs a HandshakeService over the given SRP group.
func NewHandshakeService(db *sql.DB, m repomanager.RepositoryManager, group srp.Group, log logging.Logger) *HandshakeService {
	return &HandshakeService{
		db:          db,
		repomanager: m,
		group:       group,
		log:         log,
		now:         time.Now,
	}
}

// Start opens an SRP exchange for the account identified by usernameHash.
// With rotation set, it also moves the account into the rotating state;
// a second rotation attempt on an already-rotating account fails with
// ErrorRotationInProgress.
func (s *HandshakeService) Start(ctx context.Context, usernameHash []byte, rotation bool, expiry time.Duration) (*HandshakeStart, error) {
	var result *HandshakeStart

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		account, err := s.repomanager.Accounts(tx).GetByUsernameHash(ctx, usernameHash)
		if err != nil {
			return err
		}

		if rotation {
			if account.RotationInProgress {
				return common.ErrorRotationInProgress
			}
			if err := s.repomanager.Accounts(tx).SetRotation(ctx, account.ID, true); err != nil {
				return err
			}
		}

		public, private, err := srp.GenerateEphemeral(s.group, account.SRPVerifier)
		if err != nil {
			return err
		}

		h := &models.Handshake{
			PublicID:      uuid.New().String(),
			AccountID:     account.ID,
			ServerPrivate: private,
			ServerPublic:  public,
			ExpiresAt:     s.now().Add(expiry),
			Rotation:      rotation,
		}
		if _, err := s.repomanager.Handshakes(tx).Create(ctx, h); err != nil {
			return err
		}

		result = &HandshakeStart{
			PublicID:     h.PublicID,
			SRPSalt:      account.SRPSalt,
			ServerPublic: public,
		}
		return nil
	})
	if err != nil {
		return nil, mapError(ctx, s.log, "handshake.start", err)
	}
	return result, nil
}

// GetDetails returns the active handshake for the handle. An expired record
// is reclaimed and reported as ErrorNotFound.
func (s *HandshakeService) GetDetails(ctx context.Context, publicID string) (*HandshakeDetails, error) {
	var result *HandshakeDetails

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		h, err := acquireHandshake(ctx, tx, s.repomanager, publicID, s.now())
		if err != nil {
			return err
		}
		account, err := s.repomanager.Accounts(tx).GetByID(ctx, h.AccountID)
		if err != nil {
			return err
		}
		result = &HandshakeDetails{Handshake: h, UsernameHash: account.UsernameHash}
		return nil
	})
	if err != nil {
		return nil, mapError(ctx, s.log, "handshake.get_details", err)
	}
	return result, nil
}

// Complete consumes a handshake: it verifies the client proof against the
// account's live verifier, mints a login session carrying the derived key,
// and deletes the handshake, all in one transaction. The handshake's rotation
// flag must match the caller's intent, and an ordinary completion against a
// rotating account is refused. maxRequests <= 0 and expiry <= 0 disable the
// respective session limits.
func (s *HandshakeService) Complete(ctx context.Context, publicID string, rotation bool, clientPublic, clientProof []byte, maxRequests int64, expiry time.Duration) (sessionPublicID string, serverProof []byte, err error) {
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		h, err := acquireHandshake(ctx, tx, s.repomanager, publicID, s.now())
		if err != nil {
			return err
		}
		if h.Rotation != rotation {
			return common.ErrorRotationMismatch
		}

		account, err := s.repomanager.Accounts(tx).GetByID(ctx, h.AccountID)
		if err != nil {
			return err
		}
		if !rotation {
			if err := requireNormal(account); err != nil {
				return err
			}
		}

		key, err := srp.ComputeSessionKey(s.group, clientPublic, h.ServerPublic, h.ServerPrivate, account.SRPVerifier)
		if err != nil {
			return mapProofError(err)
		}
		proof, err := srp.VerifyClientProof(s.group, clientPublic, h.ServerPublic, key, clientProof)
		if err != nil {
			return mapProofError(err)
		}

		session := &models.Session{
			PublicID:   uuid.New().String(),
			AccountID:  account.ID,
			SessionKey: key,
			Rotation:   h.Rotation,
		}
		if maxRequests > 0 {
			session.MaxRequests = &maxRequests
		}
		if expiry > 0 {
			deadline := s.now().Add(expiry)
			session.ExpiresAt = &deadline
		}
		if _, err := s.repomanager.Sessions(tx).Create(ctx, session); err != nil {
			return err
		}
		if err := s.repomanager.Handshakes(tx).Delete(ctx, h.ID); err != nil {
			return err
		}

		sessionPublicID = session.PublicID
		serverProof = proof
		return nil
	})
	if err != nil {
		return "", nil, mapError(ctx, s.log, "handshake.complete", err)
	}
	return sessionPublicID, serverProof, nil
}

// CleanAll sweeps every handshake, reclaiming the expired ones. An expired
// rotation handshake aborts its account's password change entirely.
func (s *HandshakeService) CleanAll(ctx context.Context) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		list, err := s.repomanager.Handshakes(tx).SelectAll(ctx)
		if err != nil {
			return err
		}
		now := s.now()
		cleaned := make(map[string]bool)
		for _, h := range list {
			if h.Validity().Valid(now) || cleaned[h.AccountID] {
				continue
			}
			if h.Rotation {
				if err := cleanPasswordChange(ctx, tx, s.repomanager, h.AccountID); err != nil {
					return err
				}
				cleaned[h.AccountID] = true
				continue
			}
			if err := s.repomanager.Handshakes(tx).Delete(ctx, h.ID); err != nil && !errors.Is(err, common.ErrorNotFound) {
				return err
			}
		}
		return nil
	})
	return mapError(ctx, s.log, "handshake.clean_all", err)
}

// mapProofError folds engine failures into the taxonomy. A degenerate client
// ephemeral and a bad proof are the same fatal outcome for the handshake.
func mapProofError(err error) error {
	if errors.Is(err, srp.ErrProofMismatch) || errors.Is(err, srp.ErrInvalidPublicKey) {
		return common.ErrorProofMismatch
	}
	return err
}
