// Package accounts provides the PostgreSQL-backed repository for account
// identity and credential state.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dkovalev/vaultcore/internal/common"
	"github.com/dkovalev/vaultcore/internal/dbx"
	"github.com/dkovalev/vaultcore/internal/server/models"
)

const uniqueViolation = "23505"

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

const accountColumns = `id, username_hash, srp_salt, srp_verifier, master_key_salt,
		rotation_in_progress, staged_srp_salt, staged_srp_verifier, staged_master_key_salt, created_at`

func scanAccount(row *sql.Row) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(&a.ID, &a.UsernameHash, &a.SRPSalt, &a.SRPVerifier, &a.MasterKeySalt,
		&a.RotationInProgress, &a.StagedSRPSalt, &a.StagedSRPVerifier, &a.StagedMasterKeySalt, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorAccountNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

// Create inserts a new account. A username-hash collision returns
// common.ErrorDuplicateAccount.
func (r *PostgresRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	query := `
		INSERT INTO accounts (username_hash, srp_salt, srp_verifier, master_key_salt)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		account.UsernameHash, account.SRPSalt, account.SRPVerifier, account.MasterKeySalt).
		Scan(&account.ID, &account.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, common.ErrorDuplicateAccount
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return account, nil
}

func (r *PostgresRepository) GetByUsernameHash(ctx context.Context, usernameHash []byte) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE username_hash = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, usernameHash))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, id))
}

// UpdateUsernameHash re-blinds the account. Collisions with another account
// return common.ErrorDuplicateAccount.
func (r *PostgresRepository) UpdateUsernameHash(ctx context.Context, id string, usernameHash []byte) error {
	query := `UPDATE accounts SET username_hash = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, usernameHash)
	if err != nil {
		if isUniqueViolation(err) {
			return common.ErrorDuplicateAccount
		}
		return fmt.Errorf("db error: %w", err)
	}
	return requireOneRow(res)
}

// SetRotation flips the rotation flag without touching credential fields.
func (r *PostgresRepository) SetRotation(ctx context.Context, id string, rotating bool) error {
	query := `UPDATE accounts SET rotation_in_progress = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, rotating)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireOneRow(res)
}

// StageCredentials writes the incoming credential material alongside the
// live fields. Live credentials are untouched until PromoteStaged.
func (r *PostgresRepository) StageCredentials(ctx context.Context, id string, srpSalt, srpVerifier, masterKeySalt []byte) error {
	query := `
		UPDATE accounts
		SET staged_srp_salt = $2, staged_srp_verifier = $3, staged_master_key_salt = $4
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, srpSalt, srpVerifier, masterKeySalt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireOneRow(res)
}

// PromoteStaged copies staged credentials into the live fields, clears the
// staged fields and drops the rotation flag in a single statement, so the
// cutover is atomic at the row level.
func (r *PostgresRepository) PromoteStaged(ctx context.Context, id string) error {
	query := `
		UPDATE accounts
		SET srp_salt = staged_srp_salt,
		    srp_verifier = staged_srp_verifier,
		    master_key_salt = staged_master_key_salt,
		    staged_srp_salt = NULL,
		    staged_srp_verifier = NULL,
		    staged_master_key_salt = NULL,
		    rotation_in_progress = FALSE
		WHERE id = $1 AND staged_srp_verifier IS NOT NULL
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireOneRow(res)
}

// ClearRotation drops the staged fields and the flag; live credentials are
// untouched.
func (r *PostgresRepository) ClearRotation(ctx context.Context, id string) error {
	query := `
		UPDATE accounts
		SET staged_srp_salt = NULL,
		    staged_srp_verifier = NULL,
		    staged_master_key_salt = NULL,
		    rotation_in_progress = FALSE
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireOneRow(res)
}

// Delete removes the account; owned handshakes, sessions, entries and
// attachments go with it via FK cascade.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM accounts WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireOneRow(res)
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorAccountNotFound
	}
	return nil
}
