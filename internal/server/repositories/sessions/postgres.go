// Package sessions provides the PostgreSQL-backed repository for login
// sessions.
package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkovalev/vaultcore/internal/common"
	"github.com/dkovalev/vaultcore/internal/dbx"
	"github.com/dkovalev/vaultcore/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, public_id, account_id, session_key, request_count, last_used,
		max_requests, expires_at, rotation, created_at`

func scanSession(row *sql.Row) (*models.Session, error) {
	s := &models.Session{}
	err := row.Scan(&s.ID, &s.PublicID, &s.AccountID, &s.SessionKey, &s.RequestCount, &s.LastUsed,
		&s.MaxRequests, &s.ExpiresAt, &s.Rotation, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) Create(ctx context.Context, s *models.Session) (*models.Session, error) {
	query := `
		INSERT INTO sessions (public_id, account_id, session_key, max_requests, expires_at, rotation)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, request_count, last_used, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		s.PublicID, s.AccountID, s.SessionKey, s.MaxRequests, s.ExpiresAt, s.Rotation).
		Scan(&s.ID, &s.RequestCount, &s.LastUsed, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) GetByPublicID(ctx context.Context, publicID string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE public_id = $1`
	return scanSession(r.db.QueryRowContext(ctx, query, publicID))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.db.QueryRowContext(ctx, query, id))
}

// LogUse increments the request counter and stamps last_used.
func (r *PostgresRepository) LogUse(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE sessions
		SET request_count = request_count + 1, last_used = $2
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM sessions WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteAllForAccount(ctx context.Context, accountID string) error {
	query := `DELETE FROM sessions WHERE account_id = $1`
	if _, err := r.db.ExecContext(ctx, query, accountID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DeleteAllForAccountExcept removes every session for the account but the
// one identified by keepPublicID. Used by the rotation cutover.
func (r *PostgresRepository) DeleteAllForAccountExcept(ctx context.Context, accountID, keepPublicID string) error {
	query := `DELETE FROM sessions WHERE account_id = $1 AND public_id <> $2`
	if _, err := r.db.ExecContext(ctx, query, accountID, keepPublicID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ClearRotation demotes the session to an ordinary one. Applied to the
// surviving session when a rotation commits. Scoped to the account so a
// handle belonging to someone else cannot be demoted.
func (r *PostgresRepository) ClearRotation(ctx context.Context, accountID, publicID string) error {
	query := `UPDATE sessions SET rotation = FALSE WHERE account_id = $1 AND public_id = $2`
	res, err := r.db.ExecContext(ctx, query, accountID, publicID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) SelectByAccount(ctx context.Context, accountID string) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE account_id = $1`
	return r.selectMany(ctx, query, accountID)
}

// SelectAll returns every session record; used by the expiry sweep.
func (r *PostgresRepository) SelectAll(ctx context.Context) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	return r.selectMany(ctx, query)
}

func (r *PostgresRepository) selectMany(ctx context.Context, query string, args ...any) ([]*models.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Session
	for rows.Next() {
		s := &models.Session{}
		if err := rows.Scan(&s.ID, &s.PublicID, &s.AccountID, &s.SessionKey, &s.RequestCount, &s.LastUsed,
			&s.MaxRequests, &s.ExpiresAt, &s.Rotation, &s.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
