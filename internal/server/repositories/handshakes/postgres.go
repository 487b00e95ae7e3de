// Package handshakes provides the PostgreSQL-backed repository for ephemeral
// SRP handshake records.
package handshakes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (r *PostgresRepository) Create(ctx context.Context, h *models.Handshake) (*models.Handshake, error) {
	query := `
		INSERT INTO handshakes (public_id, account_id, server_private, server_public, expires_at, rotation)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		h.PublicID, h.AccountID, h.ServerPrivate, h.ServerPublic, h.ExpiresAt, h.Rotation).
		Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return h, nil
}

func (r *PostgresRepository) GetByPublicID(ctx context.Context, publicID string) (*models.Handshake, error) {
	query := `
		SELECT id, public_id, account_id, server_private, server_public, expires_at, rotation, created_at
		FROM handshakes
		WHERE public_id = $1
	`
	h := &models.Handshake{}
	err := r.db.QueryRowContext(ctx, query, publicID).
		Scan(&h.ID, &h.PublicID, &h.AccountID, &h.ServerPrivate, &h.ServerPublic, &h.ExpiresAt, &h.Rotation, &h.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return h, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM handshakes WHERE id = $1`
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
	query := `DELETE FROM handshakes WHERE account_id = $1`
	if _, err := r.db.ExecContext(ctx, query, accountID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// SelectAll returns every handshake record; used by the expiry sweep.
func (r *PostgresRepository) SelectAll(ctx context.Context) ([]*models.Handshake, error) {
	query := `
		SELECT id, public_id, account_id, server_private, server_public, expires_at, rotation, created_at
		FROM handshakes
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Handshake
	for rows.Next() {
		h := &models.Handshake{}
		if err := rows.Scan(&h.ID, &h.PublicID, &h.AccountID, &h.ServerPrivate, &h.ServerPublic,
			&h.ExpiresAt, &h.Rotation, &h.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
