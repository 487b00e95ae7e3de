// Package entries provides the PostgreSQL-backed repository for opaque secure
// data entries.
package entries

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

const entryColumns = `id, public_id, account_id, entry_name, entry_data, staged_name, staged_data, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, e *models.DataEntry) (*models.DataEntry, error) {
	query := `
		INSERT INTO entries (public_id, account_id, entry_name, entry_data)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, e.PublicID, e.AccountID, e.Name, e.Data).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) GetByPublicID(ctx context.Context, publicID string) (*models.DataEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE public_id = $1`
	e := &models.DataEntry{}
	err := r.db.QueryRowContext(ctx, query, publicID).
		Scan(&e.ID, &e.PublicID, &e.AccountID, &e.Name, &e.Data, &e.StagedName, &e.StagedData, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) SelectByAccount(ctx context.Context, accountID string) ([]*models.DataEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE account_id = $1`
	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.DataEntry
	for rows.Next() {
		e := &models.DataEntry{}
		if err := rows.Scan(&e.ID, &e.PublicID, &e.AccountID, &e.Name, &e.Data,
			&e.StagedName, &e.StagedData, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Update patches the live fields: a nil argument keeps the stored value.
func (r *PostgresRepository) Update(ctx context.Context, id string, name, data []byte) error {
	query := `
		UPDATE entries
		SET entry_name = COALESCE($2, entry_name),
		    entry_data = COALESCE($3, entry_data),
		    updated_at = now()
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, name, data)
}

// StageEdit patches the staged fields without touching the live ones.
func (r *PostgresRepository) StageEdit(ctx context.Context, id string, name, data []byte) error {
	query := `
		UPDATE entries
		SET staged_name = COALESCE($2, staged_name),
		    staged_data = COALESCE($3, staged_data)
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, name, data)
}

// DiscardStaged drops one entry's staged edit without touching the live
// fields.
func (r *PostgresRepository) DiscardStaged(ctx context.Context, id string) error {
	query := `UPDATE entries SET staged_name = NULL, staged_data = NULL WHERE id = $1`
	return r.execOne(ctx, query, id)
}

// PromoteStagedForAccount applies every staged edit for the account in one
// statement. Entries without staged fields are left as they are.
func (r *PostgresRepository) PromoteStagedForAccount(ctx context.Context, accountID string) error {
	query := `
		UPDATE entries
		SET entry_name = COALESCE(staged_name, entry_name),
		    entry_data = COALESCE(staged_data, entry_data),
		    staged_name = NULL,
		    staged_data = NULL,
		    updated_at = now()
		WHERE account_id = $1 AND (staged_name IS NOT NULL OR staged_data IS NOT NULL)
	`
	if _, err := r.db.ExecContext(ctx, query, accountID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DiscardStagedForAccount drops every staged edit for the account.
func (r *PostgresRepository) DiscardStagedForAccount(ctx context.Context, accountID string) error {
	query := `UPDATE entries SET staged_name = NULL, staged_data = NULL WHERE account_id = $1`
	if _, err := r.db.ExecContext(ctx, query, accountID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM entries WHERE id = $1`
	return r.execOne(ctx, query, id)
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
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
