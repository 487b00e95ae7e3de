// Package attachments provides the PostgreSQL-backed repository for
// object-storage attachment metadata.
package attachments

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

func (r *PostgresRepository) Create(ctx context.Context, a *models.Attachment) error {
	query := `
		INSERT INTO attachments (entry_id, account_id, storage_key, upload_status)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.ExecContext(ctx, query, a.EntryID, a.AccountID, a.StorageKey, a.UploadStatus); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByEntryID(ctx context.Context, entryID string) (*models.Attachment, error) {
	query := `
		SELECT entry_id, account_id, storage_key, upload_status, created_at
		FROM attachments
		WHERE entry_id = $1
	`
	a := &models.Attachment{}
	err := r.db.QueryRowContext(ctx, query, entryID).
		Scan(&a.EntryID, &a.AccountID, &a.StorageKey, &a.UploadStatus, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) MarkUploaded(ctx context.Context, entryID string) error {
	query := `UPDATE attachments SET upload_status = $2 WHERE entry_id = $1`
	res, err := r.db.ExecContext(ctx, query, entryID, models.UploadCompleted)
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

func (r *PostgresRepository) Delete(ctx context.Context, entryID string) error {
	query := `DELETE FROM attachments WHERE entry_id = $1`
	if _, err := r.db.ExecContext(ctx, query, entryID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
