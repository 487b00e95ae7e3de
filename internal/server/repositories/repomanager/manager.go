package repomanager

import (
	"context"
	"database/sql"

	"github.com/dkovalev/vaultcore/internal/dbx"
	"github.com/dkovalev/vaultcore/internal/server/repositories/accounts"
	"github.com/dkovalev/vaultcore/internal/server/repositories/attachments"
	"github.com/dkovalev/vaultcore/internal/server/repositories/entries"
	"github.com/dkovalev/vaultcore/internal/server/repositories/handshakes"
	"github.com/dkovalev/vaultcore/internal/server/repositories/sessions"
)

// RepositoryManager vends repository implementations bound to a DBTX, which
// lets a service use the same repository code inside or outside a
// transaction.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
	Handshakes(db dbx.DBTX) handshakes.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	Entries(db dbx.DBTX) entries.Repository
	Attachments(db dbx.DBTX) attachments.Repository
}
