// Package server initializes and runs the secrets server core: it opens the
// database, applies migrations, constructs the services, and drives the
// background expiry sweep until shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sethvargo/go-retry"

	"github.com/dkovalev/vaultcore/internal/logging"
	"github.com/dkovalev/vaultcore/internal/server/config"
	"github.com/dkovalev/vaultcore/internal/server/repositories/repomanager"
	"github.com/dkovalev/vaultcore/internal/server/services"
	"github.com/dkovalev/vaultcore/internal/srp"
)

// App wires the storage layer and the services together.
type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB

	AccountService    *services.AccountService
	HandshakeService  *services.HandshakeService
	SessionService    *services.SessionService
	RotationService   *services.RotationService
	DataService       *services.DataService
	AttachmentService *services.AttachmentService
}

// NewApp opens the database (retrying the initial ping), runs migrations and
// constructs every service over the shared repository manager.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	backoff := retry.WithMaxRetries(5, retry.NewExponential(time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			logger.Warn(ctx, "db not ready", "error", err.Error())
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	group := srp.DefaultGroup

	return &App{
		config:            cfg,
		logger:            logger,
		db:                db,
		AccountService:    services.NewAccountService(db, rm, logger),
		HandshakeService:  services.NewHandshakeService(db, rm, group, logger),
		SessionService:    services.NewSessionService(db, rm, logger),
		RotationService:   services.NewRotationService(db, rm, group, logger),
		DataService:       services.NewDataService(db, rm, logger),
		AttachmentService: services.NewAttachmentService(db, rm, cfg, logger),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// sweep bounds storage growth; correctness does not depend on it, since
// expiry is also enforced lazily at access time.
func (app *App) sweep(ctx context.Context) {
	if err := app.HandshakeService.CleanAll(ctx); err != nil {
		app.logger.Error(ctx, "handshake sweep failed", "error", err.Error())
	}
	if err := app.SessionService.CleanAll(ctx); err != nil {
		app.logger.Error(ctx, "session sweep failed", "error", err.Error())
	}
}

// Run drives the periodic expiry sweep until the context is cancelled or a
// termination signal arrives, then closes the database.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting", "cleanup_interval", app.config.CleanupInterval.String())
	app.initSignalHandler(cancelFunc)

	ticker := time.NewTicker(app.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			app.logger.Info(ctx, "shutting down")
			return app.db.Close()
		case <-ticker.C:
			app.sweep(ctx)
		}
	}
}
