// Package postgresql provides the PostgreSQL persistence implementation for
// workflow definitions, instance queries and the event outbox.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver
	"github.com/veridianhq/veridian/pkg/persistence"
	"github.com/veridianhq/veridian/pkg/persistence/sqlbase"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// the repositories can run either standalone or inside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence connects, migrates and returns a PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{db: database, logger: logger}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Definitions() persistence.DefinitionRepository {
	return &DefinitionRepository{q: p.db, logger: p.logger}
}

func (p *Persistence) Instances() persistence.InstanceRepository {
	return &InstanceRepository{q: p.db, logger: p.logger}
}

func (p *Persistence) Outbox() persistence.OutboxRepository {
	return &OutboxRepository{q: p.db, logger: p.logger}
}

// WithinTx runs fn inside one database transaction. The repositories handed
// to fn share that transaction, so a failure anywhere rolls back every state
// change and outbox record together.
func (p *Persistence) WithinTx(ctx context.Context, fn func(ctx context.Context, tx persistence.TxStore) error) error {
	transaction, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	store := &txStore{tx: transaction, logger: p.logger}

	if err := fn(ctx, store); err != nil {
		if rollbackErr := transaction.Rollback(); rollbackErr != nil {
			p.logger.ErrorContext(ctx, "failed to roll back transaction", "error", rollbackErr)
		}

		return err
	}

	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

type txStore struct {
	tx     *sql.Tx
	logger *slog.Logger
}

func (t *txStore) Definitions() persistence.DefinitionRepository {
	return &DefinitionRepository{q: t.tx, logger: t.logger, inTx: true}
}

func (t *txStore) Instances() persistence.InstanceRepository {
	return &InstanceRepository{q: t.tx, logger: t.logger}
}

func (t *txStore) Outbox() persistence.OutboxRepository {
	return &OutboxRepository{q: t.tx, logger: t.logger, inTx: true}
}
