// Package postgresql provides PostgreSQL persistence for flows, runs,
// delivery attempts, engagement events and templates.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	// Registers the postgres driver.
	_ "github.com/lib/pq"

	"github.com/dealdrip/dealdrip/pkg/persistence"
	"github.com/dealdrip/dealdrip/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db             *sql.DB
	logger         *slog.Logger
	flowRepo       *FlowRepository
	runRepo        *RunRepository
	attemptRepo    *AttemptRepository
	engagementRepo *EngagementRepository
	templateRepo   *TemplateRepository
}

// NewPersistence connects, migrates and returns a PostgreSQL persistence.
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

	return &Persistence{
		db:             database,
		logger:         logger,
		flowRepo:       NewFlowRepository(database, logger),
		runRepo:        NewRunRepository(database, logger),
		attemptRepo:    NewAttemptRepository(database, logger),
		engagementRepo: NewEngagementRepository(database, logger),
		templateRepo:   NewTemplateRepository(database, logger),
	}, nil
}

func (p *Persistence) Flows() persistence.FlowRepository {
	return p.flowRepo
}

func (p *Persistence) Runs() persistence.RunRepository {
	return p.runRepo
}

func (p *Persistence) Attempts() persistence.AttemptRepository {
	return p.attemptRepo
}

func (p *Persistence) Engagements() persistence.EngagementRepository {
	return p.engagementRepo
}

func (p *Persistence) Templates() persistence.TemplateRepository {
	return p.templateRepo
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
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
