package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence"
)

// TemplateRepository handles message template database operations.
type TemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTemplateRepository(db *sql.DB, logger *slog.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

const templateColumns = `
	id
  , name
  , channel
  , limit_class
  , subject
  , body
  , version
  , created_at
  , updated_at
`

func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.MessageTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM templates WHERE id = $1`

	tmpl, err := r.scanTemplate(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByID", "template", id, persistence.ErrTemplateNotFound)
		}

		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	return tmpl, nil
}

func (r *TemplateRepository) List(ctx context.Context) ([]*models.MessageTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM templates ORDER BY name ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	templates := make([]*models.MessageTemplate, 0)

	for rows.Next() {
		tmpl, err := r.scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}

		templates = append(templates, tmpl)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}

	return templates, nil
}

func (r *TemplateRepository) Save(ctx context.Context, tmpl *models.MessageTemplate) error {
	query := `
		INSERT INTO templates (id, name, channel, limit_class, subject, body, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			channel = EXCLUDED.channel,
			limit_class = EXCLUDED.limit_class,
			subject = EXCLUDED.subject,
			body = EXCLUDED.body,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		tmpl.ID, tmpl.Name, string(tmpl.Channel), string(tmpl.LimitClass),
		nullableString(tmpl.Subject), tmpl.Body, tmpl.Version, tmpl.CreatedAt, tmpl.UpdatedAt)
	if err != nil {
		return persistence.NewStoreError("Save", "template", tmpl.ID, err)
	}

	return nil
}

func (r *TemplateRepository) scanTemplate(row rowScanner) (*models.MessageTemplate, error) {
	tmpl := &models.MessageTemplate{}

	var channel string

	var limitClass, subject sql.NullString

	err := row.Scan(
		&tmpl.ID, &tmpl.Name, &channel, &limitClass, &subject,
		&tmpl.Body, &tmpl.Version, &tmpl.CreatedAt, &tmpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tmpl.Channel = models.Channel(channel)
	tmpl.LimitClass = models.LimitClass(limitClass.String)
	tmpl.Subject = subject.String

	return tmpl, nil
}
