// unpublished_repository.go implements UnpublishedRepository, the archive of
// descriptors for modules whose every version has been removed.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/npm-registry/npm-registry/internal/db/models"
	"github.com/npm-registry/npm-registry/internal/descriptor"
	"github.com/npm-registry/npm-registry/internal/telemetry"
)

type unpublishedRow struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Package   string    `db:"package"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (row *unpublishedRow) toModel() *models.ModuleUnpublished {
	pkg, err := descriptor.Decode(row.Package)
	if err != nil {
		telemetry.DescriptorDecodeErrorsTotal.Inc()
		slog.Warn("failed to decode unpublished descriptor", "name", row.Name, "id", row.ID, "error", err)
	}
	return &models.ModuleUnpublished{
		ID:        row.ID,
		Name:      row.Name,
		Package:   pkg,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

// UnpublishedRepository handles database operations for module_unpublished
type UnpublishedRepository struct {
	db *sqlx.DB
}

// NewUnpublishedRepository creates a new unpublished archive repository
func NewUnpublishedRepository(db *sqlx.DB) *UnpublishedRepository {
	return &UnpublishedRepository{db: db}
}

// SaveUnpublished records pkg as the last descriptor of name, replacing any earlier record
func (r *UnpublishedRepository) SaveUnpublished(ctx context.Context, name string, pkg descriptor.Descriptor) (*models.ModuleUnpublished, error) {
	query := `
		INSERT INTO module_unpublished (name, package)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET package = EXCLUDED.package, updated_at = NOW()
		RETURNING id, name, package, created_at, updated_at
	`

	var row unpublishedRow
	if err := r.db.GetContext(ctx, &row, query, name, pkg.Encode()); err != nil {
		return nil, fmt.Errorf("failed to save unpublished module: %w", err)
	}
	return row.toModel(), nil
}

// GetUnpublished retrieves the archived descriptor of name
func (r *UnpublishedRepository) GetUnpublished(ctx context.Context, name string) (*models.ModuleUnpublished, error) {
	query := `SELECT id, name, package, created_at, updated_at FROM module_unpublished WHERE name = $1`

	var row unpublishedRow
	if err := r.db.GetContext(ctx, &row, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get unpublished module: %w", err)
	}
	return row.toModel(), nil
}
