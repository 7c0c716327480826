// module_repository.go implements ModuleRepository, providing database queries for
// published module versions: exact lookups, per-name listings, the (name, version)
// upsert used by publish, descriptor edits, and hard deletes.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/npm-registry/npm-registry/internal/db/models"
	"github.com/npm-registry/npm-registry/internal/descriptor"
	"github.com/npm-registry/npm-registry/internal/telemetry"
)

const moduleColumns = `id, name, version, author, package, description,
	dist_tarball, dist_shasum, dist_size, publish_time, created_at, updated_at`

// moduleRow is the storage shape of a module; package is still encoded text.
type moduleRow struct {
	ID          int64     `db:"id"`
	Name        string    `db:"name"`
	Version     string    `db:"version"`
	Author      string    `db:"author"`
	Package     string    `db:"package"`
	Description string    `db:"description"`
	DistTarball string    `db:"dist_tarball"`
	DistShasum  string    `db:"dist_shasum"`
	DistSize    int64     `db:"dist_size"`
	PublishTime time.Time `db:"publish_time"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// toModel decodes the stored descriptor. A corrupt descriptor never fails the
// read: the raw text is kept and a warning is logged.
func (row *moduleRow) toModel() *models.Module {
	pkg, err := descriptor.Decode(row.Package)
	if err != nil {
		telemetry.DescriptorDecodeErrorsTotal.Inc()
		slog.Warn("failed to decode module descriptor",
			"name", row.Name, "id", row.ID, "version", row.Version, "error", err)
	}
	return &models.Module{
		ID:          row.ID,
		Name:        row.Name,
		Version:     row.Version,
		Author:      row.Author,
		Package:     pkg,
		Description: row.Description,
		Dist: descriptor.Dist{
			Tarball: row.DistTarball,
			Shasum:  row.DistShasum,
			Size:    row.DistSize,
		},
		PublishTime: row.PublishTime,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

func rowsToModules(rows []moduleRow) []*models.Module {
	modules := make([]*models.Module, 0, len(rows))
	for i := range rows {
		modules = append(modules, rows[i].toModel())
	}
	return modules
}

// ModuleRepository handles database operations for module versions
type ModuleRepository struct {
	db *sqlx.DB
}

// NewModuleRepository creates a new module repository
func NewModuleRepository(db *sqlx.DB) *ModuleRepository {
	return &ModuleRepository{db: db}
}

func (r *ModuleRepository) getOne(ctx context.Context, what, query string, args ...interface{}) (*models.Module, error) {
	var row moduleRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to %s: %w", what, err)
	}
	return row.toModel(), nil
}

// GetModuleByID retrieves a module version by its numeric ID
func (r *ModuleRepository) GetModuleByID(ctx context.Context, id int64) (*models.Module, error) {
	query := `SELECT ` + moduleColumns + ` FROM module WHERE id = $1`
	return r.getOne(ctx, "get module by ID", query, id)
}

// GetModule retrieves the module row for an exact (name, version)
func (r *ModuleRepository) GetModule(ctx context.Context, name, version string) (*models.Module, error) {
	query := `SELECT ` + moduleColumns + ` FROM module WHERE name = $1 AND version = $2`
	return r.getOne(ctx, "get module", query, name, version)
}

// ExistsVersion reports whether (name, version) has been published
func (r *ModuleRepository) ExistsVersion(ctx context.Context, name, version string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM module WHERE name = $1 AND version = $2)`
	if err := r.db.GetContext(ctx, &exists, query, name, version); err != nil {
		return false, fmt.Errorf("failed to check module version: %w", err)
	}
	return exists, nil
}

// ListModulesByName retrieves every version of a module, newest ID first
func (r *ModuleRepository) ListModulesByName(ctx context.Context, name string) ([]*models.Module, error) {
	query := `SELECT ` + moduleColumns + ` FROM module WHERE name = $1 ORDER BY id DESC`

	var rows []moduleRow
	if err := r.db.SelectContext(ctx, &rows, query, name); err != nil {
		return nil, fmt.Errorf("failed to list modules by name: %w", err)
	}
	return rowsToModules(rows), nil
}

// ListModulesByIDs retrieves full module rows for a set of IDs
func (r *ModuleRepository) ListModulesByIDs(ctx context.Context, ids []int64) ([]*models.Module, error) {
	if len(ids) == 0 {
		return []*models.Module{}, nil
	}
	query := `SELECT ` + moduleColumns + ` FROM module WHERE id = ANY($1) ORDER BY name`

	var rows []moduleRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to list modules by IDs: %w", err)
	}
	return rowsToModules(rows), nil
}

// ListSummariesByIDs retrieves (name, description) pairs for a set of IDs, ordered by name
func (r *ModuleRepository) ListSummariesByIDs(ctx context.Context, ids []int64) ([]models.ModuleSummary, error) {
	if len(ids) == 0 {
		return []models.ModuleSummary{}, nil
	}
	query := `SELECT name, description FROM module WHERE id = ANY($1) ORDER BY name`

	summaries := []models.ModuleSummary{}
	if err := r.db.SelectContext(ctx, &summaries, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to list module summaries: %w", err)
	}
	return summaries, nil
}

// ListNamesByAuthor returns the distinct module names whose rows list username as author
func (r *ModuleRepository) ListNamesByAuthor(ctx context.Context, username string) ([]string, error) {
	query := `SELECT DISTINCT name FROM module WHERE author = $1 ORDER BY name`

	names := []string{}
	if err := r.db.SelectContext(ctx, &names, query, username); err != nil {
		return nil, fmt.Errorf("failed to list module names by author: %w", err)
	}
	return names, nil
}

// GetLastModified returns the most recent modification time across all versions of name
func (r *ModuleRepository) GetLastModified(ctx context.Context, name string) (*time.Time, error) {
	query := `SELECT updated_at FROM module WHERE name = $1 ORDER BY updated_at DESC LIMIT 1`

	var ts time.Time
	if err := r.db.GetContext(ctx, &ts, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get module last modified: %w", err)
	}
	return &ts, nil
}

// UpsertModule creates the (name, version) row or, when it already exists,
// overwrites its mutable fields. Version identity never changes. Concurrent
// writers race on the unique constraint; the last writer's fields win.
func (r *ModuleRepository) UpsertModule(ctx context.Context, m *models.Module) (*models.SaveResult, error) {
	query := `
		INSERT INTO module
		  (name, version, author, package, description, dist_tarball, dist_shasum, dist_size, publish_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name, version) DO UPDATE SET
		  author       = EXCLUDED.author,
		  package      = EXCLUDED.package,
		  description  = EXCLUDED.description,
		  dist_tarball = EXCLUDED.dist_tarball,
		  dist_shasum  = EXCLUDED.dist_shasum,
		  dist_size    = EXCLUDED.dist_size,
		  publish_time = EXCLUDED.publish_time,
		  updated_at   = NOW()
		RETURNING id, updated_at
	`

	result := &models.SaveResult{}
	err := r.db.QueryRowxContext(ctx, query,
		m.Name,
		m.Version,
		m.Author,
		m.Package.Encode(),
		m.Description,
		m.Dist.Tarball,
		m.Dist.Shasum,
		m.Dist.Size,
		m.PublishTime,
	).Scan(&result.ID, &result.LastModified)
	if err != nil {
		return nil, fmt.Errorf("failed to save module: %w", err)
	}

	m.ID = result.ID
	m.UpdatedAt = result.LastModified
	return result, nil
}

// UpdatePackage replaces the stored descriptor of module id
func (r *ModuleRepository) UpdatePackage(ctx context.Context, id int64, pkg descriptor.Descriptor) (*models.Module, error) {
	query := `
		UPDATE module SET package = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + moduleColumns
	return r.getOne(ctx, "update module package", query, id, pkg.Encode())
}

// UpdateDescription writes the flat description column and the descriptor in one statement
func (r *ModuleRepository) UpdateDescription(ctx context.Context, id int64, description string, pkg descriptor.Descriptor) (*models.Module, error) {
	query := `
		UPDATE module SET description = $2, package = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + moduleColumns
	return r.getOne(ctx, "update module description", query, id, description, pkg.Encode())
}

// TouchLastModified bumps the most recently modified row of name to now
func (r *ModuleRepository) TouchLastModified(ctx context.Context, name string) (*models.Module, error) {
	query := `
		UPDATE module SET updated_at = NOW()
		WHERE id = (
			SELECT id FROM module WHERE name = $1
			ORDER BY updated_at DESC, id DESC
			LIMIT 1
		)
		RETURNING ` + moduleColumns
	return r.getOne(ctx, "touch module", query, name)
}

// DeleteModulesByName hard-deletes every version of name
func (r *ModuleRepository) DeleteModulesByName(ctx context.Context, name string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM module WHERE name = $1`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to delete modules: %w", err)
	}
	return result.RowsAffected()
}

// DeleteModulesByNameAndVersions hard-deletes the listed versions of name
func (r *ModuleRepository) DeleteModulesByNameAndVersions(ctx context.Context, name string, versions []string) (int64, error) {
	if len(versions) == 0 {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM module WHERE name = $1 AND version = ANY($2)`,
		name, pq.Array(versions),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete module versions: %w", err)
	}
	return result.RowsAffected()
}
