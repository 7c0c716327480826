// dependency_repository.go implements DependencyRepository for the reverse
// dependency index.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/npm-registry/npm-registry/internal/db/models"
)

// DependencyRepository handles database operations for module_deps
type DependencyRepository struct {
	db *sqlx.DB
}

// NewDependencyRepository creates a new dependency repository
func NewDependencyRepository(db *sqlx.DB) *DependencyRepository {
	return &DependencyRepository{db: db}
}

// AddDependency records that dependent depends on name. Repeating the call
// returns the existing edge unchanged.
func (r *DependencyRepository) AddDependency(ctx context.Context, name, dependent string) (*models.ModuleDependency, error) {
	query := `
		INSERT INTO module_deps (name, dependent)
		VALUES ($1, $2)
		ON CONFLICT (name, dependent) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, dependent, created_at
	`

	var dep models.ModuleDependency
	if err := r.db.GetContext(ctx, &dep, query, name, dependent); err != nil {
		return nil, fmt.Errorf("failed to add dependency: %w", err)
	}
	return &dep, nil
}

// ListDependents returns the names of every module that depends on name
func (r *DependencyRepository) ListDependents(ctx context.Context, name string) ([]string, error) {
	query := `SELECT dependent FROM module_deps WHERE name = $1 ORDER BY id`

	dependents := []string{}
	if err := r.db.SelectContext(ctx, &dependents, query, name); err != nil {
		return nil, fmt.Errorf("failed to list dependents: %w", err)
	}
	return dependents, nil
}
