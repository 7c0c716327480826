// star_repository.go implements StarRepository for per-user favourites.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/npm-registry/npm-registry/internal/db/models"
)

// StarRepository handles database operations for module_star
type StarRepository struct {
	db *sqlx.DB
}

// NewStarRepository creates a new star repository
func NewStarRepository(db *sqlx.DB) *StarRepository {
	return &StarRepository{db: db}
}

// AddStar marks name as starred by username; repeating the call is a no-op
func (r *StarRepository) AddStar(ctx context.Context, name, username string) (*models.ModuleStar, error) {
	query := `
		INSERT INTO module_star (name, username)
		VALUES ($1, $2)
		ON CONFLICT (username, name) DO UPDATE SET username = EXCLUDED.username
		RETURNING id, name, username, created_at
	`

	var star models.ModuleStar
	if err := r.db.GetContext(ctx, &star, query, name, username); err != nil {
		return nil, fmt.Errorf("failed to add star: %w", err)
	}
	return &star, nil
}

// RemoveStar removes the star of username on name
func (r *StarRepository) RemoveStar(ctx context.Context, name, username string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM module_star WHERE name = $1 AND username = $2`, name, username)
	if err != nil {
		return 0, fmt.Errorf("failed to remove star: %w", err)
	}
	return result.RowsAffected()
}

// ListStarUsers returns the users who starred name
func (r *StarRepository) ListStarUsers(ctx context.Context, name string) ([]string, error) {
	users := []string{}
	query := `SELECT username FROM module_star WHERE name = $1 ORDER BY id`
	if err := r.db.SelectContext(ctx, &users, query, name); err != nil {
		return nil, fmt.Errorf("failed to list star users: %w", err)
	}
	return users, nil
}

// ListStarredNames returns the modules username has starred
func (r *StarRepository) ListStarredNames(ctx context.Context, username string) ([]string, error) {
	names := []string{}
	query := `SELECT name FROM module_star WHERE username = $1 ORDER BY name`
	if err := r.db.SelectContext(ctx, &names, query, username); err != nil {
		return nil, fmt.Errorf("failed to list starred modules: %w", err)
	}
	return names, nil
}
