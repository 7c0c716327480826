// maintainer_repository.go implements MaintainerRepository. Private and public
// maintainers share one shape but live in disjoint tables; a repository instance is
// bound to exactly one of them at construction.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/npm-registry/npm-registry/internal/db/models"
)

const (
	privateMaintainerTable = "module_maintainer"
	publicMaintainerTable  = "npm_module_maintainer"
)

// MaintainerRepository handles database operations for one maintainer table
type MaintainerRepository struct {
	db    *sqlx.DB
	table string
}

// NewPrivateMaintainerRepository creates a repository over the maintainers of
// private packages
func NewPrivateMaintainerRepository(db *sqlx.DB) *MaintainerRepository {
	return &MaintainerRepository{db: db, table: privateMaintainerTable}
}

// NewPublicMaintainerRepository creates a repository over the maintainers synced
// from the public upstream registry
func NewPublicMaintainerRepository(db *sqlx.DB) *MaintainerRepository {
	return &MaintainerRepository{db: db, table: publicMaintainerTable}
}

// ListMaintainers returns the usernames bound to name in insertion order
func (r *MaintainerRepository) ListMaintainers(ctx context.Context, name string) ([]string, error) {
	query := fmt.Sprintf(`SELECT username FROM %s WHERE name = $1 ORDER BY id`, r.table)

	users := []string{}
	if err := r.db.SelectContext(ctx, &users, query, name); err != nil {
		return nil, fmt.Errorf("failed to list maintainers: %w", err)
	}
	return users, nil
}

// ListModuleNamesByUser returns the module names username maintains
func (r *MaintainerRepository) ListModuleNamesByUser(ctx context.Context, username string) ([]string, error) {
	query := fmt.Sprintf(`SELECT name FROM %s WHERE username = $1 ORDER BY name`, r.table)

	names := []string{}
	if err := r.db.SelectContext(ctx, &names, query, username); err != nil {
		return nil, fmt.Errorf("failed to list maintained modules: %w", err)
	}
	return names, nil
}

// AddMaintainers binds every username to name, skipping existing bindings
func (r *MaintainerRepository) AddMaintainers(ctx context.Context, name string, usernames []string) error {
	if len(usernames) == 0 {
		return nil
	}
	return addMaintainers(ctx, r.db, r.table, name, usernames)
}

// RemoveAllMaintainers unbinds everyone from name
func (r *MaintainerRepository) RemoveAllMaintainers(ctx context.Context, name string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, r.table)
	result, err := r.db.ExecContext(ctx, query, name)
	if err != nil {
		return 0, fmt.Errorf("failed to remove all maintainers: %w", err)
	}
	return result.RowsAffected()
}

// UpdateMaintainers reconciles the bindings of name to exactly usernames inside
// one transaction and reports who was added and who was removed.
func (r *MaintainerRepository) UpdateMaintainers(ctx context.Context, name string, usernames []string) (*models.MaintainerUpdate, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	var current []string
	lockQuery := fmt.Sprintf(`SELECT username FROM %s WHERE name = $1 ORDER BY id FOR UPDATE`, r.table)
	if err := tx.SelectContext(ctx, &current, lockQuery, name); err != nil {
		return nil, fmt.Errorf("failed to lock maintainers: %w", err)
	}

	update := diffMaintainers(current, usernames)
	if len(update.Add) > 0 {
		if err := addMaintainers(ctx, tx, r.table, name, update.Add); err != nil {
			return nil, err
		}
	}
	if len(update.Remove) > 0 {
		if _, err := removeMaintainers(ctx, tx, r.table, name, update.Remove); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit maintainer update: %w", err)
	}
	return update, nil
}

// diffMaintainers computes the bindings to add and remove so that current
// becomes want. Order follows want for additions and current for removals.
func diffMaintainers(current, want []string) *models.MaintainerUpdate {
	have := make(map[string]bool, len(current))
	for _, u := range current {
		have[u] = true
	}
	keep := make(map[string]bool, len(want))
	update := &models.MaintainerUpdate{Add: []string{}, Remove: []string{}}
	for _, u := range want {
		if keep[u] {
			continue
		}
		keep[u] = true
		if !have[u] {
			update.Add = append(update.Add, u)
		}
	}
	for _, u := range current {
		if !keep[u] {
			update.Remove = append(update.Remove, u)
		}
	}
	return update
}

func addMaintainers(ctx context.Context, db sqlx.ExecerContext, table, name string, usernames []string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (name, username)
		SELECT $1, u FROM unnest($2::text[]) AS u
		ON CONFLICT (username, name) DO NOTHING
	`, table)
	if _, err := db.ExecContext(ctx, query, name, pq.Array(usernames)); err != nil {
		return fmt.Errorf("failed to add maintainers: %w", err)
	}
	return nil
}

func removeMaintainers(ctx context.Context, db sqlx.ExecerContext, table, name string, usernames []string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE name = $1 AND username = ANY($2)`, table)
	result, err := db.ExecContext(ctx, query, name, pq.Array(usernames))
	if err != nil {
		return 0, fmt.Errorf("failed to remove maintainers: %w", err)
	}
	return result.RowsAffected()
}
