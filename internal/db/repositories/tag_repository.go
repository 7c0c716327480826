// tag_repository.go implements TagRepository, providing database queries for
// dist-tags and for the tag-seeded listings and search that resolve module IDs via
// the "latest" tag.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/npm-registry/npm-registry/internal/db/models"
)

const tagColumns = `id, name, tag, version, module_id, created_at, updated_at`

// TagRepository handles database operations for dist-tags
type TagRepository struct {
	db *sqlx.DB
}

// NewTagRepository creates a new tag repository
func NewTagRepository(db *sqlx.DB) *TagRepository {
	return &TagRepository{db: db}
}

// GetTag retrieves the (name, tag) pointer
func (r *TagRepository) GetTag(ctx context.Context, name, tag string) (*models.Tag, error) {
	var t models.Tag
	query := `SELECT ` + tagColumns + ` FROM tag WHERE name = $1 AND tag = $2`
	if err := r.db.GetContext(ctx, &t, query, name, tag); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get tag: %w", err)
	}
	return &t, nil
}

// UpsertTag points (name, tag) at version, creating the tag if needed
func (r *TagRepository) UpsertTag(ctx context.Context, name, tag, version string, moduleID int64) (*models.Tag, error) {
	query := `
		INSERT INTO tag (name, tag, version, module_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name, tag) DO UPDATE SET
		  version    = EXCLUDED.version,
		  module_id  = EXCLUDED.module_id,
		  updated_at = NOW()
		RETURNING ` + tagColumns

	var t models.Tag
	if err := r.db.GetContext(ctx, &t, query, name, tag, version, moduleID); err != nil {
		return nil, fmt.Errorf("failed to upsert tag: %w", err)
	}
	return &t, nil
}

// ListTags retrieves every tag of name
func (r *TagRepository) ListTags(ctx context.Context, name string) ([]*models.Tag, error) {
	query := `SELECT ` + tagColumns + ` FROM tag WHERE name = $1 ORDER BY tag`

	tags := []*models.Tag{}
	if err := r.db.SelectContext(ctx, &tags, query, name); err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	return tags, nil
}

// DeleteTagsByName removes every tag of name
func (r *TagRepository) DeleteTagsByName(ctx context.Context, name string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tag WHERE name = $1`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tags: %w", err)
	}
	return result.RowsAffected()
}

// DeleteTagsByIDs removes tags by row ID
func (r *TagRepository) DeleteTagsByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM tag WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to delete tags by IDs: %w", err)
	}
	return result.RowsAffected()
}

// DeleteTagsByNames removes the named tags of name
func (r *TagRepository) DeleteTagsByNames(ctx context.Context, name string, tags []string) (int64, error) {
	if len(tags) == 0 {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tag WHERE name = $1 AND tag = ANY($2)`,
		name, pq.Array(tags),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tags by names: %w", err)
	}
	return result.RowsAffected()
}

// ListLatestModuleIDs returns the module IDs the "latest" tag of each name points at
func (r *TagRepository) ListLatestModuleIDs(ctx context.Context, names []string) ([]int64, error) {
	if len(names) == 0 {
		return []int64{}, nil
	}
	query := `SELECT module_id FROM tag WHERE name = ANY($1) AND tag = $2`

	ids := []int64{}
	if err := r.db.SelectContext(ctx, &ids, query, pq.Array(names), models.LatestTag); err != nil {
		return nil, fmt.Errorf("failed to list latest module IDs: %w", err)
	}
	return ids, nil
}

// ListLatestModuleIDsByScope returns "latest" module IDs for every name under scope
func (r *TagRepository) ListLatestModuleIDsByScope(ctx context.Context, scope string) ([]int64, error) {
	query := `SELECT module_id FROM tag WHERE name LIKE $1 ESCAPE '\' AND tag = $2`

	ids := []int64{}
	if err := r.db.SelectContext(ctx, &ids, query, escapeLike(scope)+"/%", models.LatestTag); err != nil {
		return nil, fmt.Errorf("failed to list module IDs by scope: %w", err)
	}
	return ids, nil
}

// SearchLatestModuleIDs returns "latest" module IDs whose name matches the LIKE
// pattern case-insensitively, ordered by name.
func (r *TagRepository) SearchLatestModuleIDs(ctx context.Context, pattern string, limit int) ([]int64, error) {
	query := `
		SELECT module_id FROM tag
		WHERE LOWER(name) LIKE LOWER($1) AND tag = $2
		ORDER BY name
		LIMIT $3
	`

	ids := []int64{}
	if err := r.db.SelectContext(ctx, &ids, query, pattern, models.LatestTag, limit); err != nil {
		return nil, fmt.Errorf("failed to search tags: %w", err)
	}
	return ids, nil
}

// ListNamesModifiedSince returns the distinct names with a tag changed after since
func (r *TagRepository) ListNamesModifiedSince(ctx context.Context, since time.Time) ([]string, error) {
	query := `SELECT DISTINCT name FROM tag WHERE updated_at > $1 ORDER BY name`

	names := []string{}
	if err := r.db.SelectContext(ctx, &names, query, since); err != nil {
		return nil, fmt.Errorf("failed to list names modified since: %w", err)
	}
	return names, nil
}

// ListAllNames returns every distinct name that carries at least one tag
func (r *TagRepository) ListAllNames(ctx context.Context) ([]string, error) {
	names := []string{}
	if err := r.db.SelectContext(ctx, &names, `SELECT DISTINCT name FROM tag ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list tag names: %w", err)
	}
	return names, nil
}
