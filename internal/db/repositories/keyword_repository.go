// keyword_repository.go implements KeywordRepository for the keyword search index.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/npm-registry/npm-registry/internal/db/models"
)

// KeywordRepository handles database operations for module_keyword
type KeywordRepository struct {
	db *sqlx.DB
}

// NewKeywordRepository creates a new keyword repository
func NewKeywordRepository(db *sqlx.DB) *KeywordRepository {
	return &KeywordRepository{db: db}
}

// UpsertKeyword records keyword for name, refreshing the stored description
func (r *KeywordRepository) UpsertKeyword(ctx context.Context, kw *models.ModuleKeyword) error {
	query := `
		INSERT INTO module_keyword (keyword, name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (keyword, name) DO UPDATE SET description = EXCLUDED.description
		RETURNING id, created_at
	`

	err := r.db.QueryRowxContext(ctx, query, kw.Keyword, kw.Name, kw.Description).
		Scan(&kw.ID, &kw.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert keyword: %w", err)
	}
	return nil
}

// SearchByKeyword returns modules tagged with keyword, newest entry first
func (r *KeywordRepository) SearchByKeyword(ctx context.Context, keyword string, limit int) ([]models.ModuleSummary, error) {
	query := `
		SELECT name, description FROM module_keyword
		WHERE keyword = $1
		ORDER BY id DESC
		LIMIT $2
	`

	summaries := []models.ModuleSummary{}
	if err := r.db.SelectContext(ctx, &summaries, query, keyword, limit); err != nil {
		return nil, fmt.Errorf("failed to search keywords: %w", err)
	}
	return summaries, nil
}
