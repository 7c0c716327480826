package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/npm-registry/npm-registry/internal/db/models"
	"github.com/npm-registry/npm-registry/internal/telemetry"
)

// substringThreshold is the prefix hit count below which substring matches
// are added to the name results.
const substringThreshold = 20

// SearchOptions tunes one search.
type SearchOptions struct {
	// Limit caps each query; zero uses the configured default
	Limit int
}

// SearchResult holds the two independently ranked result lists. Callers
// combine them; they are never merged here.
type SearchResult struct {
	KeywordMatches []models.ModuleSummary `json:"keywordMatches"`
	SearchMatches  []models.ModuleSummary `json:"searchMatches"`
}

// SearchService searches latest-tagged module names and the keyword index.
type SearchService struct {
	tags     TagStore
	modules  ModuleStore
	keywords KeywordStore
	limit    int
}

// NewSearchService creates a new search service
func NewSearchService(stores Stores, opts Options) *SearchService {
	return &SearchService{
		tags:     stores.Tags,
		modules:  stores.Modules,
		keywords: stores.Keywords,
		limit:    opts.withDefaults().SearchLimit,
	}
}

// Search matches term against module names (prefix, then substring when the
// prefix hits are few) and against keywords (exact).
func (s *SearchService) Search(ctx context.Context, term string, opts SearchOptions) (*SearchResult, error) {
	term = strings.TrimPrefix(term, "%")
	limit := opts.Limit
	if limit < 1 {
		limit = s.limit
	}

	result := &SearchResult{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer telemetry.ObserveSearch("name", time.Now())
		matches, err := s.searchNames(gctx, term, limit)
		result.SearchMatches = matches
		return err
	})
	g.Go(func() error {
		defer telemetry.ObserveSearch("keyword", time.Now())
		matches, err := s.keywords.SearchByKeyword(gctx, term, limit)
		if err != nil {
			return fmt.Errorf("failed to search keywords: %w", err)
		}
		result.KeywordMatches = matches
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SearchService) searchNames(ctx context.Context, term string, limit int) ([]models.ModuleSummary, error) {
	ids, err := s.tags.SearchLatestModuleIDs(ctx, term+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search names by prefix: %w", err)
	}

	if len(ids) < substringThreshold {
		more, err := s.tags.SearchLatestModuleIDs(ctx, "%"+term+"%", limit)
		if err != nil {
			return nil, fmt.Errorf("failed to search names by substring: %w", err)
		}
		seen := make(map[int64]struct{}, len(ids)+len(more))
		union := make([]int64, 0, len(ids)+len(more))
		for _, id := range append(ids, more...) {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			union = append(union, id)
		}
		ids = union
	}

	if len(ids) == 0 {
		return []models.ModuleSummary{}, nil
	}
	return s.modules.ListSummariesByIDs(ctx, ids)
}
