// Package services implements the registry metadata core on top of the
// repositories: the module store and publish workflow, tag resolution, the
// dependency and keyword indexes, maintainer authorization and search.
//
// Services depend on the small store interfaces declared here rather than on
// concrete repositories, so the same logic runs against PostgreSQL in
// production and against in-memory fakes in tests. Lookups that find nothing
// return (nil, nil); callers must nil-check every result.
package services

import (
	"context"
	"time"

	"github.com/npm-registry/npm-registry/internal/db/models"
	"github.com/npm-registry/npm-registry/internal/descriptor"
)

const (
	defaultMaxConcurrency = 8
	defaultSearchLimit    = 100
)

// ModuleStore persists one row per published (name, version).
type ModuleStore interface {
	GetModuleByID(ctx context.Context, id int64) (*models.Module, error)
	GetModule(ctx context.Context, name, version string) (*models.Module, error)
	ExistsVersion(ctx context.Context, name, version string) (bool, error)
	ListModulesByName(ctx context.Context, name string) ([]*models.Module, error)
	ListModulesByIDs(ctx context.Context, ids []int64) ([]*models.Module, error)
	ListSummariesByIDs(ctx context.Context, ids []int64) ([]models.ModuleSummary, error)
	ListNamesByAuthor(ctx context.Context, username string) ([]string, error)
	GetLastModified(ctx context.Context, name string) (*time.Time, error)
	UpsertModule(ctx context.Context, m *models.Module) (*models.SaveResult, error)
	UpdatePackage(ctx context.Context, id int64, pkg descriptor.Descriptor) (*models.Module, error)
	UpdateDescription(ctx context.Context, id int64, description string, pkg descriptor.Descriptor) (*models.Module, error)
	TouchLastModified(ctx context.Context, name string) (*models.Module, error)
	DeleteModulesByName(ctx context.Context, name string) (int64, error)
	DeleteModulesByNameAndVersions(ctx context.Context, name string, versions []string) (int64, error)
}

// TagStore persists dist-tags and answers the tag-driven listing queries.
type TagStore interface {
	GetTag(ctx context.Context, name, tag string) (*models.Tag, error)
	UpsertTag(ctx context.Context, name, tag, version string, moduleID int64) (*models.Tag, error)
	ListTags(ctx context.Context, name string) ([]*models.Tag, error)
	DeleteTagsByName(ctx context.Context, name string) (int64, error)
	DeleteTagsByIDs(ctx context.Context, ids []int64) (int64, error)
	DeleteTagsByNames(ctx context.Context, name string, tags []string) (int64, error)
	ListLatestModuleIDs(ctx context.Context, names []string) ([]int64, error)
	ListLatestModuleIDsByScope(ctx context.Context, scope string) ([]int64, error)
	SearchLatestModuleIDs(ctx context.Context, pattern string, limit int) ([]int64, error)
	ListNamesModifiedSince(ctx context.Context, since time.Time) ([]string, error)
	ListAllNames(ctx context.Context) ([]string, error)
}

// DependencyStore persists the reverse dependency index.
type DependencyStore interface {
	AddDependency(ctx context.Context, name, dependent string) (*models.ModuleDependency, error)
	ListDependents(ctx context.Context, name string) ([]string, error)
}

// KeywordStore persists the keyword index.
type KeywordStore interface {
	UpsertKeyword(ctx context.Context, kw *models.ModuleKeyword) error
	SearchByKeyword(ctx context.Context, keyword string, limit int) ([]models.ModuleSummary, error)
}

// MaintainerStore is one maintainer table. The private and the public table
// implement it identically; which one applies to a module is decided by the
// Classifier.
type MaintainerStore interface {
	ListMaintainers(ctx context.Context, name string) ([]string, error)
	ListModuleNamesByUser(ctx context.Context, username string) ([]string, error)
	AddMaintainers(ctx context.Context, name string, usernames []string) error
	UpdateMaintainers(ctx context.Context, name string, usernames []string) (*models.MaintainerUpdate, error)
	RemoveAllMaintainers(ctx context.Context, name string) (int64, error)
}

// StarStore persists per-user stars.
type StarStore interface {
	AddStar(ctx context.Context, name, username string) (*models.ModuleStar, error)
	RemoveStar(ctx context.Context, name, username string) (int64, error)
	ListStarUsers(ctx context.Context, name string) ([]string, error)
	ListStarredNames(ctx context.Context, username string) ([]string, error)
}

// UnpublishedStore persists the archive of fully unpublished modules.
type UnpublishedStore interface {
	SaveUnpublished(ctx context.Context, name string, pkg descriptor.Descriptor) (*models.ModuleUnpublished, error)
	GetUnpublished(ctx context.Context, name string) (*models.ModuleUnpublished, error)
}

// UserLookup resolves usernames to accounts. Unknown names are omitted.
type UserLookup interface {
	ListUsersByNames(ctx context.Context, names []string) ([]models.User, error)
}

// Classifier decides whether a module name is governed by the private
// maintainer table (true) or mirrored from the public upstream registry.
type Classifier interface {
	IsPrivatePackage(ctx context.Context, name string) (bool, error)
}

// Stores bundles the storage dependencies of the services.
type Stores struct {
	Modules            ModuleStore
	Tags               TagStore
	Dependencies       DependencyStore
	Keywords           KeywordStore
	PrivateMaintainers MaintainerStore
	PublicMaintainers  MaintainerStore
	Stars              StarStore
	Unpublished        UnpublishedStore
	Users              UserLookup
}

// Options tunes the services. Zero values select the defaults.
type Options struct {
	// MaxConcurrency bounds the parallel writes of one fan-out
	MaxConcurrency int
	// SearchLimit is used when a search does not set its own limit
	SearchLimit int
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency < 1 {
		o.MaxConcurrency = defaultMaxConcurrency
	}
	if o.SearchLimit < 1 {
		o.SearchLimit = defaultSearchLimit
	}
	return o
}
