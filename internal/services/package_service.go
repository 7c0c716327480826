package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/npm-registry/npm-registry/internal/db/models"
	"github.com/npm-registry/npm-registry/internal/descriptor"
	"github.com/npm-registry/npm-registry/internal/notify"
	"github.com/npm-registry/npm-registry/internal/validation"
)

// PackageService owns modules and tags and maintains the dependency, keyword
// and star indexes that hang off them.
type PackageService struct {
	stores     Stores
	classifier Classifier
	notifier   notify.Notifier
	opts       Options
	now        func() time.Time
}

// NewPackageService creates a new package service. A nil notifier disables
// change events.
func NewPackageService(stores Stores, classifier Classifier, notifier notify.Notifier, opts Options) *PackageService {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &PackageService{
		stores:     stores,
		classifier: classifier,
		notifier:   notifier,
		opts:       opts.withDefaults(),
		now:        time.Now,
	}
}

// emit sends a change event. Delivery failures never fail the mutation that
// already committed.
func (s *PackageService) emit(ctx context.Context, typ notify.EventType, name, version string) {
	ev := notify.Event{Type: typ, Name: name, Version: version, Time: s.now()}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		slog.Warn("failed to publish change event", "type", typ, "name", name, "version", version, "error", err)
	}
}

// ---------------------------------------------------------------------------
// Module lookups
// ---------------------------------------------------------------------------

// GetModuleByID returns the module row with id, or nil
func (s *PackageService) GetModuleByID(ctx context.Context, id int64) (*models.Module, error) {
	return s.stores.Modules.GetModuleByID(ctx, id)
}

// GetModule returns the exact (name, version) row, or nil
func (s *PackageService) GetModule(ctx context.Context, name, version string) (*models.Module, error) {
	return s.stores.Modules.GetModule(ctx, name, version)
}

// ExistsVersion reports whether (name, version) was published. Callers that
// must reject re-publishing check this before SaveModule.
func (s *PackageService) ExistsVersion(ctx context.Context, name, version string) (bool, error) {
	return s.stores.Modules.ExistsVersion(ctx, name, version)
}

// GetModuleByTag resolves tag and returns the version it points at, or nil
// when the tag or the version does not exist.
func (s *PackageService) GetModuleByTag(ctx context.Context, name, tag string) (*models.Module, error) {
	t, err := s.stores.Tags.GetTag(ctx, name, tag)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}
	return s.stores.Modules.GetModule(ctx, name, t.Version)
}

// GetLatestModule returns the version the "latest" tag points at, or nil
func (s *PackageService) GetLatestModule(ctx context.Context, name string) (*models.Module, error) {
	return s.GetModuleByTag(ctx, name, models.LatestTag)
}

// ListModulesByName returns every version of name, newest row first
func (s *PackageService) ListModulesByName(ctx context.Context, name string) ([]*models.Module, error) {
	return s.stores.Modules.ListModulesByName(ctx, name)
}

// ListSortedVersions returns the published versions of name ordered highest
// semver first. Used when a tag has to be repointed after an unpublish.
func (s *PackageService) ListSortedVersions(ctx context.Context, name string) ([]string, error) {
	mods, err := s.stores.Modules.ListModulesByName(ctx, name)
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(mods))
	for _, m := range mods {
		versions = append(versions, m.Version)
	}
	return validation.SortVersions(versions), nil
}

// GetModuleLastModified returns the newest modification time across the
// versions of name, or nil when none exist
func (s *PackageService) GetModuleLastModified(ctx context.Context, name string) (*time.Time, error) {
	return s.stores.Modules.GetLastModified(ctx, name)
}

// ---------------------------------------------------------------------------
// Descriptor edits
// ---------------------------------------------------------------------------

// UpdateModulePackage replaces the stored descriptor of module id. Returns nil
// when id does not exist.
func (s *PackageService) UpdateModulePackage(ctx context.Context, id int64, pkg descriptor.Descriptor) (*models.Module, error) {
	if pkg.IsMalformed() {
		return nil, descriptor.ErrMalformed
	}
	return s.stores.Modules.UpdatePackage(ctx, id, pkg)
}

// UpdateModulePackageFields merges fields into the stored descriptor of module
// id, keeping every other field. Returns nil when id does not exist.
func (s *PackageService) UpdateModulePackageFields(ctx context.Context, id int64, fields map[string]any) (*models.Module, error) {
	mod, err := s.stores.Modules.GetModuleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if mod == nil {
		return nil, nil
	}
	pkg, err := mod.Package.Merge(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to update package of %s@%s: %w", mod.Name, mod.Version, err)
	}
	return s.stores.Modules.UpdatePackage(ctx, id, pkg)
}

// UpdateModuleReadme sets the descriptor readme of module id
func (s *PackageService) UpdateModuleReadme(ctx context.Context, id int64, readme string) (*models.Module, error) {
	return s.UpdateModulePackageFields(ctx, id, map[string]any{"readme": readme})
}

// UpdateModuleDescription sets the description column and the descriptor
// description of module id in one write. Returns nil when id does not exist.
func (s *PackageService) UpdateModuleDescription(ctx context.Context, id int64, description string) (*models.Module, error) {
	mod, err := s.stores.Modules.GetModuleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if mod == nil {
		return nil, nil
	}
	pkg, err := mod.Package.Set("description", description)
	if err != nil {
		return nil, fmt.Errorf("failed to update description of %s@%s: %w", mod.Name, mod.Version, err)
	}
	return s.stores.Modules.UpdateDescription(ctx, id, description, pkg)
}

// UpdateModuleLastModified bumps the change token of name without touching
// content and announces the change. Returns nil when name has no versions.
func (s *PackageService) UpdateModuleLastModified(ctx context.Context, name string) (*models.Module, error) {
	mod, err := s.stores.Modules.TouchLastModified(ctx, name)
	if err != nil {
		return nil, err
	}
	if mod != nil {
		s.emit(ctx, notify.EventUpdate, name, "")
	}
	return mod, nil
}

// ---------------------------------------------------------------------------
// Removal
// ---------------------------------------------------------------------------

// RemoveModulesByName deletes every version of name. Tags, dependencies and
// keywords are left for the caller to clean up.
func (s *PackageService) RemoveModulesByName(ctx context.Context, name string) (int64, error) {
	n, err := s.stores.Modules.DeleteModulesByName(ctx, name)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.emit(ctx, notify.EventUnpublish, name, "")
	}
	return n, nil
}

// RemoveModulesByNameAndVersions deletes the listed versions of name
func (s *PackageService) RemoveModulesByNameAndVersions(ctx context.Context, name string, versions []string) (int64, error) {
	n, err := s.stores.Modules.DeleteModulesByNameAndVersions(ctx, name, versions)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.emit(ctx, notify.EventUnpublish, name, strings.Join(versions, ","))
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Tags
// ---------------------------------------------------------------------------

// AddModuleTag points tag at version. When (name, version) was never
// published nothing is written and nil is returned.
func (s *PackageService) AddModuleTag(ctx context.Context, name, tag, version string) (*models.Tag, error) {
	mod, err := s.stores.Modules.GetModule(ctx, name, version)
	if err != nil {
		return nil, err
	}
	if mod == nil {
		slog.Debug("refusing to tag unknown version", "name", name, "tag", tag, "version", version)
		return nil, nil
	}
	t, err := s.stores.Tags.UpsertTag(ctx, name, tag, version, mod.ID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, notify.EventUpdate, name, version)
	return t, nil
}

// GetModuleTag returns the (name, tag) row, or nil
func (s *PackageService) GetModuleTag(ctx context.Context, name, tag string) (*models.Tag, error) {
	return s.stores.Tags.GetTag(ctx, name, tag)
}

// ListModuleTags returns every tag of name
func (s *PackageService) ListModuleTags(ctx context.Context, name string) ([]*models.Tag, error) {
	return s.stores.Tags.ListTags(ctx, name)
}

// RemoveModuleTags deletes every tag of name
func (s *PackageService) RemoveModuleTags(ctx context.Context, name string) (int64, error) {
	return s.stores.Tags.DeleteTagsByName(ctx, name)
}

// RemoveModuleTagsByIDs deletes the tags with the given ids
func (s *PackageService) RemoveModuleTagsByIDs(ctx context.Context, ids []int64) (int64, error) {
	return s.stores.Tags.DeleteTagsByIDs(ctx, ids)
}

// RemoveModuleTagsByNames deletes the listed tags of name
func (s *PackageService) RemoveModuleTagsByNames(ctx context.Context, name string, tags []string) (int64, error) {
	return s.stores.Tags.DeleteTagsByNames(ctx, name, tags)
}

// ---------------------------------------------------------------------------
// Dependency index
// ---------------------------------------------------------------------------

// AddDependency records that dependent declares a dependency on dependency.
// Repeating the call returns the existing edge.
func (s *PackageService) AddDependency(ctx context.Context, dependent, dependency string) (*models.ModuleDependency, error) {
	return s.stores.Dependencies.AddDependency(ctx, dependency, dependent)
}

// AddDependencies records every edge from dependent concurrently. The first
// failure cancels the rest and is returned.
func (s *PackageService) AddDependencies(ctx context.Context, dependent string, dependencies []string) ([]*models.ModuleDependency, error) {
	edges := make([]*models.ModuleDependency, len(dependencies))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrency)
	for i, dep := range dependencies {
		g.Go(func() error {
			edge, err := s.stores.Dependencies.AddDependency(gctx, dep, dependent)
			if err != nil {
				return err
			}
			edges[i] = edge
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to add dependencies of %s: %w", dependent, err)
	}
	return edges, nil
}

// ListDependents returns the names that depend on name
func (s *PackageService) ListDependents(ctx context.Context, name string) ([]string, error) {
	return s.stores.Dependencies.ListDependents(ctx, name)
}

// ---------------------------------------------------------------------------
// Keyword index
// ---------------------------------------------------------------------------

// AddKeyword upserts one keyword entry, refreshing its description
func (s *PackageService) AddKeyword(ctx context.Context, kw *models.ModuleKeyword) error {
	return s.stores.Keywords.UpsertKeyword(ctx, kw)
}

// AddKeywords upserts one entry per keyword concurrently, all with the same
// description.
func (s *PackageService) AddKeywords(ctx context.Context, name, description string, keywords []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrency)
	for _, word := range keywords {
		g.Go(func() error {
			return s.stores.Keywords.UpsertKeyword(gctx, &models.ModuleKeyword{
				Keyword:     word,
				Name:        name,
				Description: description,
			})
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to add keywords of %s: %w", name, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Stars
// ---------------------------------------------------------------------------

// AddStar marks name as starred by username. Starring twice is a no-op.
func (s *PackageService) AddStar(ctx context.Context, name, username string) (*models.ModuleStar, error) {
	return s.stores.Stars.AddStar(ctx, name, username)
}

// RemoveStar removes the star of username on name, if any
func (s *PackageService) RemoveStar(ctx context.Context, name, username string) error {
	_, err := s.stores.Stars.RemoveStar(ctx, name, username)
	return err
}

// ListStarUserNames returns the users who starred name
func (s *PackageService) ListStarUserNames(ctx context.Context, name string) ([]string, error) {
	return s.stores.Stars.ListStarUsers(ctx, name)
}

// ListUserStarModuleNames returns the names username starred
func (s *PackageService) ListUserStarModuleNames(ctx context.Context, username string) ([]string, error) {
	return s.stores.Stars.ListStarredNames(ctx, username)
}

// ---------------------------------------------------------------------------
// Unpublished archive
// ---------------------------------------------------------------------------

// SaveUnpublishedModule archives the last descriptor of a fully removed module
func (s *PackageService) SaveUnpublishedModule(ctx context.Context, name string, pkg descriptor.Descriptor) (*models.ModuleUnpublished, error) {
	return s.stores.Unpublished.SaveUnpublished(ctx, name, pkg)
}

// GetUnpublishedModule returns the archive record of name, or nil
func (s *PackageService) GetUnpublishedModule(ctx context.Context, name string) (*models.ModuleUnpublished, error) {
	return s.stores.Unpublished.GetUnpublished(ctx, name)
}

// ---------------------------------------------------------------------------
// Listings
// ---------------------------------------------------------------------------

// ListModules returns the (name, description) of the latest version of each
// name, ordered by name. Names without a latest tag are skipped.
func (s *PackageService) ListModules(ctx context.Context, names []string) ([]models.ModuleSummary, error) {
	if len(names) == 0 {
		return []models.ModuleSummary{}, nil
	}
	ids, err := s.stores.Tags.ListLatestModuleIDs(ctx, names)
	if err != nil {
		return nil, err
	}
	return s.stores.Modules.ListSummariesByIDs(ctx, ids)
}

// ListModuleNamesByUser returns every name username authored or maintains,
// in either maintainer table.
func (s *PackageService) ListModuleNamesByUser(ctx context.Context, username string) ([]string, error) {
	var authored, private, public []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		authored, err = s.stores.Modules.ListNamesByAuthor(gctx, username)
		return err
	})
	g.Go(func() (err error) {
		private, err = s.stores.PrivateMaintainers.ListModuleNamesByUser(gctx, username)
		return err
	})
	g.Go(func() (err error) {
		public, err = s.stores.PublicMaintainers.ListModuleNamesByUser(gctx, username)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to list modules of %s: %w", username, err)
	}
	return mergeNames(nil, authored, private, public), nil
}

// ListModulesByUser is ListModuleNamesByUser resolved through ListModules
func (s *PackageService) ListModulesByUser(ctx context.Context, username string) ([]models.ModuleSummary, error) {
	names, err := s.ListModuleNamesByUser(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.ListModules(ctx, names)
}

// ListPublicModuleNamesByUser returns the unscoped names username authored or
// maintains upstream.
func (s *PackageService) ListPublicModuleNamesByUser(ctx context.Context, username string) ([]string, error) {
	var authored, public []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		authored, err = s.stores.Modules.ListNamesByAuthor(gctx, username)
		return err
	})
	g.Go(func() (err error) {
		public, err = s.stores.PublicMaintainers.ListModuleNamesByUser(gctx, username)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to list public modules of %s: %w", username, err)
	}
	return mergeNames(isUnscoped, authored, public), nil
}

// ListPublicModulesByUser is ListPublicModuleNamesByUser resolved through
// ListModules
func (s *PackageService) ListPublicModulesByUser(ctx context.Context, username string) ([]models.ModuleSummary, error) {
	names, err := s.ListPublicModuleNamesByUser(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.ListModules(ctx, names)
}

// ListPublicModuleNamesSince returns the unscoped names whose tags changed
// after since.
func (s *PackageService) ListPublicModuleNamesSince(ctx context.Context, since time.Time) ([]string, error) {
	names, err := s.stores.Tags.ListNamesModifiedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	return mergeNames(isUnscoped, names), nil
}

// ListAllPublicModuleNames returns every unscoped tagged name
func (s *PackageService) ListAllPublicModuleNames(ctx context.Context) ([]string, error) {
	names, err := s.stores.Tags.ListAllNames(ctx)
	if err != nil {
		return nil, err
	}
	return mergeNames(isUnscoped, names), nil
}

// ListPrivateModulesByScope returns the latest version of every module under
// scope (e.g. "@corp").
func (s *PackageService) ListPrivateModulesByScope(ctx context.Context, scope string) ([]*models.Module, error) {
	ids, err := s.stores.Tags.ListLatestModuleIDsByScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*models.Module{}, nil
	}
	return s.stores.Modules.ListModulesByIDs(ctx, ids)
}

func isUnscoped(name string) bool {
	return !strings.HasPrefix(name, "@")
}

// mergeNames returns the sorted, deduplicated union of lists, keeping only
// names accepted by keep (all names when keep is nil).
func mergeNames(keep func(string) bool, lists ...[]string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, list := range lists {
		for _, name := range list {
			if keep != nil && !keep(name) {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
