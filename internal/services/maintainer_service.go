package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/npm-registry/npm-registry/internal/db/models"
	"github.com/npm-registry/npm-registry/internal/telemetry"
)

// ModuleTracker is the part of the module store the maintainer authority
// needs: the latest descriptor for the fallback and lockout rules, and the
// change token bump after an ownership change. *PackageService implements it.
type ModuleTracker interface {
	GetLatestModule(ctx context.Context, name string) (*models.Module, error)
	UpdateModuleLastModified(ctx context.Context, name string) (*models.Module, error)
}

// AuthResult is the outcome of Authorize.
type AuthResult struct {
	IsMaintainer bool     `json:"is_maintainer"`
	Maintainers  []string `json:"maintainers"`
}

// MaintainerService decides who may mutate a module. Private modules are
// governed by the private maintainer table, mirrored public modules by the
// public one. Only the private table is writable here.
type MaintainerService struct {
	private    MaintainerStore
	public     MaintainerStore
	classifier Classifier
	modules    ModuleTracker
	users      UserLookup
}

// NewMaintainerService creates a new maintainer service
func NewMaintainerService(stores Stores, classifier Classifier, modules ModuleTracker) *MaintainerService {
	return &MaintainerService{
		private:    stores.PrivateMaintainers,
		public:     stores.PublicMaintainers,
		classifier: classifier,
		modules:    modules,
		users:      stores.Users,
	}
}

// storeFor returns the maintainer table that governs name and whether name
// is private.
func (s *MaintainerService) storeFor(ctx context.Context, name string) (MaintainerStore, bool, error) {
	private, err := s.classifier.IsPrivatePackage(ctx, name)
	if err != nil {
		return nil, false, fmt.Errorf("failed to classify %s: %w", name, err)
	}
	if private {
		return s.private, true, nil
	}
	return s.public, false, nil
}

// Authorize reports whether username may publish, unpublish or retag name,
// together with the maintainer list the decision was made against.
//
// When the governing table has no rows for name, the maintainers embedded in
// the latest descriptor are used instead. A public module whose latest version
// was not published through this registry is read-only for everyone. Otherwise an
// empty maintainer set grants access and a non-empty one requires membership.
func (s *MaintainerService) Authorize(ctx context.Context, name, username string) (*AuthResult, error) {
	store, private, err := s.storeFor(ctx, name)
	if err != nil {
		return nil, err
	}

	var (
		maintainers []string
		latest      *models.Module
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		maintainers, err = store.ListMaintainers(gctx, name)
		return err
	})
	g.Go(func() (err error) {
		latest, err = s.modules.GetLatestModule(gctx, name)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to authorize %s on %s: %w", username, name, err)
	}

	if len(maintainers) == 0 && latest != nil {
		maintainers = latest.Package.MaintainerNames()
	}
	if maintainers == nil {
		maintainers = []string{}
	}

	result := &AuthResult{Maintainers: maintainers}
	switch {
	case !private && latest != nil && !latest.Package.PublishedHere():
		result.IsMaintainer = false
	case len(maintainers) == 0:
		result.IsMaintainer = true
	default:
		result.IsMaintainer = slices.Contains(maintainers, username)
	}

	decision := "denied"
	if result.IsMaintainer {
		decision = "allowed"
	}
	telemetry.AuthorizationDecisionsTotal.WithLabelValues(decision).Inc()
	slog.Debug("maintainer authorization", "name", name, "user", username, "result", decision, "maintainers", len(maintainers))
	return result, nil
}

// IsMaintainer is Authorize reduced to its decision.
func (s *MaintainerService) IsMaintainer(ctx context.Context, name, username string) (bool, error) {
	result, err := s.Authorize(ctx, name, username)
	if err != nil {
		return false, err
	}
	return result.IsMaintainer, nil
}

// ListMaintainerNames returns the usernames in the table that governs name.
// The latest descriptor is not consulted.
func (s *MaintainerService) ListMaintainerNames(ctx context.Context, name string) ([]string, error) {
	store, _, err := s.storeFor(ctx, name)
	if err != nil {
		return nil, err
	}
	return store.ListMaintainers(ctx, name)
}

// ListMaintainers returns the accounts of ListMaintainerNames
func (s *MaintainerService) ListMaintainers(ctx context.Context, name string) ([]models.User, error) {
	names, err := s.ListMaintainerNames(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return []models.User{}, nil
	}
	return s.users.ListUsersByNames(ctx, names)
}

// AddPrivateMaintainers grants usernames on name in the private table
func (s *MaintainerService) AddPrivateMaintainers(ctx context.Context, name string, usernames []string) error {
	return s.private.AddMaintainers(ctx, name, usernames)
}

// UpdatePrivateMaintainers makes usernames the exact private maintainer set of
// name. When anyone was added or removed the module's change token is bumped.
func (s *MaintainerService) UpdatePrivateMaintainers(ctx context.Context, name string, usernames []string) (*models.MaintainerUpdate, error) {
	update, err := s.private.UpdateMaintainers(ctx, name, usernames)
	if err != nil {
		return nil, err
	}
	if update.Changed() {
		if _, err := s.modules.UpdateModuleLastModified(ctx, name); err != nil {
			return nil, err
		}
		slog.Info("maintainers updated", "name", name, "added", update.Add, "removed", update.Remove)
	}
	return update, nil
}

// RemoveAllMaintainers clears name from both maintainer tables
func (s *MaintainerService) RemoveAllMaintainers(ctx context.Context, name string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, store := range []MaintainerStore{s.private, s.public} {
		g.Go(func() error {
			_, err := store.RemoveAllMaintainers(gctx, name)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to remove maintainers of %s: %w", name, err)
	}
	return nil
}
