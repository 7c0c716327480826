package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"github.com/npm-registry/npm-registry/internal/db/models"
	"github.com/npm-registry/npm-registry/internal/descriptor"
	"github.com/npm-registry/npm-registry/internal/notify"
	"github.com/npm-registry/npm-registry/internal/telemetry"
	"github.com/npm-registry/npm-registry/internal/validation"
)

// ModuleDraft is a version about to be saved.
type ModuleDraft struct {
	Name    string
	Version string
	// Author defaults to the first descriptor maintainer
	Author  string
	Package descriptor.Descriptor
	// PublishTime defaults to now
	PublishTime time.Time
	// PublishedHere marks a version uploaded to this registry, as opposed to
	// one copied from the upstream registry
	PublishedHere bool
}

// ValidationError is returned by SaveModule for a draft that cannot be stored.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func validateDraft(d *ModuleDraft) error {
	if d.Name == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if d.Version == "" {
		return &ValidationError{Field: "version", Message: "must not be empty"}
	}
	if err := validation.ValidateSemver(d.Version); err != nil {
		return &ValidationError{Field: "version", Message: err.Error()}
	}
	if d.Package.IsMalformed() {
		return &ValidationError{Field: "package", Message: "descriptor could not be decoded"}
	}
	return nil
}

// normalizeKeywords turns a single string keyword into a one-element list.
func normalizeKeywords(pkg descriptor.Descriptor) (descriptor.Descriptor, error) {
	kw := pkg.Get("keywords")
	if kw.Type != gjson.String {
		return pkg, nil
	}
	return pkg.Set("keywords", []string{kw.String()})
}

// SaveModule stores draft, creating (name, version) or overwriting the
// mutable fields of an existing row, and indexes its keywords. It never
// rejects an existing version; see ExistsVersion. Moving tags and recording
// dependencies are separate calls.
func (s *PackageService) SaveModule(ctx context.Context, draft *ModuleDraft) (*models.SaveResult, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	pkg := draft.Package
	if pkg.IsZero() {
		pkg = descriptor.New()
	}
	pkg, err := normalizeKeywords(pkg)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize keywords: %w", err)
	}
	if draft.PublishedHere {
		if pkg, err = pkg.Set(descriptor.PublishedHereField, true); err != nil {
			return nil, fmt.Errorf("failed to mark package: %w", err)
		}
	}

	author := draft.Author
	if author == "" {
		if names := pkg.MaintainerNames(); len(names) > 0 {
			author = names[0]
		}
	}
	publishTime := draft.PublishTime
	if publishTime.IsZero() {
		publishTime = s.now()
	}

	mod := &models.Module{
		Name:        draft.Name,
		Version:     draft.Version,
		Author:      author,
		Package:     pkg,
		Description: pkg.Description(),
		Dist:        pkg.Dist(),
		PublishTime: publishTime,
	}
	result, err := s.stores.Modules.UpsertModule(ctx, mod)
	if err != nil {
		return nil, err
	}

	if keywords := pkg.Keywords(); len(keywords) > 0 {
		if err := s.AddKeywords(ctx, mod.Name, mod.Description, keywords); err != nil {
			return nil, err
		}
	}

	telemetry.ModulePublishesTotal.WithLabelValues(s.visibility(ctx, mod.Name)).Inc()
	slog.Info("module saved", "purl", mod.PURL(), "scope", mod.Scope(), "id", result.ID, "author", author)
	s.emit(ctx, notify.EventPublish, mod.Name, mod.Version)
	return result, nil
}

func (s *PackageService) visibility(ctx context.Context, name string) string {
	if s.classifier == nil {
		return "unknown"
	}
	private, err := s.classifier.IsPrivatePackage(ctx, name)
	if err != nil {
		slog.Warn("failed to classify package", "name", name, "error", err)
		return "unknown"
	}
	if private {
		return "private"
	}
	return "public"
}

// DependenciesOf returns the dependency names declared by pkg, for recording
// with AddDependencies after a publish.
func DependenciesOf(pkg descriptor.Descriptor) []string {
	return pkg.Dependencies()
}
