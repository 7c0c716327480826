// Package models - module.go defines the Module model, one immutable row per published
// (name, version), and the SaveResult change token returned by an upsert.
package models

import (
	"strings"
	"time"

	"github.com/npm-registry/npm-registry/internal/descriptor"
	packageurl "github.com/package-url/packageurl-go"
)

// LatestTag is the default dist-tag and the seed for listings and search.
const LatestTag = "latest"

// Module represents one published version of a package
type Module struct {
	ID          int64                 `json:"id"`
	Name        string                `json:"name"`
	Version     string                `json:"version"`
	Author      string                `json:"author"` // first maintainer at publish time
	Package     descriptor.Descriptor `json:"package"`
	Description string                `json:"description"`
	Dist        descriptor.Dist       `json:"dist"`
	PublishTime time.Time             `json:"publish_time"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// SaveResult is returned by a module upsert so callers can surface a change token.
type SaveResult struct {
	ID           int64     `json:"id"`
	LastModified time.Time `json:"last_modified"`
}

// ModuleSummary is the (name, description) pair used by listings and search.
type ModuleSummary struct {
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
}

// IsScoped reports whether name carries an "@scope/" prefix.
func IsScoped(name string) bool {
	return strings.HasPrefix(name, "@") && strings.Contains(name, "/")
}

// SplitScope splits "@scope/pkg" into ("@scope", "pkg"). Unscoped names return
// an empty scope.
func SplitScope(name string) (scope, bare string) {
	if !IsScoped(name) {
		return "", name
	}
	i := strings.Index(name, "/")
	return name[:i], name[i+1:]
}

// Scope returns the "@scope" part of the module name, or "".
func (m *Module) Scope() string {
	scope, _ := SplitScope(m.Name)
	return scope
}

// PURL returns the package URL of this version, e.g. pkg:npm/%40scope/name@1.0.0.
func (m *Module) PURL() string {
	scope, bare := SplitScope(m.Name)
	return packageurl.NewPackageURL(packageurl.TypeNPM, scope, bare, m.Version, nil, "").ToString()
}
