// Package models - unpublished.go defines the archive record kept when every version
// of a module has been removed.
package models

import (
	"time"

	"github.com/npm-registry/npm-registry/internal/descriptor"
)

// ModuleUnpublished holds the last known descriptor of a fully unpublished module
type ModuleUnpublished struct {
	ID        int64                 `json:"id"`
	Name      string                `json:"name"`
	Package   descriptor.Descriptor `json:"package"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}
