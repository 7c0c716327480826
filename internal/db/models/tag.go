// Package models - tag.go defines the Tag model, a mutable dist-tag pointer from a
// module name to one published version.
package models

import "time"

// Tag maps (name, tag) to a module version
type Tag struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Tag       string    `json:"tag" db:"tag"`
	Version   string    `json:"version" db:"version"`
	ModuleID  int64     `json:"module_id" db:"module_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
