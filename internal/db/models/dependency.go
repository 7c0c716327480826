// Package models - dependency.go defines the reverse dependency edge recorded when a
// package declares a dependency on another package.
package models

import "time"

// ModuleDependency records that Dependent declares a dependency on Name
type ModuleDependency struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Dependent string    `json:"dependent" db:"dependent"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
