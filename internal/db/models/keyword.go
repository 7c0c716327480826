// Package models - keyword.go defines the keyword index entry used by search.
package models

import "time"

// ModuleKeyword maps a keyword to a module name. Description mirrors the
// module's current description.
type ModuleKeyword struct {
	ID          int64     `json:"id" db:"id"`
	Keyword     string    `json:"keyword" db:"keyword"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
