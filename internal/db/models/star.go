// Package models - star.go defines the per-user favourite marker.
package models

import "time"

// ModuleStar marks a module as starred by a user
type ModuleStar struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	User      string    `json:"user" db:"username"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
