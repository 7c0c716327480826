// Package models - user.go defines the read-only view of registry accounts needed to
// render maintainer lists.
package models

// User is a registry account as seen by the metadata core
type User struct {
	Name  string `json:"name" db:"name"`
	Email string `json:"email" db:"email"`
}
