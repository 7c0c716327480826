// Package repositories implements the data access layer (repository pattern) for the
// registry metadata core. Each repository type encapsulates all database queries for
// one table. Services never issue SQL directly; every query lives here so it can be
// tested in isolation with sqlmock.
//
// Lookups that find nothing return (nil, nil). Storage errors, including unique
// constraint violations, are wrapped and returned unmodified otherwise; use
// IsUniqueViolation to detect the latter.
package repositories

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a PostgreSQL unique-constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// escapeLike escapes LIKE metacharacters so s matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
