// Package models - maintainer.go defines maintainer bindings. The same shape is
// stored in two disjoint tables: one for private (scoped/internal) packages and
// one for packages mirrored from the public upstream registry.
package models

// MaintainerUpdate is the outcome of reconciling a maintainer set
type MaintainerUpdate struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

// Changed reports whether the reconciliation added or removed anyone.
func (u *MaintainerUpdate) Changed() bool {
	return len(u.Add) > 0 || len(u.Remove) > 0
}
