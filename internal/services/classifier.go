package services

import (
	"context"

	"github.com/npm-registry/npm-registry/internal/db/models"
)

// ScopeClassifier classifies names from static configuration: a name is
// private when it is listed explicitly or when its scope is owned by this
// registry.
type ScopeClassifier struct {
	scopes map[string]struct{}
	names  map[string]struct{}
}

// NewScopeClassifier creates a classifier from the registry.scopes and
// registry.private_packages settings.
func NewScopeClassifier(scopes, privatePackages []string) *ScopeClassifier {
	c := &ScopeClassifier{
		scopes: make(map[string]struct{}, len(scopes)),
		names:  make(map[string]struct{}, len(privatePackages)),
	}
	for _, s := range scopes {
		c.scopes[s] = struct{}{}
	}
	for _, n := range privatePackages {
		c.names[n] = struct{}{}
	}
	return c
}

// IsPrivatePackage implements Classifier.
func (c *ScopeClassifier) IsPrivatePackage(_ context.Context, name string) (bool, error) {
	if _, ok := c.names[name]; ok {
		return true, nil
	}
	scope, _ := models.SplitScope(name)
	if scope == "" {
		return false, nil
	}
	_, ok := c.scopes[scope]
	return ok, nil
}
