// Package registry maintains the tracked-app registry: per-package metadata
// (label, version, category, user exclusion flag) backed by the store, with
// on-demand synthesis of entries for packages seen for the first time.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/shuifeng1988/OffTimes-sub002/internal/store"
)

// PackageMeta is what the platform package manager knows about a package.
type PackageMeta struct {
	Label            string
	VersionName      string
	VersionCode      int64
	IsSystemApp      bool
	FirstInstallTime int64
	LastUpdateTime   int64
	Enabled          bool
}

// PackageSource looks package metadata up from the platform. Lookup returns
// nil when the package is unknown to the platform.
type PackageSource interface {
	Lookup(packageName string) (*PackageMeta, error)
}

// Classifier assigns a category id to a package name.
type Classifier func(packageName string) int

// Registry resolves packages to their registry rows, creating minimal
// entries for packages never seen before.
type Registry struct {
	store    *store.Store
	source   PackageSource
	classify Classifier
	logger   *slog.Logger
}

// New creates a Registry. source may be nil, in which case unknown packages
// cannot be synthesized and Resolve fails for them.
func New(st *store.Store, source PackageSource, classify Classifier, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    st,
		source:   source,
		classify: classify,
		logger:   logger,
	}
}

// Get returns the registry row for a package, or nil when unknown.
func (r *Registry) Get(packageName string) (*store.App, error) {
	return r.store.GetApp(packageName)
}

// Resolve returns the category for a package, synthesizing a minimal
// registry entry from the package source when the package is unknown.
// Implements usage.AppResolver.
func (r *Registry) Resolve(packageName string) (int, error) {
	app, err := r.store.GetApp(packageName)
	if err != nil {
		return 0, fmt.Errorf("registry: get %s: %w", packageName, err)
	}
	if app != nil {
		return app.CategoryID, nil
	}

	if r.source == nil {
		return 0, fmt.Errorf("registry: unknown package %s and no package source", packageName)
	}
	meta, err := r.source.Lookup(packageName)
	if err != nil {
		return 0, fmt.Errorf("registry: lookup %s: %w", packageName, err)
	}
	if meta == nil {
		return 0, fmt.Errorf("registry: package %s not found by platform", packageName)
	}

	categoryID := 0
	if r.classify != nil {
		categoryID = r.classify(packageName)
	}
	app = &store.App{
		PackageName:      packageName,
		Label:            meta.Label,
		CategoryID:       categoryID,
		IsSystem:         meta.IsSystemApp,
		VersionName:      meta.VersionName,
		VersionCode:      meta.VersionCode,
		FirstInstallTime: meta.FirstInstallTime,
		LastUpdateTime:   meta.LastUpdateTime,
		Enabled:          meta.Enabled,
	}
	if err := r.store.UpsertApp(app); err != nil {
		return 0, fmt.Errorf("registry: upsert %s: %w", packageName, err)
	}
	r.logger.Info("Registered new app", "package", packageName, "label", meta.Label, "category", categoryID)
	return categoryID, nil
}

// Upsert writes a registry row, refreshing metadata for known packages. The
// user exclusion flag is preserved across refreshes by the store.
func (r *Registry) Upsert(app *store.App) error {
	if err := r.store.UpsertApp(app); err != nil {
		return fmt.Errorf("registry: upsert %s: %w", app.PackageName, err)
	}
	return nil
}

// IsExcluded reports whether the user has excluded a package from tracking.
// Unknown packages are not excluded. Implements usage.ExclusionLookup;
// lookup errors are swallowed so the filter stays a pure predicate, the
// engine will surface store failures on its own queries.
func (r *Registry) IsExcluded(packageName string) bool {
	app, err := r.store.GetApp(packageName)
	if err != nil || app == nil {
		return false
	}
	return app.Excluded
}

// SetExcluded flips a package's exclusion flag.
func (r *Registry) SetExcluded(packageName string, excluded bool) error {
	if err := r.store.SetAppExcluded(packageName, excluded); err != nil {
		return fmt.Errorf("registry: set excluded: %w", err)
	}
	r.logger.Info("App exclusion changed", "package", packageName, "excluded", excluded)
	return nil
}
