package usage

import "strings"

// ExclusionLookup reports whether the user has marked a package as excluded
// from tracking. Backed by the app registry.
type ExclusionLookup interface {
	IsExcluded(packageName string) bool
}

// Filter decides whether a package's usage should be discarded entirely.
type Filter struct {
	excluded ExclusionLookup
}

// Packages that never represent user screen time: shells, launchers and
// core system services. Matched by exact name.
var systemPackages = map[string]struct{}{
	"android":                             {},
	"com.android.systemui":                {},
	"com.android.settings":                {},
	"com.android.launcher":                {},
	"com.android.launcher3":               {},
	"com.android.phone":                   {},
	"com.android.keyguard":                {},
	"com.google.android.gms":              {},
	"com.google.android.gsf":              {},
	"com.google.android.packageinstaller": {},
	"com.android.packageinstaller":        {},
	"com.android.vending":                 {},
	"com.miui.home":                       {},
	"com.sec.android.app.launcher":        {},
	"com.huawei.android.launcher":         {},
}

// Prefix-matched families of system packages.
var systemPrefixes = []string{
	"com.android.internal.",
	"com.android.providers.",
	"com.android.server.",
	"com.google.android.inputmethod.",
	"com.qualcomm.",
}

// NewFilter creates a Filter. excluded may be nil, in which case only the
// static blocklist applies.
func NewFilter(excluded ExclusionLookup) *Filter {
	return &Filter{excluded: excluded}
}

// ShouldFilter returns true when usage of the package must be discarded:
// static system blocklist (exact or prefix match) or a user exclusion flag
// in the app registry. Pure predicate, no side effects.
func (f *Filter) ShouldFilter(packageName string) bool {
	if packageName == "" {
		return true
	}
	if _, ok := systemPackages[packageName]; ok {
		return true
	}
	for _, prefix := range systemPrefixes {
		if strings.HasPrefix(packageName, prefix) {
			return true
		}
	}
	if f.excluded != nil && f.excluded.IsExcluded(packageName) {
		return true
	}
	return false
}
