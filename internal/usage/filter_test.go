package usage

import "testing"

type staticExclusions map[string]bool

func (m staticExclusions) IsExcluded(pkg string) bool { return m[pkg] }

func TestFilter_SystemPackages(t *testing.T) {
	f := NewFilter(nil)

	filtered := []string{
		"",
		"android",
		"com.android.systemui",
		"com.android.launcher3",
		"com.google.android.gms",
		"com.sec.android.app.launcher",
		"com.android.providers.contacts",
		"com.android.internal.something",
	}
	for _, pkg := range filtered {
		if !f.ShouldFilter(pkg) {
			t.Errorf("Expected %q to be filtered", pkg)
		}
	}

	kept := []string{
		"com.instagram.android",
		"com.spotify.music",
		"org.mozilla.firefox",
		// prefix rules must not catch unrelated packages
		"com.androidgame.fun",
	}
	for _, pkg := range kept {
		if f.ShouldFilter(pkg) {
			t.Errorf("Expected %q to pass the filter", pkg)
		}
	}
}

func TestFilter_UserExclusions(t *testing.T) {
	f := NewFilter(staticExclusions{"com.example.banned": true})

	if !f.ShouldFilter("com.example.banned") {
		t.Error("Expected user-excluded package to be filtered")
	}
	if f.ShouldFilter("com.example.fine") {
		t.Error("Expected non-excluded package to pass")
	}
}
