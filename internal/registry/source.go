package registry

import (
	"strings"
	"time"
)

// SyntheticSource is a PackageSource that fabricates metadata from the
// package name alone. It stands in when no platform package manager is
// reachable, so every observed package can still be registered.
type SyntheticSource struct {
	now func() time.Time
}

// NewSyntheticSource creates a SyntheticSource.
func NewSyntheticSource() *SyntheticSource {
	return &SyntheticSource{now: time.Now}
}

// Lookup derives a human label from the last package name segment.
func (s *SyntheticSource) Lookup(packageName string) (*PackageMeta, error) {
	if packageName == "" {
		return nil, nil
	}
	nowMs := s.now().UnixMilli()
	return &PackageMeta{
		Label:            labelFromPackage(packageName),
		FirstInstallTime: nowMs,
		LastUpdateTime:   nowMs,
		Enabled:          true,
	}, nil
}

// labelFromPackage turns "com.example.photo_editor" into "Photo Editor".
func labelFromPackage(packageName string) string {
	segment := packageName
	if i := strings.LastIndex(packageName, "."); i >= 0 && i+1 < len(packageName) {
		segment = packageName[i+1:]
	}
	words := strings.FieldsFunc(segment, func(r rune) bool {
		return r == '_' || r == '-'
	})
	if len(words) == 0 {
		return segment
	}
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
