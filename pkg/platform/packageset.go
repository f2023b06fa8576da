// pkg/platform/packageset.go

package platform

import "strings"

// PackageSet is an ordered set of OS package names. Adding a name twice keeps
// its first position.
type PackageSet struct {
	names []string
	seen  map[string]struct{}
}

// NewPackageSet returns a set holding names.
func NewPackageSet(names ...string) *PackageSet {
	s := &PackageSet{seen: make(map[string]struct{})}
	return s.Add(names...)
}

// Add appends names not already present; blank names are ignored.
func (s *PackageSet) Add(names ...string) *PackageSet {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := s.seen[n]; ok {
			continue
		}
		s.seen[n] = struct{}{}
		s.names = append(s.names, n)
	}
	return s
}

// Names returns the packages in insertion order.
func (s *PackageSet) Names() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.names...)
}

// Len is the number of packages.
func (s *PackageSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.names)
}

// Contains reports whether name is in the set.
func (s *PackageSet) Contains(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.seen[name]
	return ok
}

func (s *PackageSet) String() string {
	return strings.Join(s.Names(), " ")
}
