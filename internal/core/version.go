package core

import (
	"strings"
	"sync"

	pep440 "github.com/aquasecurity/go-pep440-version"
	debversion "github.com/knqyf263/go-deb-version"
)

// versionCache memoizes parsed provider version numbers. Provider version
// numbers are free-form: PEP 440 parsing is tried first, then Debian
// ordering, then a plain string comparison.
type versionCache struct {
	mu   sync.Mutex
	deb  map[string]*debversion.Version
	pep  map[string]*pep440.Version
	spec map[string]*pep440.Specifiers
}

func newVersionCache() *versionCache {
	return &versionCache{
		deb:  map[string]*debversion.Version{},
		pep:  map[string]*pep440.Version{},
		spec: map[string]*pep440.Specifiers{},
	}
}

// pepVersion returns a parsed PEP 440 version, caching failures as nil.
func (c *versionCache) pepVersion(value string) (pep440.Version, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if parsed, ok := c.pep[value]; ok {
		if parsed == nil {
			return pep440.Version{}, false
		}
		return *parsed, true
	}
	parsed, err := pep440.Parse(normalizeVersionNumber(value))
	if err != nil {
		c.pep[value] = nil
		return pep440.Version{}, false
	}
	c.pep[value] = &parsed
	return parsed, true
}

// debVersion returns a parsed Debian version, caching failures as nil.
func (c *versionCache) debVersion(value string) (debversion.Version, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if parsed, ok := c.deb[value]; ok {
		if parsed == nil {
			return debversion.Version{}, false
		}
		return *parsed, true
	}
	parsed, err := debversion.NewVersion(normalizeVersionNumber(value))
	if err != nil {
		c.deb[value] = nil
		return debversion.Version{}, false
	}
	c.deb[value] = &parsed
	return parsed, true
}

func (c *versionCache) pepSpec(value string) (pep440.Specifiers, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if parsed, ok := c.spec[value]; ok {
		if parsed == nil {
			return pep440.Specifiers{}, false
		}
		return *parsed, true
	}
	parsed, err := pep440.NewSpecifiers(value)
	if err != nil {
		c.spec[value] = nil
		return pep440.Specifiers{}, false
	}
	c.spec[value] = &parsed
	return parsed, true
}

// compare returns -1, 0 or 1 comparing two provider version numbers.
func (c *versionCache) compare(a string, b string) int {
	if a == b {
		return 0
	}
	if v1, ok := c.pepVersion(a); ok {
		if v2, ok := c.pepVersion(b); ok {
			return v1.Compare(v2)
		}
	}
	if v1, ok := c.debVersion(a); ok {
		if v2, ok := c.debVersion(b); ok {
			return v1.Compare(v2)
		}
	}
	return strings.Compare(a, b)
}

// pinMatches reports whether a version satisfies an entry pin. A pin is an
// exact version id or version number, or a PEP 440 specifier such as
// ">=5.0,<6" evaluated against the version number.
func (c *versionCache) pinMatches(pin string, versionID string, versionNumber string) bool {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return true
	}
	if pin == versionID || pin == versionNumber {
		return true
	}
	if !isSpecifier(pin) {
		return false
	}
	spec, ok := c.pepSpec(pin)
	if !ok {
		return false
	}
	parsed, ok := c.pepVersion(versionNumber)
	if !ok {
		return false
	}
	return spec.Check(parsed)
}

func isSpecifier(value string) bool {
	for _, op := range []string{">=", "<=", "==", "!=", "~=", ">", "<"} {
		if strings.HasPrefix(value, op) {
			return true
		}
	}
	return false
}

// normalizeVersionNumber strips the common "v" prefix and a trailing
// "+mc1.20.1" style build tag.
func normalizeVersionNumber(value string) string {
	out := strings.TrimSpace(value)
	out = strings.TrimPrefix(strings.TrimPrefix(out, "v"), "V")
	if idx := strings.Index(out, "+"); idx > 0 {
		out = out[:idx]
	}
	return out
}
