package capabilities

import "strings"

const (
	separator      = "."
	wildcardSingle = "*"
)

// Match reports whether a capabilities_allowed pattern accepts capability.
//
// A pattern matches the capability itself and every dotted extension of it:
// "store.inventory" matches "store.inventory" and "store.inventory.read" but
// not "store.inventorymgmt". A "*" segment matches exactly one segment.
// Empty patterns and empty capabilities never match.
func Match(pattern, capability string) bool {
	if pattern == "" || capability == "" {
		return false
	}
	if !strings.Contains(pattern, wildcardSingle) {
		if !strings.HasPrefix(capability, pattern) {
			return false
		}
		return len(capability) == len(pattern) || capability[len(pattern)] == '.'
	}

	ps := strings.Split(pattern, separator)
	cs := strings.Split(capability, separator)
	if len(cs) < len(ps) {
		return false
	}
	for i, seg := range ps {
		if seg != wildcardSingle && seg != cs[i] {
			return false
		}
	}
	return true
}
