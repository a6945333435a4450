package gcd

import (
	"sort"
	"strings"
)

// Children computes the one-level-deep child segments of namespace
// among a set of keys.
//
// With an empty namespace, each key contributes its first dot-separated segment.
// Otherwise each key beginning with namespace+"." contributes
// the first segment of the remainder.
// The result is deduplicated and sorted.
//
// Callers are expected to have validated a non-empty namespace with ValidateKey.
func Children(keys []string, namespace string) []string {
	prefix := ""
	if namespace != "" {
		prefix = namespace + "."
	}

	seen := make(map[string]struct{})
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		if i := strings.IndexByte(rest, '.'); i >= 0 {
			rest = rest[:i]
		}
		if rest == "" {
			continue
		}
		seen[rest] = struct{}{}
	}

	result := make([]string, 0, len(seen))
	for child := range seen {
		result = append(result, child)
	}
	sort.Strings(result)
	return result
}
