// Package env composes the environment handed to the server process.
package env

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Merge overlays overrides on base. Both are "K=V" lists; later entries win.
// ${VAR} and $VAR in override values expand against base plus the overrides
// that precede them. Entries with an empty key are dropped. The result is
// sorted by key.
func Merge(base, overrides []string) []string {
	m := make(map[string]string, len(base)+len(overrides))
	for _, kv := range base {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
	}
	for _, kv := range overrides {
		k, v, ok := split(kv)
		if !ok {
			continue
		}
		m[k] = os.Expand(v, func(name string) string { return m[name] })
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}

// Validate rejects entries that are not of the form K=V with a non-empty key.
func Validate(kvs []string) error {
	for _, kv := range kvs {
		if _, _, ok := split(kv); !ok {
			return fmt.Errorf("invalid env entry %q: want KEY=VALUE", kv)
		}
	}
	return nil
}

func split(kv string) (string, string, bool) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return "", "", false
	}
	return k, v, true
}
