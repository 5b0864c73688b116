package convert

import (
	"sort"
	"strings"
)

// Flatten turns nested objects into dotted keys. Arrays are kept as leaf
// values. Keys are visited in sorted order so a collision between a literal
// dotted key and a nested path always resolves the same way: the later key
// wins.
func Flatten(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	flattenInto(out, "", src)
	return out
}

func flattenInto(out map[string]any, prefix string, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := m[k].(map[string]any); ok && len(nested) > 0 {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = m[k]
	}
}

// Unflatten rebuilds nested objects from dotted keys. A key whose parent path
// is already a scalar is dropped.
func Unflatten(flat map[string]any) map[string]any {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := map[string]any{}
	for _, k := range keys {
		parts := strings.Split(k, ".")
		cur := out
		ok := true
		for _, p := range parts[:len(parts)-1] {
			next, exists := cur[p]
			if !exists {
				m := map[string]any{}
				cur[p] = m
				cur = m
				continue
			}
			m, isMap := next.(map[string]any)
			if !isMap {
				ok = false
				break
			}
			cur = m
		}
		if ok {
			cur[parts[len(parts)-1]] = flat[k]
		}
	}
	return out
}

// Lookup walks a dotted path through nested objects.
func Lookup(src map[string]any, path string) (any, bool) {
	var cur any = src
	for _, p := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// JoinValue reads a join key from a nested source. "keyword" segments name
// a sub-field of the mapping, not a level of the document, and are skipped.
func JoinValue(src map[string]any, path string) (any, bool) {
	var cur any = src
	for _, p := range strings.Split(path, ".") {
		if p == "keyword" {
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}
