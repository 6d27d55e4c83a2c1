package docstore

import (
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Expand turns dot-path keys into nested documents:
// {"position.x": 1, "position.y": 2} becomes {"position": {"x": 1, "y": 2}}.
// Paths sharing a prefix are merged; a later scalar replaces an earlier
// document at the same path.
func Expand(flat map[string]any) bson.M {
	out := bson.M{}
	for _, key := range sortedKeys(flat) {
		parts := strings.Split(key, ".")
		cur := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(bson.M)
			if !ok {
				next = bson.M{}
				if m, isMap := asMap(cur[p]); isMap {
					for k, v := range m {
						next[k] = v
					}
				}
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = flat[key]
	}
	return out
}

// Flatten is the inverse of Expand. Array elements are addressed by index and
// empty documents are kept as leaves.
func Flatten(doc map[string]any) bson.M {
	out := bson.M{}
	flattenInto(out, "", doc)
	return out
}

func flattenInto(out bson.M, path string, v any) {
	if m, ok := asMap(v); ok {
		if len(m) == 0 && path != "" {
			out[path] = v
			return
		}
		for k, child := range m {
			flattenInto(out, joinPath(path, k), child)
		}
		return
	}
	if arr, ok := asSlice(v); ok {
		if len(arr) == 0 {
			out[path] = v
			return
		}
		for i, child := range arr {
			flattenInto(out, joinPath(path, strconv.Itoa(i)), child)
		}
		return
	}
	out[path] = v
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// asMap returns v as a document if it is one.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case bson.M:
		return m, true
	case map[string]any:
		return m, true
	case bson.D:
		out := make(map[string]any, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out, true
	}
	return nil, false
}

func asSlice(v any) ([]any, bool) {
	switch a := v.(type) {
	case bson.A:
		return a, true
	case []any:
		return a, true
	case []string:
		out := make([]any, len(a))
		for i := range a {
			out[i] = a[i]
		}
		return out, true
	}
	return nil, false
}
