package docstore

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// The functions below evaluate queries and update operators in process. They
// back the drivers that cannot push these down to the store and implement the
// subset of MongoDB semantics the services rely on.

// Matches reports whether doc satisfies filter. Supported: equality on
// (dot-path) fields, array membership, and the $eq, $ne, $in, $nin and
// $exists operators.
func Matches(doc Doc, filter bson.M) (bool, error) {
	for path, want := range filter {
		if strings.HasPrefix(path, "$") {
			return false, fmt.Errorf("unsupported top-level operator %s", path)
		}
		got, exists := GetPath(doc, path)
		if ops, ok := asMap(want); ok && isOperatorDoc(ops) {
			for op, arg := range ops {
				ok, err := matchOperator(op, got, exists, arg)
				if err != nil || !ok {
					return false, err
				}
			}
			continue
		}
		if !matchValue(got, exists, want) {
			return false, nil
		}
	}
	return true, nil
}

func matchOperator(op string, got any, exists bool, arg any) (bool, error) {
	switch op {
	case "$eq":
		return matchValue(got, exists, arg), nil
	case "$ne":
		return !matchValue(got, exists, arg), nil
	case "$in", "$nin":
		list, ok := asSlice(arg)
		if !ok {
			return false, fmt.Errorf("%s needs an array", op)
		}
		found := false
		for _, v := range list {
			if matchValue(got, exists, v) {
				found = true
				break
			}
		}
		return found == (op == "$in"), nil
	case "$exists":
		want, _ := arg.(bool)
		return exists == want, nil
	}
	return false, fmt.Errorf("unsupported operator %s", op)
}

func matchValue(got any, exists bool, want any) bool {
	if !exists {
		return want == nil
	}
	if ValuesEqual(got, want) {
		return true
	}
	if arr, ok := asSlice(got); ok {
		for _, el := range arr {
			if ValuesEqual(el, want) {
				return true
			}
		}
	}
	return false
}

func isOperatorDoc(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// ApplyUpdate returns a copy of doc with update applied. An update without
// operators replaces the document but keeps its _id.
func ApplyUpdate(doc Doc, update bson.M) (Doc, error) {
	out, _ := CloneValue(doc).(Doc)
	if out == nil {
		out = Doc{}
	}
	if !hasOperators(update) {
		replaced, _ := CloneValue(Doc(update)).(Doc)
		if id, ok := out[IDField]; ok {
			replaced[IDField] = id
		}
		return replaced, nil
	}
	for _, op := range sortedKeys(update) {
		body, ok := asMap(update[op])
		if !ok {
			return nil, fmt.Errorf("%s must be a document", op)
		}
		for _, path := range sortedKeys(body) {
			if path == IDField {
				if op == "$set" && ValuesEqual(out[IDField], body[path]) {
					continue
				}
				return nil, fmt.Errorf("cannot modify %s", IDField)
			}
			if err := applyOperator(out, op, path, body[path]); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func applyOperator(doc Doc, op, path string, arg any) error {
	switch op {
	case "$set":
		SetPath(doc, path, CloneValue(arg))
	case "$unset":
		UnsetPath(doc, path)
	case "$inc":
		cur, exists := GetPath(doc, path)
		if !exists {
			cur = int32(0)
		}
		sum, err := addNumbers(cur, arg)
		if err != nil {
			return fmt.Errorf("$inc %s: %w", path, err)
		}
		SetPath(doc, path, sum)
	case "$push":
		cur, exists := GetPath(doc, path)
		var arr bson.A
		if exists && cur != nil {
			a, ok := asSlice(cur)
			if !ok {
				return fmt.Errorf("$push %s: field is not an array", path)
			}
			arr = append(arr, a...)
		}
		SetPath(doc, path, append(arr, CloneValue(arg)))
	case "$pull":
		cur, exists := GetPath(doc, path)
		if !exists {
			return nil
		}
		a, ok := asSlice(cur)
		if !ok {
			return fmt.Errorf("$pull %s: field is not an array", path)
		}
		kept := bson.A{}
		for _, el := range a {
			if !ValuesEqual(el, arg) {
				kept = append(kept, el)
			}
		}
		SetPath(doc, path, kept)
	default:
		return fmt.Errorf("unsupported update operator %s", op)
	}
	return nil
}

func hasOperators(update bson.M) bool {
	for k := range update {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

// UpsertSeed builds the document inserted by an upsert: the equality fields
// of the filter.
func UpsertSeed(filter bson.M) Doc {
	seed := Doc{}
	for path, v := range filter {
		if m, ok := asMap(v); ok && isOperatorDoc(m) {
			continue
		}
		SetPath(seed, path, CloneValue(v))
	}
	return seed
}

// Project applies an inclusion or exclusion projection to the top-level keys
// of doc. _id is included unless explicitly excluded.
func Project(doc Doc, projection bson.M) Doc {
	if len(projection) == 0 {
		return doc
	}
	inclusive := false
	for _, v := range projection {
		if truthy(v) {
			inclusive = true
		}
	}
	out := Doc{}
	if inclusive {
		for k, v := range projection {
			if !truthy(v) {
				continue
			}
			if val, ok := doc[k]; ok {
				out[k] = val
			}
		}
		if v, ok := projection[IDField]; !ok || truthy(v) {
			if id, ok := doc[IDField]; ok {
				out[IDField] = id
			}
		}
		return out
	}
	for k, v := range doc {
		if p, ok := projection[k]; ok && !truthy(p) {
			continue
		}
		out[k] = v
	}
	return out
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	}
	f, ok := toFloat(v)
	return !ok || f != 0
}

// SortDocs orders docs in place by the keys of spec; 1 is ascending and -1 is
// descending.
func SortDocs(docs []Doc, spec bson.D) {
	if len(spec) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return Less(docs[i], docs[j], spec)
	})
}

// Less reports whether a sorts before b under spec.
func Less(a, b Doc, spec bson.D) bool {
	for _, e := range spec {
		av, _ := GetPath(a, e.Key)
		bv, _ := GetPath(b, e.Key)
		c := compareValues(av, bv)
		if c == 0 {
			continue
		}
		if dir, _ := toFloat(e.Value); dir < 0 {
			return c > 0
		}
		return c < 0
	}
	return false
}

// Window applies skip and limit to docs.
func Window(docs []Doc, skip, limit int64) []Doc {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return []Doc{}
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}
	return docs
}

func GetPath(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, p := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func SetPath(doc Doc, path string, v any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(bson.M)
		if !ok {
			next = bson.M{}
			if m, isMap := asMap(cur[p]); isMap {
				for k, val := range m {
					next[k] = val
				}
			}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

func UnsetPath(doc Doc, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(bson.M)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}

// CloneValue deep-copies documents and arrays; nested maps come back as
// bson.M and slices as bson.A.
func CloneValue(v any) any {
	if m, ok := asMap(v); ok {
		out := make(bson.M, len(m))
		for k, val := range m {
			out[k] = CloneValue(val)
		}
		return out
	}
	if a, ok := asSlice(v); ok {
		out := make(bson.A, len(a))
		for i, val := range a {
			out[i] = CloneValue(val)
		}
		return out
	}
	return v
}

// ValuesEqual compares two document values, treating all numeric types alike.
func ValuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	if ma, ok := asMap(a); ok {
		mb, ok := asMap(b)
		if !ok || len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !ValuesEqual(va, vb) {
				return false
			}
		}
		return true
	}
	if sa, ok := asSlice(a); ok {
		sb, ok := asSlice(b)
		if !ok || len(sa) != len(sb) {
			return false
		}
		for i := range sa {
			if !ValuesEqual(sa[i], sb[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		}
		return 1
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return cmpOrdered(fa, fb)
		}
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case primitive.ObjectID:
		if bv, ok := b.(primitive.ObjectID); ok {
			return strings.Compare(av.Hex(), bv.Hex())
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case primitive.DateTime:
		if bv, ok := b.(primitive.DateTime); ok {
			return cmpOrdered(int64(av), int64(bv))
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

// addNumbers keeps integer arithmetic integral and preserves int32 while the
// result fits.
func addNumbers(cur, delta any) (any, error) {
	ci, cInt := toInt(cur)
	di, dInt := toInt(delta)
	if cInt && dInt {
		sum := ci + di
		if _, is32 := cur.(int32); is32 && sum >= math.MinInt32 && sum <= math.MaxInt32 {
			return int32(sum), nil
		}
		return sum, nil
	}
	cf, ok := toFloat(cur)
	if !ok {
		return nil, fmt.Errorf("field is not numeric")
	}
	df, ok := toFloat(delta)
	if !ok {
		return nil, fmt.Errorf("increment is not numeric")
	}
	return cf + df, nil
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
