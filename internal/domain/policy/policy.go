// Package policy declares which document fields each kind of reader may see.
package policy

// Fields is a per-resource read policy. World applies to anonymous and
// non-owner readers; Owner, when set, to the owner of the resource.
type Fields struct {
	World []string
	Owner []string
}

// ReadList resolves the fields visible to a reader.
func (f Fields) ReadList(isOwner bool) []string {
	if isOwner && f.Owner != nil {
		return f.Owner
	}
	return f.World
}

// Project keeps only the keys of doc listed in fields. An empty list keeps
// everything.
func Project(doc map[string]any, fields []string) map[string]any {
	if len(fields) == 0 || doc == nil {
		return doc
	}
	allowed := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		allowed[f] = struct{}{}
	}
	out := make(map[string]any, len(fields))
	for k, v := range doc {
		if _, ok := allowed[k]; ok {
			out[k] = v
		}
	}
	return out
}
