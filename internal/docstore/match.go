package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Normalize converts arbitrary data into its JSON-decoded form so that numbers are float64 and
// nested values are maps and slices. Backends store and compare normalized data only.
func Normalize(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("normalize document data: %w", err)
	}
	out := make(map[string]any, len(data))
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize document data: %w", err)
	}
	return out, nil
}

// NormalizeValue applies Normalize to a single filter operand. time.Time values are kept.
func NormalizeValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// FieldValue resolves a reserved field or a dotted data path on doc.
func FieldValue(doc Document, field string) (any, bool) {
	switch field {
	case FieldID:
		return doc.ID, true
	case FieldOwnerID:
		return doc.OwnerID, true
	case FieldCreatedAt:
		return doc.CreatedAt, true
	case FieldUpdatedAt:
		return doc.UpdatedAt, true
	}
	var cur any = doc.Data
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Matches reports whether doc satisfies every filter of q.
func Matches(doc Document, q Query) bool {
	for _, f := range q.Filters {
		if !matchFilter(doc, f) {
			return false
		}
	}
	return true
}

func matchFilter(doc Document, f Filter) bool {
	actual, ok := FieldValue(doc, f.Field)
	if !ok {
		return false
	}
	want := NormalizeValue(f.Value)
	switch f.Op {
	case OpEqual:
		return equal(actual, want)
	case OpNotEqual:
		return !equal(actual, want)
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		c, ok := compareSameType(actual, want)
		if !ok {
			return false
		}
		switch f.Op {
		case OpLess:
			return c < 0
		case OpLessEqual:
			return c <= 0
		case OpGreater:
			return c > 0
		default:
			return c >= 0
		}
	case OpIn:
		items, ok := want.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if equal(actual, item) {
				return true
			}
		}
		return false
	case OpArrayContains:
		items, ok := actual.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if equal(item, want) {
				return true
			}
		}
		return false
	}
	return false
}

func equal(a, b any) bool {
	if ta, ok := toTime(a); ok {
		tb, ok := toTime(b)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}

// compareSameType orders two values of the same JSON type.
func compareSameType(a, b any) (int, bool) {
	if ta, ok := a.(time.Time); ok {
		tb, ok := toTime(b)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// typeRank follows the jsonb sort order so both backends order mixed types alike.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case string:
		return 1
	case float64:
		return 2
	case bool:
		return 3
	case []any:
		return 4
	case map[string]any:
		return 5
	case time.Time:
		return 6
	}
	return 7
}

func compareAny(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	if c, ok := compareSameType(a, b); ok {
		return c
	}
	return 0
}

// Apply filters, sorts and limits docs in place of a server-side query. Documents are ordered by
// the query's order fields and then by id.
func Apply(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if Matches(d, q) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		for _, o := range q.OrderBy {
			a, _ := FieldValue(out[i], o.Field)
			b, _ := FieldValue(out[j], o.Field)
			c := compareAny(a, b)
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// MergeData applies a top-level merge of patch onto base, returning a new map.
func MergeData(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	d.Data = cloneMap(d.Data)
	return d
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}
