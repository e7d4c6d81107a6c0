package postgres

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"example.com/fitsync/internal/docstore"
)

var reservedColumns = map[string]string{
	docstore.FieldID:        "id",
	docstore.FieldOwnerID:   "owner_id",
	docstore.FieldCreatedAt: "created_at",
	docstore.FieldUpdatedAt: "updated_at",
}

var comparisonOps = map[docstore.Op]string{
	docstore.OpEqual:        "=",
	docstore.OpNotEqual:     "<>",
	docstore.OpLess:         "<",
	docstore.OpLessEqual:    "<=",
	docstore.OpGreater:      ">",
	docstore.OpGreaterEqual: ">=",
}

type queryBuilder struct {
	args []any
}

func (b *queryBuilder) bind(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// buildQuery translates q into SQL over the documents table. Data fields are addressed by JSON
// path; ordering follows jsonb ordering with missing fields first, then id.
func buildQuery(collection string, q docstore.Query) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}

	b := &queryBuilder{}
	where := []string{"collection = " + b.bind(collection)}
	for _, f := range q.Filters {
		clause, err := b.filter(f)
		if err != nil {
			return "", nil, err
		}
		where = append(where, clause)
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + documentColumns + " FROM documents WHERE ")
	sb.WriteString(strings.Join(where, " AND "))

	orders := make([]string, 0, len(q.OrderBy)+1)
	for _, o := range q.OrderBy {
		expr := b.orderExpr(o.Field)
		if o.Desc {
			orders = append(orders, expr+" DESC NULLS LAST")
		} else {
			orders = append(orders, expr+" ASC NULLS FIRST")
		}
	}
	orders = append(orders, `id COLLATE "C" ASC`)
	sb.WriteString(" ORDER BY " + strings.Join(orders, ", "))

	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + b.bind(q.Limit))
	}
	return sb.String(), b.args, nil
}

func (b *queryBuilder) orderExpr(field string) string {
	if col, ok := reservedColumns[field]; ok {
		if col == "id" || col == "owner_id" {
			return col + ` COLLATE "C"`
		}
		return col
	}
	return "data #> " + b.bind(path(field)) + "::text[]"
}

func path(field string) []string {
	return strings.Split(field, ".")
}

func (b *queryBuilder) filter(f docstore.Filter) (string, error) {
	if col, ok := reservedColumns[f.Field]; ok {
		return b.reservedFilter(col, f)
	}

	value := docstore.NormalizeValue(f.Value)
	target := "data #> " + b.bind(path(f.Field)) + "::text[]"

	switch f.Op {
	case docstore.OpEqual:
		return fmt.Sprintf("%s = %s::jsonb", target, b.bind(jsonText(value))), nil
	case docstore.OpNotEqual:
		return fmt.Sprintf("(%[1]s IS NOT NULL AND %[1]s <> %[2]s::jsonb)", target, b.bind(jsonText(value))), nil
	case docstore.OpIn:
		items, _ := value.([]any)
		encoded := make([]string, 0, len(items))
		for _, item := range items {
			encoded = append(encoded, jsonText(item))
		}
		return fmt.Sprintf("%s = ANY(%s::jsonb[])", target, b.bind(encoded)), nil
	case docstore.OpArrayContains:
		return fmt.Sprintf("(jsonb_typeof(%[1]s) = 'array' AND %[1]s @> %[2]s::jsonb)", target, b.bind(jsonText([]any{value}))), nil
	}

	op := comparisonOps[f.Op]
	switch v := value.(type) {
	case float64:
		return fmt.Sprintf("(CASE WHEN jsonb_typeof(%[1]s) = 'number' THEN (%[1]s #>> '{}')::double precision END) %[2]s %[3]s",
			target, op, b.bind(v)), nil
	case string:
		return fmt.Sprintf(`(CASE WHEN jsonb_typeof(%[1]s) = 'string' THEN %[1]s #>> '{}' END) COLLATE "C" %[2]s %[3]s`,
			target, op, b.bind(v)), nil
	case bool:
		return fmt.Sprintf("(jsonb_typeof(%[1]s) = 'boolean' AND %[1]s %[2]s %[3]s::jsonb)",
			target, op, b.bind(jsonText(v))), nil
	}
	return "", fmt.Errorf("%w: cannot order-compare %q against %T", docstore.ErrInvalidQuery, f.Field, f.Value)
}

func (b *queryBuilder) reservedFilter(col string, f docstore.Filter) (string, error) {
	timeColumn := col == "created_at" || col == "updated_at"
	convert := func(v any) (any, error) {
		if timeColumn {
			switch t := v.(type) {
			case time.Time:
				return t, nil
			case string:
				parsed, err := time.Parse(time.RFC3339Nano, t)
				if err == nil {
					return parsed, nil
				}
			}
			return nil, fmt.Errorf("%w: %q requires a timestamp", docstore.ErrInvalidQuery, f.Field)
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %q requires a string", docstore.ErrInvalidQuery, f.Field)
		}
		return s, nil
	}

	if f.Op == docstore.OpIn {
		rv := reflect.ValueOf(f.Value)
		if timeColumn {
			items := make([]time.Time, 0, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				v, err := convert(rv.Index(i).Interface())
				if err != nil {
					return "", err
				}
				items = append(items, v.(time.Time))
			}
			return fmt.Sprintf("%s = ANY(%s::timestamptz[])", col, b.bind(items)), nil
		}
		items := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			v, err := convert(rv.Index(i).Interface())
			if err != nil {
				return "", err
			}
			items = append(items, v.(string))
		}
		return fmt.Sprintf("%s = ANY(%s::text[])", col, b.bind(items)), nil
	}

	v, err := convert(f.Value)
	if err != nil {
		return "", err
	}
	expr := col
	if !timeColumn {
		expr = col + ` COLLATE "C"`
	}
	return fmt.Sprintf("%s %s %s", expr, comparisonOps[f.Op], b.bind(v)), nil
}

func jsonText(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(raw)
}
