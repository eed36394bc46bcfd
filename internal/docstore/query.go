package docstore

import (
	"fmt"
	"sort"
	"strings"
)

// Operator is a filter comparison.
type Operator string

const (
	OpEqual         Operator = "=="
	OpArrayContains Operator = "array-contains"
)

// Direction is a sort direction.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// Filter restricts a query to documents whose field satisfies Op against Value.
type Filter struct {
	Field string
	Op    Operator
	Value any
}

// Order sorts query results by a field.
type Order struct {
	Field     string
	Direction Direction
}

// Query selects documents from one collection. Query values are immutable;
// builder methods return copies.
type Query struct {
	Collection string
	Filters    []Filter
	Orders     []Order
	Limit      int
}

// From starts a query on collection.
func From(collection string) Query {
	return Query{Collection: collection}
}

// Where adds a filter.
func (q Query) Where(field string, op Operator, value any) Query {
	out := q.clone()
	out.Filters = append(out.Filters, Filter{Field: field, Op: op, Value: normalizeValue(value)})
	return out
}

// OrderBy adds a sort key.
func (q Query) OrderBy(field string, dir Direction) Query {
	out := q.clone()
	out.Orders = append(out.Orders, Order{Field: field, Direction: dir})
	return out
}

// WithLimit caps the number of results. Zero means no limit.
func (q Query) WithLimit(n int) Query {
	out := q.clone()
	out.Limit = n
	return out
}

// Unordered drops ordering and limit, leaving only the filters. Callers
// re-apply them client-side with Arrange.
func (q Query) Unordered() Query {
	out := q.clone()
	out.Orders = nil
	out.Limit = 0
	return out
}

func (q Query) clone() Query {
	out := q
	out.Filters = append([]Filter(nil), q.Filters...)
	out.Orders = append([]Order(nil), q.Orders...)
	return out
}

// Validate checks the query is well formed.
func (q Query) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidQuery)
	}
	for _, f := range q.Filters {
		if f.Field == "" {
			return fmt.Errorf("%w: filter field is required", ErrInvalidQuery)
		}
		switch f.Op {
		case OpEqual, OpArrayContains:
		default:
			return fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, f.Op)
		}
	}
	for _, o := range q.Orders {
		if o.Field == "" {
			return fmt.Errorf("%w: order field is required", ErrInvalidQuery)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	return nil
}

// NeedsIndex reports whether the query combines filters with ordering on a
// different field, which hosted document stores serve only from a declared
// composite index.
func (q Query) NeedsIndex() bool {
	if len(q.Orders) == 0 || len(q.Filters) == 0 {
		return false
	}
	ordered := make(map[string]bool, len(q.Orders))
	for _, o := range q.Orders {
		ordered[o.Field] = true
	}
	for _, f := range q.Filters {
		if !ordered[f.Field] {
			return true
		}
	}
	return false
}

// IndexKey names the composite index the query needs, in the form
// "collection:filterField,...,orderField,...".
func (q Query) IndexKey() string {
	seen := make(map[string]bool)
	var filterFields []string
	for _, f := range q.Filters {
		if !seen[f.Field] {
			seen[f.Field] = true
			filterFields = append(filterFields, f.Field)
		}
	}
	sort.Strings(filterFields)
	fields := filterFields
	for _, o := range q.Orders {
		if !seen[o.Field] {
			seen[o.Field] = true
			fields = append(fields, o.Field)
		}
	}
	return q.Collection + ":" + strings.Join(fields, ",")
}

func (q Query) String() string {
	var b strings.Builder
	b.WriteString(q.Collection)
	for _, f := range q.Filters {
		fmt.Fprintf(&b, " where %s %s %v", f.Field, f.Op, f.Value)
	}
	for _, o := range q.Orders {
		dir := "asc"
		if o.Direction == Desc {
			dir = "desc"
		}
		fmt.Fprintf(&b, " order by %s %s", o.Field, dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " limit %d", q.Limit)
	}
	return b.String()
}

// Matches reports whether doc satisfies every filter. A missing field never
// matches, not even a nil value.
func (q Query) Matches(doc Document) bool {
	for _, f := range q.Filters {
		value, ok := doc.Data[f.Field]
		if !ok {
			return false
		}
		switch f.Op {
		case OpEqual:
			if !equalValues(value, f.Value) {
				return false
			}
		case OpArrayContains:
			if !arrayContains(value, f.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Apply filters, orders and limits docs the way the store itself would.
func (q Query) Apply(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if q.Matches(doc) {
			out = append(out, doc)
		}
	}
	return q.Arrange(out)
}

// Arrange sorts docs by the query's orders, with document id as the final
// key, and applies the limit. Unordered queries sort by id.
func (q Query) Arrange(docs []Document) []Document {
	SortDocuments(docs, q.Orders)
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs
}

// SortDocuments sorts docs in place by orders, then id.
func SortDocuments(docs []Document, orders []Order) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, o := range orders {
			c := compareValues(docs[i].Data[o.Field], docs[j].Data[o.Field])
			if c == 0 {
				continue
			}
			if o.Direction == Desc {
				return c > 0
			}
			return c < 0
		}
		return docs[i].ID < docs[j].ID
	})
}

func arrayContains(field, value any) bool {
	items, ok := field.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if equalValues(item, value) {
			return true
		}
	}
	return false
}

func equalValues(a, b any) bool {
	if typeRank(a) != typeRank(b) {
		return false
	}
	return compareValues(a, b) == 0
}

// typeRank orders values of different types: nil < bool < number < string < other.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64, float32, int, int64, int32:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 0:
		return 0
	case 1:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case 2:
		af, bf := toFloat(a), toFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case 3:
		return strings.Compare(a.(string), b.(string))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	}
	return 0
}
