package docstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func doc(id string, data map[string]any) Document {
	normalized, err := normalizeData(data)
	if err != nil {
		panic(err)
	}
	return Document{ID: id, Data: normalized}
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestQueryValidate(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		ok    bool
	}{
		{name: "plain", query: From("messages"), ok: true},
		{name: "missing collection", query: Query{}, ok: false},
		{name: "bad operator", query: Query{Collection: "m", Filters: []Filter{{Field: "a", Op: ">"}}}, ok: false},
		{name: "empty order", query: From("m").OrderBy("", Asc), ok: false},
		{name: "negative limit", query: From("m").WithLimit(-1), ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidQuery) {
				t.Fatalf("expected ErrInvalidQuery, got %v", err)
			}
		})
	}
}

func TestQueryBuildersDoNotShareState(t *testing.T) {
	base := From("messages").Where("conversationId", OpEqual, "c1")
	a := base.Where("read", OpEqual, false)
	b := base.OrderBy("timestamp", Asc)

	require.Len(t, base.Filters, 1)
	require.Len(t, a.Filters, 2)
	require.Len(t, b.Filters, 1)
	require.Empty(t, a.Orders)
}

func TestNeedsIndexAndIndexKey(t *testing.T) {
	q := From("messages").
		Where("conversationId", OpEqual, "c1").
		OrderBy("timestamp", Asc)
	require.True(t, q.NeedsIndex())
	require.Equal(t, "messages:conversationId,timestamp", q.IndexKey())

	require.False(t, q.Unordered().NeedsIndex())
	require.False(t, From("messages").OrderBy("timestamp", Asc).NeedsIndex())
	require.False(t, From("messages").Where("timestamp", OpEqual, "x").OrderBy("timestamp", Asc).NeedsIndex())

	multi := From("messages").
		Where("senderId", OpEqual, "u").
		Where("conversationId", OpEqual, "c").
		OrderBy("timestamp", Desc)
	require.Equal(t, "messages:conversationId,senderId,timestamp", multi.IndexKey())
}

func TestMatches(t *testing.T) {
	d := doc("c1", map[string]any{
		"participants": []string{"u1", "u2"},
		"read":         false,
		"count":        3,
	})

	require.True(t, From("c").Where("participants", OpArrayContains, "u1").Matches(d))
	require.False(t, From("c").Where("participants", OpArrayContains, "u3").Matches(d))
	require.True(t, From("c").Where("read", OpEqual, false).Matches(d))
	require.False(t, From("c").Where("read", OpEqual, "false").Matches(d))
	require.True(t, From("c").Where("count", OpEqual, 3).Matches(d))
	require.False(t, From("c").Where("missing", OpEqual, nil).Matches(d))
	require.False(t, From("c").Where("read", OpArrayContains, false).Matches(d))
}

func TestApplyOrdersAndLimits(t *testing.T) {
	all := []Document{
		doc("b", map[string]any{"c": "x", "ts": "2024-01-01T00:00:02Z"}),
		doc("a", map[string]any{"c": "x", "ts": "2024-01-01T00:00:02Z"}),
		doc("c", map[string]any{"c": "x", "ts": "2024-01-01T00:00:01Z"}),
		doc("d", map[string]any{"c": "y", "ts": "2024-01-01T00:00:00Z"}),
	}

	asc := From("m").Where("c", OpEqual, "x").OrderBy("ts", Asc).Apply(all)
	require.Equal(t, []string{"c", "a", "b"}, ids(asc))

	desc := From("m").Where("c", OpEqual, "x").OrderBy("ts", Desc).WithLimit(2).Apply(all)
	require.Equal(t, []string{"a", "b"}, ids(desc))

	unordered := From("m").Apply(all)
	require.Equal(t, []string{"a", "b", "c", "d"}, ids(unordered))
}

func TestArrangeMatchesServerOrderAfterFallback(t *testing.T) {
	q := From("m").Where("c", OpEqual, "x").OrderBy("ts", Asc)
	all := []Document{
		doc("2", map[string]any{"c": "x", "ts": 2}),
		doc("1", map[string]any{"c": "x", "ts": 1}),
		doc("3", map[string]any{"c": "x", "ts": 3}),
	}

	server := q.Apply(append([]Document(nil), all...))
	client := q.Arrange(q.Unordered().Apply(append([]Document(nil), all...)))
	require.Equal(t, ids(server), ids(client))
}

func TestCompareValuesAcrossTypes(t *testing.T) {
	require.Less(t, compareValues(nil, false), 0)
	require.Less(t, compareValues(true, 1.0), 0)
	require.Less(t, compareValues(2.0, "a"), 0)
	require.Equal(t, 0, compareValues(3, 3.0))
	require.Greater(t, compareValues("b", "a"), 0)
}
