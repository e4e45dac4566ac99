package queryplan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPredicateEquality(t *testing.T) {
	p := Predicate{Column: "player", Op: OpEq, Value: uint64(2)}
	require.True(t, p.Matches(uint64(2)))
	require.False(t, p.Matches(uint64(3)))
}

func TestPredicateRange(t *testing.T) {
	p := Predicate{Column: "value", Op: OpGte, Value: int32(10)}
	require.True(t, p.Matches(int32(10)))
	require.True(t, p.Matches(int32(20)))
	require.False(t, p.Matches(int32(9)))
}

func TestPredicateIn(t *testing.T) {
	p := Predicate{Column: "id", Values: []any{uint64(1), uint64(3)}}
	require.True(t, p.Matches(uint64(1)))
	require.True(t, p.Matches(uint64(3)))
	require.False(t, p.Matches(uint64(2)))
}

func TestPredicateStringOrdering(t *testing.T) {
	p := Predicate{Column: "name", Op: OpLt, Value: "bob"}
	require.True(t, p.Matches("alice"))
	require.False(t, p.Matches("carol"))
}

func TestLogicalMatchesRowConjunction(t *testing.T) {
	l := Logical{
		Table: "Score",
		Predicates: []Predicate{
			{Column: "player", Op: OpEq, Value: uint64(2)},
			{Column: "value", Op: OpGt, Value: int32(0)},
		},
	}
	row := map[string]any{"player": uint64(2), "value": int32(20)}
	lookup := func(name string) (any, bool) { v, ok := row[name]; return v, ok }
	require.True(t, l.MatchesRow(lookup))

	row["value"] = int32(-1)
	require.False(t, l.MatchesRow(lookup))
}

func TestLogicalMatchesRowMissingColumn(t *testing.T) {
	l := Logical{Predicates: []Predicate{{Column: "missing", Op: OpEq, Value: 1}}}
	require.False(t, l.MatchesRow(func(string) (any, bool) { return nil, false }))
}
