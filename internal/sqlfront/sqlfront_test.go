package sqlfront

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockworklabs/stdb-core/internal/queryplan"
)

func TestCompileSelectStar(t *testing.T) {
	f := New()
	plan, err := f.Compile("SELECT * FROM Player")
	require.NoError(t, err)
	require.Equal(t, "Player", plan.Table)
	require.Empty(t, plan.Predicates)
	require.Nil(t, plan.Join)
}

func TestCompileSelectWithEqualityPredicate(t *testing.T) {
	f := New()
	plan, err := f.Compile("SELECT * FROM Score WHERE player = 2")
	require.NoError(t, err)
	require.Equal(t, "Score", plan.Table)
	require.Len(t, plan.Predicates, 1)
	require.Equal(t, "player", plan.Predicates[0].Column)
	require.Equal(t, queryplan.OpEq, plan.Predicates[0].Op)
}

func TestCompileSelectWithConjunction(t *testing.T) {
	f := New()
	plan, err := f.Compile("SELECT * FROM Score WHERE player = 2 AND value > 0")
	require.NoError(t, err)
	require.Len(t, plan.Predicates, 2)
}

func TestCompileSelectWithIn(t *testing.T) {
	f := New()
	plan, err := f.Compile("SELECT * FROM Player WHERE id IN (1, 2, 3)")
	require.NoError(t, err)
	require.Len(t, plan.Predicates, 1)
	require.Len(t, plan.Predicates[0].Values, 3)
}

func TestCompileJoin(t *testing.T) {
	f := New()
	plan, err := f.Compile("SELECT t.* FROM t JOIN u ON t.k = u.k")
	require.NoError(t, err)
	require.Equal(t, "t", plan.Table)
	require.NotNil(t, plan.Join)
	require.Equal(t, "u", plan.Join.OtherTable)
	require.Equal(t, "k", plan.Join.LeftColumn)
	require.Equal(t, "k", plan.Join.RightColumn)
}

func TestCompileRejectsNonSelect(t *testing.T) {
	f := New()
	_, err := f.Compile("DELETE FROM Player")
	require.Error(t, err)
}

func TestCompileRejectsArbitraryProjection(t *testing.T) {
	f := New()
	_, err := f.Compile("SELECT name FROM Player")
	require.Error(t, err)
}
