package ident

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableInternStable(t *testing.T) {
	tbl := NewTable()
	id1 := tbl.Intern("Player")
	id2 := tbl.Intern("Score")
	id3 := tbl.Intern("Player")
	require.Equal(t, id1, id3)
	require.NotEqual(t, id1, id2)

	name, err := tbl.Name(id2)
	require.NoError(t, err)
	require.Equal(t, "Score", name)
}

func TestUnknownIDRejected(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Name(TableID(999))
	require.ErrorIs(t, err, ErrUnknown)
}

func TestColumnsAreLocalToTable(t *testing.T) {
	cols1 := NewColumns()
	cols2 := NewColumns()
	a := cols1.Intern("id")
	b := cols2.Intern("id")
	require.Equal(t, a, b) // both start numbering from 0 independently
}
