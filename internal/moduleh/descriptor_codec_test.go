package moduleh

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/storage/table"
)

func TestEncodeDecodeDescriptorRoundTrip(t *testing.T) {
	desc := Descriptor{
		Tables: []TableDef{{
			Name: "player",
			Columns: []ColumnDef{
				{Name: "id", Type: algebraic.Primitive(algebraic.KindU64), AutoInc: true, PrimaryKey: true},
				{Name: "name", Type: algebraic.Primitive(algebraic.KindString)},
			},
			Indexes: []IndexDef{
				{Name: "by_name", Columns: []string{"name"}, Unique: false, Algorithm: table.AlgoBTree},
			},
			Schedule: &ScheduleDef{ReducerName: "tick", ColumnName: "fire_at"},
		}},
		Reducers: []ReducerDef{
			{Name: "init", Args: algebraic.Product(), Lifecycle: LifecycleInit},
			{Name: "add_player", Args: algebraic.Product(algebraic.Element{Name: "name", Type: algebraic.Primitive(algebraic.KindString)})},
		},
	}

	buf := EncodeDescriptor(desc)
	got, err := DecodeDescriptor(buf)
	require.NoError(t, err)
	require.Equal(t, desc, got)
}
