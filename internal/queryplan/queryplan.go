// Package queryplan defines Logical, the compiled boundary artifact
// between a SQL front-end (internal/sqlfront) and the subscription
// engine (internal/subscribe). internal/subscribe never parses text;
// it only ever consumes a Logical.
package queryplan

// CompareOp is the comparison used by a range Predicate.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpLt
	OpLte
	OpGt
	OpGte
)

// Predicate is one conjunct of a subscription's WHERE clause: either an
// equality/range comparison against a literal, or membership in a
// literal set (col IN (...), modeled as a slice of Values rather than
// its own operator since it matches the same way an OR of equalities
// would).
type Predicate struct {
	Column string
	Op     CompareOp
	Value  any
	Values []any // non-nil only when this predicate is "col IN (...)"
}

// Matches reports whether v satisfies the predicate.
func (p Predicate) Matches(v any) bool {
	if p.Values != nil {
		for _, want := range p.Values {
			if compareEq(v, want) {
				return true
			}
		}
		return false
	}
	c, ok := compare(v, p.Value)
	if !ok {
		return false
	}
	switch p.Op {
	case OpEq:
		return c == 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	default:
		return false
	}
}

// Join describes the single supported join shape: a simple two-table
// equi-join projected onto one side, "SELECT t.* FROM t JOIN u ON
// t.k = u.k".
type Join struct {
	OtherTable string
	LeftColumn string
	RightColumn string
}

// Logical is a compiled subscription query: one table, an optional
// conjunction of predicates, an optional join, and a projection. It is
// the only shape internal/subscribe ever evaluates or indexes.
type Logical struct {
	Table      string
	Predicates []Predicate
	Join       *Join
	Projection []string // column names; nil means "all columns" (SELECT *)
}

// MatchesRow reports whether every predicate accepts row, given a
// lookup from column name to that column's value.
func (l Logical) MatchesRow(col func(name string) (any, bool)) bool {
	for _, p := range l.Predicates {
		v, ok := col(p.Column)
		if !ok || !p.Matches(v) {
			return false
		}
	}
	return true
}

func compareEq(a, b any) bool {
	c, ok := compare(a, b)
	return ok && c == 0
}

// compare orders two column values of the same underlying kind.
// Strings compare lexically; every integer/float kind is widened to
// float64, which is exact for every magnitude this engine's restricted
// predicate grammar actually compares (ids and small counters, not
// u64/u256 values near the float64 precision boundary).
func compare(a, b any) (int, bool) {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			switch {
			case as < bs:
				return -1, true
			case as > bs:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	default:
		return 0, true
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
