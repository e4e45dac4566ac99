package moduleh

import "github.com/pkg/errors"

// CostTable prices every host import call a module can make. Costs
// are deliberately coarse (flat per-call, not data-size-proportional)
// since the goal is bounding a runaway reducer, not precise billing.
type CostTable struct {
	ConsoleLog      int64
	Insert          int64
	DeleteByColEq   int64
	IterStart       int64
	IterNext        int64
	ScheduleReducer int64
	CancelReducer   int64
}

// DefaultCostTable returns sane, small per-call costs.
func DefaultCostTable() CostTable {
	return CostTable{
		ConsoleLog:      1,
		Insert:          10,
		DeleteByColEq:   10,
		IterStart:       5,
		IterNext:        1,
		ScheduleReducer: 10,
		CancelReducer:   5,
	}
}

// EnergyExhausted is returned (and the owning reducer call aborted)
// once a Budget's remaining energy is spent.
var EnergyExhausted = errors.New("moduleh: energy budget exhausted")

// Budget is a per-reducer-call energy allowance, decremented by
// internal/abi's host-function closures as the module makes calls.
type Budget struct {
	remaining int64
}

// NewBudget returns a Budget starting at n units.
func NewBudget(n int64) *Budget { return &Budget{remaining: n} }

// Charge deducts cost from the budget, returning EnergyExhausted (and
// leaving the budget at zero, not negative) if it would go negative.
func (b *Budget) Charge(cost int64) error {
	if b.remaining < cost {
		b.remaining = 0
		return EnergyExhausted
	}
	b.remaining -= cost
	return nil
}

// Remaining reports the unspent balance.
func (b *Budget) Remaining() int64 { return b.remaining }
