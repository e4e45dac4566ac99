package moduleh

import (
	"sync"
	"time"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/ident"
	"github.com/clockworklabs/stdb-core/internal/storage/table"
	"github.com/clockworklabs/stdb-core/internal/storage/txn"
)

// DispatchFunc enqueues a reducer call the way Host.Dispatch does;
// Scheduler takes one instead of a *Host directly so it can be tested
// without a full Host.
type DispatchFunc func(reducerName string, args []byte, sender algebraic.Identity, conn algebraic.ConnectionID) error

// Scheduler arms and cancels timers for rows of scheduling tables,
// keyed by each row's storage-internal RowID: inserting a row arms a
// timer that, on firing, dispatches the table's bound reducer with
// empty args (the row is not passed); deleting the row cancels it. A
// Time schedule fires once; an Interval schedule re-arms after each
// firing.
type Scheduler struct {
	dispatch DispatchFunc

	mu     sync.Mutex
	timers map[ident.TableID]map[table.RowID]*time.Timer
}

// NewScheduler returns a Scheduler that dispatches fired reducers via dispatch.
func NewScheduler(dispatch DispatchFunc) *Scheduler {
	return &Scheduler{dispatch: dispatch, timers: map[ident.TableID]map[table.RowID]*time.Timer{}}
}

// Reprogram inspects a commit's diffs and arms/cancels timers for any
// table descriptor carries a ScheduleDef for.
func (s *Scheduler) Reprogram(diffs []txn.Diff, desc Descriptor, db *txn.Database) {
	for _, d := range diffs {
		schema, ok := db.Schema(d.Table)
		if !ok {
			continue
		}
		tableDef, ok := desc.Table(schema.Name)
		if !ok || tableDef.Schedule == nil {
			continue
		}
		for _, rc := range d.Deleted {
			s.cancel(d.Table, rc.ID)
		}
		for _, rc := range d.Inserted {
			s.arm(d.Table, rc.ID, rc.Row, schema, *tableDef.Schedule)
		}
	}
}

func (s *Scheduler) arm(tableID ident.TableID, rowID table.RowID, row algebraic.ProductValue, schema *table.Schema, sched ScheduleDef) {
	pos := -1
	for i, c := range schema.Columns {
		if c.Name == sched.ColumnName {
			pos = i
			break
		}
	}
	if pos < 0 || pos >= len(row) {
		return
	}
	sv, ok := row[pos].(algebraic.SumValue)
	if !ok {
		return
	}
	at := scheduleAtFromSum(sv)
	next := at.NextFiring(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timers[tableID] == nil {
		s.timers[tableID] = map[table.RowID]*time.Timer{}
	}
	if existing, ok := s.timers[tableID][rowID]; ok {
		existing.Stop()
	}
	s.armLocked(tableID, rowID, sched, at, next)
}

// armLocked sets (or resets) the timer for (tableID, rowID) to fire at
// next. Callers must hold s.mu. A Time schedule fires once and removes
// its own entry; an Interval schedule reschedules itself for
// next+interval from inside the fired callback every time it fires,
// so a scheduled row keeps ticking on its own cadence whether or not
// the dispatched reducer touches the row. cancel deleting the map
// entry between firings is what stops the chain.
func (s *Scheduler) armLocked(tableID ident.TableID, rowID table.RowID, sched ScheduleDef, at algebraic.ScheduleAt, next time.Time) {
	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}
	s.timers[tableID][rowID] = time.AfterFunc(delay, func() {
		_ = s.dispatch(sched.ReducerName, nil, algebraic.Identity{}, algebraic.ConnectionID{})
		if !at.IsInterval {
			s.mu.Lock()
			delete(s.timers[tableID], rowID)
			s.mu.Unlock()
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, stillArmed := s.timers[tableID][rowID]; !stillArmed {
			return
		}
		s.armLocked(tableID, rowID, sched, at, next.Add(at.Interval.Duration()))
	})
}

func (s *Scheduler) cancel(tableID ident.TableID, rowID table.RowID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[tableID][rowID]; ok {
		t.Stop()
		delete(s.timers[tableID], rowID)
	}
}

// scheduleAtFromSum reconstructs a ScheduleAt from the generic
// SumValue the algebraic codec produces: the codec only knows about
// Product/Sum/primitive kinds, so a distinguished Timestamp/
// TimeDuration payload decodes as a one-element ProductValue wrapping
// a plain int64, not the named Go types.
func scheduleAtFromSum(sv algebraic.SumValue) algebraic.ScheduleAt {
	var micros int64
	switch p := sv.Payload.(type) {
	case algebraic.ProductValue:
		if len(p) == 1 {
			micros, _ = p[0].(int64)
		}
	case int64:
		micros = p
	}
	switch sv.Tag {
	case 0:
		return algebraic.NewScheduleAtInterval(algebraic.TimeDuration(micros))
	case 1:
		return algebraic.NewScheduleAtTime(algebraic.Timestamp(micros))
	default:
		return algebraic.ScheduleAt{}
	}
}

// Stop cancels every outstanding timer, used on database shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, byRow := range s.timers {
		for _, t := range byRow {
			t.Stop()
		}
	}
}
