package moduleh

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/ident"
	"github.com/clockworklabs/stdb-core/internal/storage/table"
	"github.com/clockworklabs/stdb-core/internal/storage/txn"
	"github.com/clockworklabs/stdb-core/internal/wal"
)

// job is one queued reducer invocation. The dispatch queue is FIFO and
// every job is processed to completion by the single executor
// goroutine before the next one starts, which is what makes
// "single-writer-per-database" an enforceable invariant.
type job struct {
	reducer string
	args    []byte
	sender  algebraic.Identity
	conn    algebraic.ConnectionID
	result  chan CallOutcome
}

// CallOutcome carries everything internal/session needs to build a
// TransactionUpdate frame for the caller of one reducer invocation:
// the diffs committed (for the caller's own subscribed tables), the
// energy spent, the wall-clock time the call ran at, and the reducer-
// level error, if any (a failed call still reports Timestamp/EnergyUsed).
type CallOutcome struct {
	Diffs      []txn.Diff
	EnergyUsed uint64
	Timestamp  algebraic.Timestamp
	Err        error
}

// Host owns one database's executor goroutine: it drains the FIFO
// dispatch queue, opens a Txn per reducer call, invokes the module
// through Runtime, commits or aborts, reprograms scheduled timers, and
// hands the commit's diffs to OnCommit (internal/subscribe wires
// itself in there).
type Host struct {
	DB      *txn.Database
	Runtime ModuleRuntime
	Cost    CostTable

	// EnergyPerCall is the budget allotted to each reducer invocation.
	EnergyPerCall int64

	// OnCommit, if set, receives every successful commit's diffs.
	OnCommit func([]txn.Diff)

	// WAL, if set, receives one durable record per committed
	// transaction, appended synchronously inside invoke before
	// OnCommit fires. A nil WAL runs the database purely in memory
	// (the behavior every other test in this package exercises).
	WAL *wal.Writer

	descriptor  Descriptor
	tableIDs    map[string]ident.TableID
	nextTableID ident.TableID
	scheduler   *Scheduler
	queue       chan *job
	done        chan struct{}
	txnSeq      atomic.Uint64
}

// Recover registers desc's tables without invoking the init lifecycle
// reducer (which must run exactly once, at a module's first install,
// never again on a later restart) and replays dir's WAL segments
// directly against them, restoring every committed row and auto-
// increment high-water mark from before whatever crash or shutdown
// ended the previous process. Call Install instead on a brand-new
// database with no prior WAL history.
func (h *Host) Recover(ctx context.Context, dir string) error {
	desc, err := h.Runtime.Describe()
	if err != nil {
		return err
	}
	for _, td := range desc.Tables {
		h.DB.RegisterTable(h.buildSchema(td))
	}
	h.descriptor = desc

	rec := &wal.Recovery{DB: h.DB}
	return rec.Replay(dir)
}

// NewHost constructs a Host; call Install or Replace before Start.
func NewHost(db *txn.Database, runtime ModuleRuntime, energyPerCall int64) *Host {
	h := &Host{
		DB:            db,
		Runtime:       runtime,
		Cost:          DefaultCostTable(),
		EnergyPerCall: energyPerCall,
		tableIDs:      map[string]ident.TableID{},
		nextTableID:   1,
		queue:         make(chan *job, 256),
		done:          make(chan struct{}),
	}
	h.scheduler = NewScheduler(h.dispatchScheduled)
	return h
}

// Install registers a fresh module's schema into the database (no
// previously installed descriptor) and fires the init lifecycle
// reducer, if any.
func (h *Host) Install(ctx context.Context) error {
	desc, err := h.Runtime.Describe()
	if err != nil {
		return err
	}
	for _, td := range desc.Tables {
		h.DB.RegisterTable(h.buildSchema(td))
	}
	h.descriptor = desc

	for _, r := range desc.Reducers {
		if r.Lifecycle == LifecycleInit {
			if _, err := h.callSynchronously(r.Name, nil, algebraic.Identity{}, algebraic.ConnectionID{}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Replace validates the new module's descriptor against the running
// one (rejecting a dropped table, an altered column, or a changed
// primary key) and registers any newly added tables.
func (h *Host) Replace(ctx context.Context) error {
	desc, err := h.Runtime.Describe()
	if err != nil {
		return err
	}
	if err := CheckCompatible(h.descriptor, desc); err != nil {
		return err
	}
	for _, td := range desc.Tables {
		if _, ok := h.tableIDs[td.Name]; !ok {
			h.DB.RegisterTable(h.buildSchema(td))
		}
	}
	h.descriptor = desc
	return nil
}

func (h *Host) buildSchema(td TableDef) *table.Schema {
	id, ok := h.tableIDs[td.Name]
	if !ok {
		id = h.nextTableID
		h.nextTableID++
		h.tableIDs[td.Name] = id
	}
	schema := table.NewSchema(id, td.Name)
	for i, cd := range td.Columns {
		pos := schema.AddColumn(table.Column{
			ID:      ident.ColumnID(i),
			Name:    cd.Name,
			Type:    cd.Type,
			AutoInc: cd.AutoInc,
		})
		if cd.PrimaryKey {
			_ = schema.SetPrimaryKey(pos)
		}
	}
	for _, id := range td.Indexes {
		positions := make([]int, len(id.Columns))
		for i, name := range id.Columns {
			for p, c := range schema.Columns {
				if c.Name == name {
					positions[i] = p
				}
			}
		}
		_ = schema.CreateIndex(id.Name, positions, id.Unique, id.Algorithm)
	}
	if td.Schedule != nil {
		colPos := -1
		for p, c := range schema.Columns {
			if c.Name == td.Schedule.ColumnName {
				colPos = p
			}
		}
		schema.Schedule = &table.ScheduleBinding{ReducerName: td.Schedule.ReducerName, ScheduleCol: colPos}
	}
	return schema
}

// Start launches the executor goroutine; it exits when ctx is
// cancelled or Stop is called.
func (h *Host) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case j := <-h.queue:
				dispatchQueueDepth.WithLabelValues(h.label()).Set(float64(len(h.queue)))
				j.result <- h.process(j)
			}
		}
	}()
}

// Stop halts the executor and every outstanding scheduled timer.
func (h *Host) Stop() {
	close(h.done)
	h.scheduler.Stop()
}

// Dispatch enqueues a reducer call and blocks until the executor has
// processed it, returning its error (nil on success). Used by the
// scheduler, which has no caller session to report energy/diffs back
// to.
func (h *Host) Dispatch(reducerName string, args []byte, sender algebraic.Identity, conn algebraic.ConnectionID) error {
	out, _ := h.Call(reducerName, args, sender, conn)
	return out.Err
}

// Call enqueues a reducer call and blocks until the executor has
// processed it, returning the full CallOutcome internal/session needs
// to build the caller's TransactionUpdate frame. The returned error is
// out.Err, repeated as a second value for callers that only care about
// success/failure.
func (h *Host) Call(reducerName string, args []byte, sender algebraic.Identity, conn algebraic.ConnectionID) (CallOutcome, error) {
	j := &job{reducer: reducerName, args: args, sender: sender, conn: conn, result: make(chan CallOutcome, 1)}
	h.queue <- j
	dispatchQueueDepth.WithLabelValues(h.label()).Set(float64(len(h.queue)))
	out := <-j.result
	return out, out.Err
}

// Descriptor returns the currently installed module descriptor, so
// internal/session can validate a CallReducer frame's reducer name and
// look up a table's id before building a TransactionUpdate.
func (h *Host) Descriptor() Descriptor { return h.descriptor }

func (h *Host) label() string { return filepath.Base(h.DB.Dir) }

func (h *Host) dispatchScheduled(reducerName string, args []byte, sender algebraic.Identity, conn algebraic.ConnectionID) error {
	return h.Dispatch(reducerName, args, sender, conn)
}

func (h *Host) callSynchronously(name string, args []byte, sender algebraic.Identity, conn algebraic.ConnectionID) ([]txn.Diff, error) {
	out := h.process(&job{reducer: name, args: args, sender: sender, conn: conn})
	return out.Diffs, out.Err
}

func (h *Host) process(j *job) CallOutcome {
	return h.invoke(j.reducer, j.args, j.sender, j.conn)
}

func (h *Host) invoke(name string, args []byte, sender algebraic.Identity, conn algebraic.ConnectionID) CallOutcome {
	start := time.Now()
	dbLabel := h.label()
	defer func() {
		dispatchDurations.WithLabelValues(dbLabel, name).Observe(time.Since(start).Seconds())
	}()

	tx := h.DB.Begin()
	budget := NewBudget(h.EnergyPerCall)
	ts := algebraic.NewTimestampFromTime(time.Now())
	rc := &ReducerContext{
		Txn:          tx,
		Sender:       sender,
		ConnectionID: conn,
		Timestamp:    ts,
		Budget:       budget,
		Cost:         h.Cost,
	}
	spent := func() uint64 { return uint64(h.EnergyPerCall - budget.Remaining()) }

	if err := h.Runtime.CallReducer(rc, name, args); err != nil {
		if abortErr := tx.Abort(); abortErr != nil {
			log.Warnf("moduleh: abort after reducer error: %v", abortErr)
		}
		dispatchErrors.WithLabelValues(dbLabel, name).Inc()
		energyUsed.WithLabelValues(dbLabel, name).Observe(float64(spent()))
		return CallOutcome{EnergyUsed: spent(), Timestamp: ts, Err: err}
	}
	diffs, err := tx.Commit()
	if err != nil {
		dispatchErrors.WithLabelValues(dbLabel, name).Inc()
		return CallOutcome{EnergyUsed: spent(), Timestamp: ts, Err: err}
	}
	energyUsed.WithLabelValues(dbLabel, name).Observe(float64(spent()))
	if h.WAL != nil {
		if werr := h.appendWAL(name, args, ts, diffs); werr != nil {
			log.Warnf("moduleh: wal append for %s: %v", name, werr)
		}
	}
	h.scheduler.Reprogram(diffs, h.descriptor, h.DB)
	if h.OnCommit != nil {
		h.OnCommit(diffs)
	}
	return CallOutcome{Diffs: diffs, EnergyUsed: spent(), Timestamp: ts}
}

// appendWAL durably records one commit's row operations. It runs after
// the in-memory snapshot swap inside tx.Commit but before OnCommit, so
// when the append succeeds the subscriber notification follows a
// transaction already on disk; see internal/wal.Writer's
// fsync-before-ack contract. invoke logs a failed append and still
// calls OnCommit.
func (h *Host) appendWAL(name string, args []byte, ts algebraic.Timestamp, diffs []txn.Diff) error {
	rec := wal.Record{
		TxnID:        h.txnSeq.Add(1),
		CommitMicros: int64(ts),
		ReducerName:  name,
		Args:         args,
	}
	for _, d := range diffs {
		schema, ok := h.DB.Schema(d.Table)
		if !ok {
			continue
		}
		rowType := schema.RowType()
		for _, rc := range d.Deleted {
			rec.Ops = append(rec.Ops, wal.RowOp{Kind: wal.OpDelete, Table: uint32(d.Table), RowID: uint64(rc.ID)})
		}
		for _, rc := range d.Inserted {
			encoded, err := algebraic.EncodeToBytes(h.DB.Typespace, rowType, rc.Row)
			if err != nil {
				return err
			}
			rec.Ops = append(rec.Ops, wal.RowOp{Kind: wal.OpInsert, Table: uint32(d.Table), RowID: uint64(rc.ID), Row: encoded})
		}
	}
	return h.WAL.Append(rec)
}
