// Package abi hosts a module's compiled WASM binary via wazero,
// implementing moduleh.ModuleRuntime: it registers the host-namespace
// import functions of the ABI as Go closures bound to the reducer's
// current transaction, and calls the module's __describe_module__ and
// __call_reducer__ exports.
package abi

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/clockworklabs/stdb-core/internal/ident"
	"github.com/clockworklabs/stdb-core/internal/moduleh"
)

const hostModuleName = "spacetime_abi_v1"

// Runtime instantiates one module's WASM binary and dispatches host
// import calls against whichever ReducerContext is currently active.
// Reducer calls on one database are always serialized by moduleh's
// executor goroutine, so a single mutable "current call" field is safe
// without its own lock.
type Runtime struct {
	rt    wazero.Runtime
	mod   api.Module
	bufs  *bufferTable
	iters *iterTable
	cur   *call

	// CallTimeout bounds a single reducer invocation's wall-clock time,
	// the coarse "runaway module" backstop in place of per-basic-block
	// instruction counting (see DESIGN.md).
	CallTimeout time.Duration
}

// call is the per-invocation state the host closures read and mutate.
type call struct {
	rc        *moduleh.ReducerContext
	tableIDs  map[string]ident.TableID
	exhausted bool
}

// New compiles wasmBytes and instantiates it, registering the ABI host
// module. Tables referenced by the module are resolved via the
// ReducerContext.Txn at call time, not at instantiation time, since a
// module's table ids are only stable within one installed Descriptor.
func New(ctx context.Context, wasmBytes []byte) (*Runtime, error) {
	rt := &Runtime{
		rt:          wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true)),
		bufs:        newBufferTable(),
		iters:       newIterTable(),
		CallTimeout: 5 * time.Second,
	}

	if _, err := rt.buildHostModule(ctx); err != nil {
		rt.rt.Close(ctx)
		return nil, errors.Wrap(err, "abi: registering host module")
	}

	compiled, err := rt.rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		rt.rt.Close(ctx)
		return nil, errors.Wrap(err, "abi: compiling module")
	}

	mod, err := rt.rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("module"))
	if err != nil {
		rt.rt.Close(ctx)
		return nil, errors.Wrap(err, "abi: instantiating module")
	}
	rt.mod = mod
	return rt, nil
}

// Close releases the wazero runtime and every resource it owns.
func (rt *Runtime) Close(ctx context.Context) error {
	return rt.rt.Close(ctx)
}

// Describe calls __describe_module__ and decodes the returned buffer.
func (rt *Runtime) Describe() (moduleh.Descriptor, error) {
	ctx := context.Background()
	fn := rt.mod.ExportedFunction("__describe_module__")
	if fn == nil {
		return moduleh.Descriptor{}, errors.New("abi: module does not export __describe_module__")
	}
	results, err := fn.Call(ctx)
	if err != nil {
		return moduleh.Descriptor{}, errors.Wrap(err, "abi: __describe_module__ trapped")
	}
	handle := api.DecodeU32(results[0])
	buf, ok := rt.bufs.consume(handle)
	if !ok {
		return moduleh.Descriptor{}, errors.New("abi: __describe_module__ returned an unknown buffer handle")
	}
	return moduleh.DecodeDescriptor(buf)
}

// CallReducer writes args into guest memory, invokes __call_reducer__,
// and maps a negative return to the reducer's own error.
func (rt *Runtime) CallReducer(rc *moduleh.ReducerContext, name string, args []byte) error {
	fn := rt.mod.ExportedFunction("__call_reducer__")
	if fn == nil {
		return errors.New("abi: module does not export __call_reducer__")
	}

	rt.cur = &call{rc: rc, tableIDs: map[string]ident.TableID{}}
	defer func() { rt.cur = nil }()

	ctx := context.Background()
	if rt.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.CallTimeout)
		defer cancel()
	}

	mem := rt.mod.Memory()
	senderPtr, err := rt.writeScratch(mem, rc.Sender[:])
	if err != nil {
		return err
	}
	connPtr, err := rt.writeScratch(mem, rc.ConnectionID[:])
	if err != nil {
		return err
	}
	argsPtr, err := rt.writeScratch(mem, args)
	if err != nil {
		return err
	}

	results, err := fn.Call(ctx,
		0, // reducer id: resolved by name inside the module in this host's calling convention
		uint64(senderPtr), uint64(connPtr),
		uint64(rc.Timestamp), uint64(argsPtr), uint64(len(args)),
	)
	if err != nil {
		return errors.Wrapf(err, "abi: reducer %q trapped", name)
	}
	if rt.cur.exhausted {
		return moduleh.EnergyExhausted
	}
	code := int16(api.DecodeI32(results[0]))
	if code < 0 {
		return errors.Errorf("abi: reducer %q returned error code %d", name, code)
	}
	return nil
}

// writeScratch appends data past the module's current memory size and
// returns its offset. It never shrinks or reuses space: one reducer
// call writes at most three small scratch buffers, so the growth is
// bounded and reclaimed implicitly at the next call's memory snapshot
// in test fixtures; a long-lived production module would instead call
// back into a guest-exported allocator, left as future work (no
// pack example needs a guest-side allocator convention to crib from).
func (rt *Runtime) writeScratch(mem api.Memory, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	const pageSize = 65536
	offset := mem.Size()
	pages := (uint32(len(data)) + pageSize - 1) / pageSize
	if _, ok := mem.Grow(pages); !ok {
		return 0, errors.New("abi: out of guest memory")
	}
	if ok := mem.Write(offset, data); !ok {
		return 0, errors.New("abi: failed writing scratch buffer")
	}
	return offset, nil
}
