package moduleh

// ModuleRuntime is the narrow interface the database executor drives;
// internal/abi implements it by hosting the module's WASM bytes in
// wazero. Keeping this interface here (rather than importing abi
// directly) lets moduleh and its tests run without a WASM runtime at
// all, using a fake.
type ModuleRuntime interface {
	// Describe returns the module's table/reducer schema, called once
	// at install and once at every replace to validate compatibility.
	Describe() (Descriptor, error)

	// CallReducer invokes the named reducer with BSATN-encoded args,
	// bound to rc's transaction and energy budget. A non-nil error
	// aborts rc.Txn; the caller (Host) still owns committing on success.
	CallReducer(rc *ReducerContext, name string, args []byte) error
}
