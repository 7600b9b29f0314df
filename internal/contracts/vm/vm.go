// Package vm runs a contract getter locally against a fetched account
// state, standing in for the deterministic TVM the original relies on.
// There is no TVM implementation in the dependency set, so contract code
// here is a WebAssembly module: it exports _start, reads its persistent
// storage and the call's encoded arguments through host imports, and
// writes its result through a host_return import before returning.
package vm

import (
	"errors"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// Account is the state a getter call runs against.
type Account struct {
	Code    []byte
	Data    []byte
	Balance uint64
}

// Machine compiles and runs contract code. One Machine may run any number
// of calls; each Run gets its own store and instance, so calls never share
// linear memory.
type Machine struct {
	engine *wasmer.Engine
}

// New builds a Machine with a fresh Wasmer engine.
func New() *Machine {
	return &Machine{engine: wasmer.NewEngine()}
}

// hostCtx is the per-call state the host imports close over.
type hostCtx struct {
	mem    *wasmer.Memory
	data   []byte
	args   []byte
	output []byte
}

// Run executes account.Code's _start export with account.Data and args
// made available through host imports, and returns whatever the module
// wrote through host_return.
func (m *Machine) Run(account Account, args []byte) ([]byte, error) {
	store := wasmer.NewStore(m.engine)
	module, err := wasmer.NewModule(store, account.Code)
	if err != nil {
		return nil, err
	}

	h := &hostCtx{data: account.Data, args: args}
	imports := registerHost(store, h)

	instance, err := wasmer.NewInstance(module, imports)
	if err != nil {
		return nil, err
	}

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, errors.New("vm: wasm memory export missing")
	}
	h.mem = mem

	start, err := instance.Exports.GetFunction("_start")
	if err != nil {
		return nil, errors.New("vm: _start function required")
	}
	if _, err := start(); err != nil {
		return nil, err
	}

	return h.output, nil
}

// registerHost converts the host-side callbacks into the three imports a
// getter module needs: read persistent data, read call arguments, and
// hand back a result.
func registerHost(store *wasmer.Store, h *hostCtx) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	read := func(ptr, ln int32) []byte {
		raw := h.mem.Data()[ptr : ptr+ln]
		out := make([]byte, ln)
		copy(out, raw)
		return out
	}
	write := func(ptr int32, data []byte) { copy(h.mem.Data()[ptr:], data) }

	hostGetData := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			write(args[0].I32(), h.data)
			return []wasmer.Value{wasmer.NewI32(int32(len(h.data)))}, nil
		},
	)

	hostGetArgs := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			write(args[0].I32(), h.args)
			return []wasmer.Value{wasmer.NewI32(int32(len(h.args)))}, nil
		},
	)

	hostReturn := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32)),
			wasmer.NewValueTypes(),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			h.output = read(args[0].I32(), args[1].I32())
			return []wasmer.Value{}, nil
		},
	)

	imports.Register("env", map[string]wasmer.IntoExtern{
		"host_get_data": hostGetData,
		"host_get_args": hostGetArgs,
		"host_return":   hostReturn,
	})

	return imports
}
