package fake

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Itay2805/tinydotnet/backend"
)

// HostFunc is a Go implementation bound to a declared external function:
// the runtime helpers and GC shims (memcpy, isinstance,
// dynamic_cast_obj_to_interface, get_array_type, ...) an emitted module
// imports rather than defines.
type HostFunc func(args []Value) (exception, value Value, err error)

type fn struct {
	name     string
	params   []backend.ValueKind
	results  []backend.ValueKind
	external bool

	host HostFunc

	instrs []instr
	labels map[backend.Label]int
	nextLabel int
	nextReg   int

	addr uintptr
}

func (*fn) functionHandle() {}

// instr executes one recorded instruction against fr. next >= 0 means
// "jump to instruction index next"; next == -1 means "fall through to
// pc+1"; ret == true means the function returns (exception, value).
type instr func(fr *frame) (next int, ret bool, exception, value Value)

type frame struct {
	regs   map[backend.Reg]Value
	params []Value
	mod    *Module
}

func (fr *frame) get(r backend.Reg) Value { return fr.regs[r] }
func (fr *frame) set(r backend.Reg, v Value) { fr.regs[r] = v }

func (f *fn) run(args []Value, mod *Module) (Value, Value, error) {
	if f.external {
		if f.host == nil {
			return Value{}, Value{}, fmt.Errorf("fake backend: external function %q has no bound host implementation", f.name)
		}
		return callHost(f.host, args)
	}

	fr := &frame{regs: make(map[backend.Reg]Value), params: args, mod: mod}
	pc := 0
	for pc < len(f.instrs) {
		next, ret, exc, val := f.instrs[pc](fr)
		if ret {
			return exc, val, nil
		}
		if next >= 0 {
			pc = next
			continue
		}
		pc++
	}
	return Value{}, Value{}, fmt.Errorf("fake backend: function %q fell off the end without a return", f.name)
}

func callHost(h HostFunc, args []Value) (Value, Value, error) {
	exc, val, err := h(args)
	return exc, val, err
}

// Module is the in-memory backend.Module double.
type Module struct {
	mu          sync.Mutex
	fns         map[string]*fn
	statics     map[string]*Address
	strings     map[string]*Object
	typeHandles map[string]*Object
	published   bool
	addrCtr     uint64
}

// NewModule constructs an empty fake module.
func NewModule() *Module {
	return &Module{
		fns:         make(map[string]*fn),
		statics:     make(map[string]*Address),
		strings:     make(map[string]*Object),
		typeHandles: make(map[string]*Object),
	}
}

func (m *Module) DeclareExternal(name string, params, results []backend.ValueKind) (backend.Function, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := &fn{name: name, params: params, results: results, external: true}
	m.fns[name] = f
	return f, nil
}

func (m *Module) DeclareFunction(name string, params, results []backend.ValueKind) (backend.Function, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := &fn{name: name, params: params, results: results, labels: make(map[backend.Label]int)}
	m.fns[name] = f
	return f, nil
}

func (m *Module) DeclareStatic(name string, size int) (backend.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &Address{Stack: make(map[int]Value)}
	m.statics[name] = a
	return a, nil
}

func (m *Module) DeclareString(value string) (backend.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.strings[value]; ok {
		return o, nil
	}
	o := &Object{Slots: map[int]Value{stringValueSlot: {Kind: backend.ValPtr, I: int64(len(m.strings))}}}
	m.strings[value] = o
	return o, nil
}

// DeclareTypeHandle interns the runtime type-handle object for a type name,
// returning the same cached handle across repeat calls for the same name.
func (m *Module) DeclareTypeHandle(mangledName string) (backend.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.typeHandles[mangledName]; ok {
		return o, nil
	}
	o := &Object{Slots: map[int]Value{typeHandleNameSlot: {Kind: backend.ValPtr, I: int64(len(m.typeHandles))}}}
	m.typeHandles[mangledName] = o
	return o, nil
}

// typeHandleNameSlot mirrors stringValueSlot for type-handle objects: it
// marks the object as a type handle, not a value lower ever inspects.
const typeHandleNameSlot = -2000

// TypeHandleName recovers the mangled name a DeclareTypeHandle handle was
// built from, for test assertions.
func (m *Module) TypeHandleName(o *Object) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, obj := range m.typeHandles {
		if obj == o {
			return name, true
		}
	}
	return "", false
}

// stringValueSlot is the reserved slot key DeclareString uses to mark an
// object as a string literal; lower's ldstr lowering never inspects it,
// only test assertions that want to recover the literal via StringValue.
const stringValueSlot = -1000

// StringValue recovers the literal a DeclareString handle was built from,
// for test assertions.
func (m *Module) StringValue(o *Object) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s, obj := range m.strings {
		if obj == o {
			return s, true
		}
	}
	return "", false
}

func (m *Module) NewBuilder(f backend.Function) backend.Builder {
	return &builder{fn: f.(*fn)}
}

func (m *Module) Publish() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = true
	return nil
}

func (m *Module) ResolvedAddress(f backend.Function) (uintptr, error) {
	ff := f.(*fn)
	if ff.addr == 0 {
		ff.addr = uintptr(atomic.AddUint64(&m.addrCtr, 1))
	}
	return ff.addr, nil
}

// BindHost attaches a Go implementation to a previously declared external
// function, completing the "linked by name" import contract for test
// purposes.
func (m *Module) BindHost(name string, impl HostFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fns[name]
	if !ok {
		return fmt.Errorf("fake backend: no declared function %q to bind", name)
	}
	f.host = impl
	return nil
}

// Invoke runs a previously defined (non-external) function with args,
// lazily "compiling" it on first call: the fn value itself stands in for
// a cached, lazily-generated native entry point.
func (m *Module) Invoke(name string, args []Value) (exception, value Value, err error) {
	m.mu.Lock()
	f, ok := m.fns[name]
	m.mu.Unlock()
	if !ok {
		return Value{}, Value{}, fmt.Errorf("fake backend: no function %q", name)
	}
	return f.run(args, m)
}
