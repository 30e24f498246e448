// Package avm2 runs the modern bytecode dialect: ABC files loaded into a
// domain of nominal classes and executed by a typed stack machine whose
// exception tables are matched by class ancestry.
package avm2

import (
	"errors"
	"time"

	"github.com/chazu/swfvm/avm"
	"github.com/chazu/swfvm/display"
	"github.com/tliron/commonlog"
)

func logger() commonlog.Logger {
	return commonlog.GetLogger("swfvm.avm2")
}

var (
	// ErrArgumentCount is raised when a method receives fewer arguments
	// than it requires. Scripts see it as an ArgumentError.
	ErrArgumentCount = errors.New("argument count mismatch")
	// ErrRange is raised for out-of-range indices. Scripts see it as a
	// RangeError.
	ErrRange = errors.New("index out of range")
)

// Options tune a Machine.
type Options struct {
	// MaxDepth is the call depth ceiling; 0 selects avm.DefaultMaxDepth.
	MaxDepth int
	// Budget caps the instructions one script chain may execute; 0 is
	// unlimited.
	Budget int
}

// Machine is the modern interpreter of one movie instance.
type Machine struct {
	Heap   *avm.Heap
	Host   avm.Host
	Root   *display.Sprite
	Domain *Domain

	ObjectClass   *avm.Class
	ClassClass    *avm.Class
	FunctionClass *avm.Class
	ArrayClass    *avm.Class
	StringClass   *avm.Class
	NumberClass   *avm.Class
	IntClass      *avm.Class
	UintClass     *avm.Class
	BooleanClass  *avm.Class
	ErrorClass    *avm.Class

	DisplayObjectClass *avm.Class
	EventClass         *avm.Class

	lib     *display.Library
	stack   *avm.CallStack
	budget  int
	steps   int
	changes display.Change
	start   time.Time
	files   uint32

	// binding is the display object the next display-class instance
	// attaches to.
	binding display.Object

	activations map[*MethodBody]*avm.Class
	catches     map[*ExceptionInfo]*avm.Class

	// globals collects the built-in definitions while they are installed.
	globals []binding
}

// New creates a machine with the built-in classes installed. Display
// objects created by scripts come from root's library. A built-in class
// that fails to link is reported as an ErrVerify error.
func New(heap *avm.Heap, host avm.Host, root *display.Sprite, opts Options) (*Machine, error) {
	if host == nil {
		host = avm.NopHost{}
	}
	m := &Machine{
		Heap:        heap,
		Host:        host,
		Root:        root,
		stack:       avm.NewCallStack(opts.MaxDepth),
		budget:      opts.Budget,
		start:       time.Now(),
		activations: make(map[*MethodBody]*avm.Class),
		catches:     make(map[*ExceptionInfo]*avm.Class),
	}
	if root != nil {
		m.lib = root.Library()
	} else {
		m.lib = display.NewLibrary()
	}
	m.Domain = newDomain(m)
	heap.Primitive = m.toPrimitive
	if err := m.installBuiltins(); err != nil {
		return nil, err
	}
	return m, nil
}

// Trace marks everything the machine keeps alive. The player registers
// it as a heap root.
func (m *Machine) Trace(mk *avm.Marker) {
	m.Domain.trace(mk)
	for _, c := range m.activations {
		mk.MarkClass(c)
	}
	for _, c := range m.catches {
		mk.MarkClass(c)
	}
	m.stack.Trace(mk)
	for _, o := range m.changes.Added {
		o.TraceBindings(mk)
	}
	for _, o := range m.changes.Removed {
		o.TraceBindings(mk)
	}
}

// Depth returns the current call depth.
func (m *Machine) Depth() int { return m.stack.Depth() }

// TakeChanges returns the display mutations scripts made since the last
// call and resets the accumulator.
func (m *Machine) TakeChanges() display.Change {
	ch := m.changes
	m.changes = display.Change{}
	return ch
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// LoadABC parses a bytecode file into the domain. Unless lazy is set the
// file's entry script, its last one, runs immediately. Parse and link
// failures wrap avm.ErrVerify.
func (m *Machine) LoadABC(data []byte, lazy bool) error {
	m.files++
	f, err := ParseABC(data, m.files)
	if err != nil {
		return err
	}
	entry := m.Domain.load(f)
	logger().Debugf("loaded abc %d: %d classes, %d scripts", m.files, len(f.Instances), len(f.Scripts))
	if lazy || entry == nil {
		return nil
	}
	_, err = m.enter(func() (avm.Value, error) {
		return avm.Undefined, m.Domain.ensure(entry)
	})
	return err
}

// Bind returns the script object of a display object, constructing an
// instance of its linked class on first use. Timeline sprites without a
// linked class become MovieClips.
func (m *Machine) Bind(d display.Object) (avm.Value, error) {
	if v := d.Script(); v.IsObject() && m.Heap.Deref(v) != nil {
		return v, nil
	}
	return m.enter(func() (avm.Value, error) {
		cls, err := m.displayClass(d)
		if err != nil {
			return avm.Undefined, err
		}
		m.binding = d
		inst := m.newInstance(cls)
		m.binding = nil
		if inst.Display == nil {
			inst.Display = d
			d.SetScript(inst.Value())
		}
		return inst.Value(), m.initInstance(cls, inst.Value(), nil)
	})
}

func (m *Machine) displayClass(d display.Object) (*avm.Class, error) {
	if name := d.ClassName(); name != "" {
		cls, err := m.Domain.ClassByName(name)
		if err != nil {
			return nil, err
		}
		if cls != nil {
			return cls, nil
		}
		logger().Debugf("class %s of %s is not defined", name, display.Path(d))
	}
	var name string
	switch d.Kind() {
	case display.KindSprite:
		name = "flash.display::MovieClip"
	case display.KindShape:
		name = "flash.display::Shape"
	case display.KindText:
		name = "flash.text::TextField"
	case display.KindBitmap:
		name = "flash.display::Bitmap"
	}
	return m.Domain.ClassByName(name)
}

// Call invokes a function value from the host.
func (m *Machine) Call(fn, this avm.Value, args []avm.Value) (avm.Value, error) {
	return m.enter(func() (avm.Value, error) { return m.call(fn, this, args) })
}

// CallMethod invokes a public method of obj.
func (m *Machine) CallMethod(obj avm.Value, name string, args []avm.Value) (avm.Value, error) {
	return m.enter(func() (avm.Value, error) {
		return m.callProperty(obj, avm.PublicName(name), args)
	})
}

// Construct instantiates a class by qualified name from the host.
func (m *Machine) Construct(name string, args []avm.Value) (avm.Value, error) {
	return m.enter(func() (avm.Value, error) {
		cls, err := m.Domain.ClassByName(name)
		if err != nil {
			return avm.Undefined, err
		}
		if cls == nil {
			return avm.Undefined, avm.Errorf(avm.ErrPropertyNotFound, "class %s is not defined", name)
		}
		return m.constructClass(cls, args)
	})
}

// DispatchEvent delivers an event of the given kind to the listeners of
// a script object. The listeners receive a fresh event object whose
// class follows the kind; args fill its payload fields.
func (m *Machine) DispatchEvent(target avm.Value, kind string, args []avm.Value) error {
	if !m.listening(target, kind) {
		return nil
	}
	_, err := m.enter(func() (avm.Value, error) {
		ev, err := m.newEvent(kind, args)
		if err != nil {
			return avm.Undefined, err
		}
		return avm.Undefined, m.dispatch(target, ev)
	})
	return err
}

// listening reports whether target or, for display objects, one of its
// ancestors has a listener for kind.
func (m *Machine) listening(target avm.Value, kind string) bool {
	o := m.Heap.Deref(target)
	if o == nil {
		return false
	}
	if o.HasListeners(kind) {
		return true
	}
	if d, ok := o.Display.(display.Object); ok {
		for _, p := range display.Ancestors(d) {
			if po := m.Heap.Deref(p.Script()); po != nil && po.HasListeners(kind) {
				return true
			}
		}
	}
	return false
}

// enter runs a host-initiated invocation. The instruction budget resets
// for each outermost chain, and errors escaping it are reported as
// uncaught.
func (m *Machine) enter(run func() (avm.Value, error)) (avm.Value, error) {
	outer := m.stack.Depth() == 0
	if outer {
		m.steps = 0
	}
	v, err := run()
	if err != nil && outer {
		var unc *avm.UncaughtError
		if !errors.As(err, &unc) {
			err = &avm.UncaughtError{Err: err}
		}
		logger().Debugf("uncaught: %v", err)
	}
	return v, err
}

// ---------------------------------------------------------------------------
// Display bindings
// ---------------------------------------------------------------------------

func (m *Machine) displayOf(v avm.Value) display.Object {
	o := m.Heap.Deref(v)
	if o == nil {
		return nil
	}
	d, _ := o.Display.(display.Object)
	return d
}

func (m *Machine) spriteOf(v avm.Value) *display.Sprite {
	sp, _ := m.displayOf(v).(*display.Sprite)
	return sp
}

// bindOrNull binds d for a script, mapping nil to null.
func (m *Machine) bindOrNull(d display.Object) (avm.Value, error) {
	if d == nil {
		return avm.Null, nil
	}
	return m.Bind(d)
}
