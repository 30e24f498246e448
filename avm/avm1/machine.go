// Package avm1 runs the legacy action dialect: a stack machine with
// registers, a dynamic scope chain and loosely typed coercions, driving
// display-list sprites through their script objects.
package avm1

import (
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/chazu/swfvm/avm"
	"github.com/chazu/swfvm/display"
	"github.com/tliron/commonlog"
)

func logger() commonlog.Logger {
	return commonlog.GetLogger("swfvm.avm1")
}

// Options tune a Machine.
type Options struct {
	// MaxDepth is the call depth ceiling; 0 selects avm.DefaultMaxDepth.
	MaxDepth int
	// Budget caps the actions one script chain may execute; 0 is
	// unlimited.
	Budget int
}

// Machine is the legacy interpreter of one movie instance.
type Machine struct {
	Heap    *avm.Heap
	Host    avm.Host
	Version uint8
	Root    *display.Sprite
	Global  *avm.Object

	ObjectProto   *avm.Object
	FunctionProto *avm.Object
	ArrayProto    *avm.Object
	StringProto   *avm.Object
	NumberProto   *avm.Object
	BooleanProto  *avm.Object
	ErrorProto    *avm.Object
	ClipProto     *avm.Object
	TextProto     *avm.Object

	stack   *avm.CallStack
	budget  int
	steps   int
	changes display.Change
	start   time.Time
	rng     *rand.Rand
}

// New creates a machine for a movie of the given file version and builds
// its global object. The root sprite is bound immediately.
func New(heap *avm.Heap, host avm.Host, root *display.Sprite, version uint8, opts Options) *Machine {
	if host == nil {
		host = avm.NopHost{}
	}
	m := &Machine{
		Heap:    heap,
		Host:    host,
		Version: version,
		Root:    root,
		stack:   avm.NewCallStack(opts.MaxDepth),
		budget:  opts.Budget,
		start:   time.Now(),
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	heap.Primitive = m.toPrimitive
	m.installGlobals()
	if root != nil {
		m.Bind(root)
	}
	return m
}

// Trace marks everything the machine keeps alive. The player registers
// it as a heap root.
func (m *Machine) Trace(mk *avm.Marker) {
	mk.MarkObject(m.Global)
	for _, p := range []*avm.Object{m.ObjectProto, m.FunctionProto, m.ArrayProto, m.StringProto,
		m.NumberProto, m.BooleanProto, m.ErrorProto, m.ClipProto, m.TextProto} {
		mk.MarkObject(p)
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
// Display bindings
// ---------------------------------------------------------------------------

// Bind returns the script object of a display object, creating it on
// first use.
func (m *Machine) Bind(o display.Object) avm.Value {
	if v := o.Script(); v.IsObject() && m.Heap.Deref(v) != nil {
		return v
	}
	proto := m.ObjectProto
	switch o.Kind() {
	case display.KindSprite:
		proto = m.ClipProto
	case display.KindText:
		proto = m.TextProto
	}
	obj := m.Heap.NewObject(proto.Value())
	obj.Display = o
	v := obj.Value()
	o.SetScript(v)
	return v
}

// displayOf returns the display object behind a script value.
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

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// RunActions executes an action block with clip as its target, as a
// frame or init script. An exception that no handler catches is returned
// as an *avm.UncaughtError.
func (m *Machine) RunActions(code []byte, clip display.Object) error {
	target := m.Bind(clip)
	f := &avm.Frame{
		This:   target,
		Callee: avm.Undefined,
		Code:   code,
		Locals: undefinedSlots(4),
		Scope:  []avm.Value{m.Global.Value(), target},
		State:  &state{target: target, base: target, result: avm.Undefined},
	}
	_, err := m.enter(func() (avm.Value, error) { return m.execute(f) })
	return err
}

// Call invokes a function value from the host.
func (m *Machine) Call(fn, this avm.Value, args []avm.Value) (avm.Value, error) {
	return m.enter(func() (avm.Value, error) { return m.call(fn, this, args) })
}

// CallMethod invokes a named method of obj. A missing method is not an
// error.
func (m *Machine) CallMethod(obj avm.Value, name string, args []avm.Value) (avm.Value, error) {
	return m.enter(func() (avm.Value, error) {
		fn, err := m.getMember(obj, name)
		if err != nil {
			return avm.Undefined, err
		}
		return m.call(fn, obj, args)
	})
}

// eventMethods maps scheduler event kinds to clip handler names.
var eventMethods = map[string]string{
	"added":            "onLoad",
	"removedFromStage": "onUnload",
	"enterFrame":       "onEnterFrame",
	"complete":         "onComplete",
	"timer":            "onTimer",
	"mouseDown":        "onMouseDown",
	"mouseUp":          "onMouseUp",
	"mouseMove":        "onMouseMove",
	"keyDown":          "onKeyDown",
	"keyUp":            "onKeyUp",
}

// HandlerName returns the method a clip defines to receive an event.
func HandlerName(kind string) string {
	if name, ok := eventMethods[kind]; ok {
		return name
	}
	if kind == "" {
		return ""
	}
	return "on" + strings.ToUpper(kind[:1]) + kind[1:]
}

// DispatchEvent delivers an event to a script object: its handler method
// first, then listeners registered for the kind.
func (m *Machine) DispatchEvent(target avm.Value, kind string, args []avm.Value) error {
	o := m.Heap.Deref(target)
	if o == nil {
		return nil
	}
	var errs []error
	if _, err := m.CallMethod(target, HandlerName(kind), args); err != nil {
		errs = append(errs, err)
	}
	for _, l := range o.Listeners(kind) {
		if _, err := m.Call(l, target, args); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// enter runs a host-initiated invocation. The instruction budget resets
// for each outermost chain, and catchable errors escaping it are
// reported as uncaught.
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

func undefinedSlots(n int) []avm.Value {
	s := make([]avm.Value, n)
	for i := range s {
		s[i] = avm.Undefined
	}
	return s
}
