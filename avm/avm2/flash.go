package avm2

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/chazu/swfvm/avm"
	"github.com/chazu/swfvm/display"
)

// Event kinds the player dispatches.
const (
	EventEnterFrame       = "enterFrame"
	EventFrameConstructed = "frameConstructed"
	EventExitFrame        = "exitFrame"
	EventAdded            = "added"
	EventAddedToStage     = "addedToStage"
	EventRemoved          = "removed"
	EventRemovedFromStage = "removedFromStage"
	EventTimer            = "timer"
	EventTimerComplete    = "timerComplete"
	EventClick            = "click"
	EventMouseDown        = "mouseDown"
	EventMouseUp          = "mouseUp"
	EventMouseMove        = "mouseMove"
	EventKeyDown          = "keyDown"
	EventKeyUp            = "keyUp"
)

func (m *Machine) installFlash() {
	m.installEvents()
	m.installDisplay()
	m.installTimer()
	m.installUtils()
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// eventState is the native payload of Event instances.
type eventState struct {
	stopped    bool
	stoppedNow bool
	prevented  bool
}

func eventOf(o *avm.Object) *eventState {
	if o == nil {
		return nil
	}
	e, _ := o.Native.(*eventState)
	return e
}

// setField writes a declared slot of a built-in instance, bypassing
// const protection.
func setField(o *avm.Object, name string, v avm.Value) {
	if o == nil || o.Class == nil {
		return
	}
	if t := o.Class.FindTrait(avm.PublicName(name)); t != nil && isSlotKind(t.Kind) {
		o.Slots[t.Slot] = v
	}
}

func (m *Machine) field(c *avm.Class, name string, def avm.Value) {
	c.AddTrait(&avm.Trait{Local: name, Kind: avm.TraitConst, Default: def, Value: avm.Undefined})
}

func (m *Machine) installEvents() {
	h := m.Heap
	dispatcher, _ := m.nativeClass("flash.events::EventDispatcher", m.ObjectClass, avm.ClassSealed)
	m.method(dispatcher, "addEventListener", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		kind, err := m.toString(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		fn := argAt(args, 1)
		if _, ok := m.callable(fn); !ok {
			return avm.Undefined, avm.Errorf(avm.ErrTypeCoercion, "listener for %s is not a function", kind)
		}
		o := h.Deref(this)
		if m.findListener(o, kind, fn).IsUndefined() {
			o.AddListener(kind, fn)
		}
		return avm.Undefined, nil
	})
	m.method(dispatcher, "removeEventListener", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		kind, err := m.toString(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		o := h.Deref(this)
		if fn := m.findListener(o, kind, argAt(args, 1)); !fn.IsUndefined() {
			o.RemoveListener(kind, fn)
		}
		return avm.Undefined, nil
	})
	hasListener := func(this avm.Value, args []avm.Value) (avm.Value, error) {
		kind, err := m.toString(argAt(args, 0))
		return avm.Bool(h.Deref(this).HasListeners(kind)), err
	}
	m.method(dispatcher, "hasEventListener", hasListener)
	m.method(dispatcher, "willTrigger", hasListener)
	m.method(dispatcher, "dispatchEvent", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		ev := argAt(args, 0)
		if eventOf(h.Deref(ev)) == nil {
			return avm.Undefined, avm.Errorf(avm.ErrTypeCoercion, "dispatchEvent expects an Event, got %s", m.describe(ev))
		}
		if err := m.dispatch(this, ev); err != nil {
			return avm.Undefined, err
		}
		return avm.Bool(!eventOf(h.Deref(ev)).prevented), nil
	})
	m.finish(dispatcher)

	event, def := m.nativeClass("flash.events::Event", m.ObjectClass, avm.ClassSealed)
	def.alloc = func(o *avm.Object) { o.Native = &eventState{} }
	def.ctor = func(this avm.Value, args []avm.Value) (avm.Value, error) {
		o := h.Deref(this)
		kind, err := m.toString(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		setField(o, "type", m.str(kind))
		setField(o, "bubbles", avm.Bool(m.toBoolean(argAt(args, 1))))
		setField(o, "cancelable", avm.Bool(m.toBoolean(argAt(args, 2))))
		return avm.Undefined, nil
	}
	m.field(event, "type", avm.Null)
	m.field(event, "bubbles", avm.False)
	m.field(event, "cancelable", avm.False)
	m.field(event, "target", avm.Null)
	m.field(event, "currentTarget", avm.Null)
	flag := func(set func(e *eventState)) avm.NativeFn {
		return func(this avm.Value, args []avm.Value) (avm.Value, error) {
			if e := eventOf(h.Deref(this)); e != nil {
				set(e)
			}
			return avm.Undefined, nil
		}
	}
	m.method(event, "stopPropagation", flag(func(e *eventState) { e.stopped = true }))
	m.method(event, "stopImmediatePropagation", flag(func(e *eventState) { e.stopped, e.stoppedNow = true, true }))
	m.method(event, "preventDefault", flag(func(e *eventState) { e.prevented = true }))
	m.method(event, "isDefaultPrevented", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		e := eventOf(h.Deref(this))
		return avm.Bool(e != nil && e.prevented), nil
	})
	m.method(event, "toString", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		o := h.Deref(this)
		kind, _ := m.toString(h.Get(o, "type"))
		return m.str(fmt.Sprintf("[%s type=%q bubbles=%t cancelable=%t]", localName(o.Class.Name), kind,
			h.Get(o, "bubbles") == avm.True, h.Get(o, "cancelable") == avm.True)), nil
	})
	for _, k := range []string{
		EventEnterFrame, EventFrameConstructed, EventExitFrame, EventAdded, EventAddedToStage,
		EventRemoved, EventRemovedFromStage, "complete", "init", "activate", "deactivate", "change",
	} {
		m.constant(event, eventConstant(k), m.str(k))
	}
	m.EventClass = m.finish(event)

	timerEvent, _ := m.nativeClass("flash.events::TimerEvent", event, avm.ClassSealed)
	m.constant(timerEvent, "TIMER", m.str(EventTimer))
	m.constant(timerEvent, "TIMER_COMPLETE", m.str(EventTimerComplete))
	m.finish(timerEvent)

	mouse, _ := m.nativeClass("flash.events::MouseEvent", event, avm.ClassSealed)
	for _, f := range []string{"localX", "localY", "stageX", "stageY"} {
		m.field(mouse, f, avm.Number(0))
	}
	for _, k := range []string{EventClick, EventMouseDown, EventMouseUp, EventMouseMove, "mouseOver", "mouseOut", "rollOver", "rollOut"} {
		m.constant(mouse, eventConstant(k), m.str(k))
	}
	m.finish(mouse)

	key, _ := m.nativeClass("flash.events::KeyboardEvent", event, avm.ClassSealed)
	m.field(key, "keyCode", avm.Number(0))
	m.field(key, "charCode", avm.Number(0))
	m.constant(key, "KEY_DOWN", m.str(EventKeyDown))
	m.constant(key, "KEY_UP", m.str(EventKeyUp))
	m.finish(key)
}

// eventConstant maps an event kind to its constant name: addedToStage
// becomes ADDED_TO_STAGE.
func eventConstant(kind string) string {
	var b strings.Builder
	for i, r := range kind {
		if r >= 'A' && r <= 'Z' && i > 0 {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

// findListener returns the registered listener equal to fn. Methods read
// off the same receiver twice count as equal.
func (m *Machine) findListener(o *avm.Object, kind string, fn avm.Value) avm.Value {
	want, _ := m.Heap.Deref(fn).Native.(*BoundMethod)
	for _, l := range o.Listeners(kind) {
		if l == fn {
			return l
		}
		if want == nil {
			continue
		}
		if b, ok := m.Heap.Deref(l).Native.(*BoundMethod); ok && b.Fn == want.Fn && b.This == want.This {
			return l
		}
	}
	return avm.Undefined
}

// newEvent creates the event object the player delivers for kind. Mouse
// events take the pointer position from args and keyboard events the key
// and character codes.
func (m *Machine) newEvent(kind string, args []avm.Value) (avm.Value, error) {
	name := "flash.events::Event"
	bubbles := false
	switch kind {
	case EventTimer, EventTimerComplete:
		name = "flash.events::TimerEvent"
	case EventClick, EventMouseDown, EventMouseUp, EventMouseMove:
		name, bubbles = "flash.events::MouseEvent", true
	case EventKeyDown, EventKeyUp:
		name, bubbles = "flash.events::KeyboardEvent", true
	case EventAdded, EventRemoved:
		bubbles = true
	}
	c, err := m.Domain.ClassByName(name)
	if err != nil {
		return avm.Undefined, err
	}
	ev, err := m.constructClass(c, []avm.Value{m.str(kind), avm.Bool(bubbles)})
	if err != nil {
		return avm.Undefined, err
	}
	o := m.Heap.Deref(ev)
	switch name {
	case "flash.events::MouseEvent":
		x, y := argAt(args, 0), argAt(args, 1)
		if x.IsNumber() && y.IsNumber() {
			setField(o, "localX", x)
			setField(o, "localY", y)
			setField(o, "stageX", x)
			setField(o, "stageY", y)
		}
	case "flash.events::KeyboardEvent":
		if k := argAt(args, 0); k.IsNumber() {
			setField(o, "keyCode", k)
		}
		if c := argAt(args, 1); c.IsNumber() {
			setField(o, "charCode", c)
		}
	}
	return ev, nil
}

// dispatch delivers ev to target's listeners and, for bubbling events,
// to the listeners of its display ancestors.
func (m *Machine) dispatch(target, ev avm.Value) error {
	h := m.Heap
	eo := h.Deref(ev)
	state := eventOf(eo)
	kind, err := m.toString(h.Get(eo, "type"))
	if err != nil {
		return err
	}
	setField(eo, "target", target)
	path := []avm.Value{target}
	if h.Get(eo, "bubbles") == avm.True {
		if d := m.displayOf(target); d != nil {
			for _, p := range display.Ancestors(d) {
				if v := p.Script(); v.IsObject() {
					path = append(path, v)
				}
			}
		}
	}
	for _, cur := range path {
		o := h.Deref(cur)
		if o == nil {
			continue
		}
		setField(eo, "currentTarget", cur)
		for _, fn := range o.Listeners(kind) {
			if _, err := m.call(fn, avm.Null, []avm.Value{ev}); err != nil {
				return err
			}
			if state.stoppedNow {
				return nil
			}
		}
		if state.stopped {
			return nil
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Display classes
// ---------------------------------------------------------------------------

// newDisplay creates the display object for an instance constructed by a
// script. A class linked to a library symbol instantiates the symbol.
func (m *Machine) newDisplay(c *avm.Class, kind display.Kind) display.Object {
	for k := c; k != nil; k = k.Super {
		if id, ok := m.lib.SymbolFor(strings.ReplaceAll(k.Name, "::", ".")); ok {
			d, err := m.lib.Instantiate(id)
			if err == nil {
				return d
			}
			logger().Warningf("class %s: %v", k.Name, err)
		}
	}
	switch kind {
	case display.KindShape:
		return m.lib.NewShape()
	case display.KindText:
		return m.lib.NewText()
	case display.KindBitmap:
		return m.lib.NewBitmap()
	}
	return m.lib.NewEmptySprite()
}

// displayCtor attaches a display object to instances that are not
// already bound to one.
func (m *Machine) displayCtor(kind display.Kind) avm.NativeFn {
	return func(this avm.Value, args []avm.Value) (avm.Value, error) {
		o := m.Heap.Deref(this)
		if o == nil || o.Display != nil {
			return avm.Undefined, nil
		}
		d := m.newDisplay(o.Class, kind)
		o.Display = d
		d.SetScript(this)
		return avm.Undefined, nil
	}
}

// displayProp declares a numeric accessor over the display object.
func (m *Machine) displayProp(c *avm.Class, name string, get func(d display.Object) float64, set func(d display.Object, f float64)) {
	m.accessor(c, name, func(this avm.Value, args []avm.Value) (avm.Value, error) {
		d := m.displayOf(this)
		if d == nil {
			return avm.Number(0), nil
		}
		return avm.Number(get(d)), nil
	}, func(this avm.Value, args []avm.Value) (avm.Value, error) {
		f, err := m.toNumber(argAt(args, 0))
		if err != nil || math.IsNaN(f) {
			return avm.Undefined, err
		}
		if d := m.displayOf(this); d != nil {
			set(d, f)
		}
		return avm.Undefined, nil
	})
}

func (m *Machine) setScaleRotation(d display.Object, fn func(sx, sy, rot *float64)) {
	mat := d.Matrix()
	sx, sy, rot := display.ScaleRotation(mat)
	fn(&sx, &sy, &rot)
	d.SetMatrix(display.WithScaleRotation(mat, sx, sy, rot))
}

func (m *Machine) installDisplay() {
	dispatcher, _ := m.Domain.ClassByName("flash.events::EventDispatcher")

	obj, def := m.nativeClass("flash.display::DisplayObject", dispatcher, avm.ClassSealed)
	def.ctor = m.displayCtor(display.KindShape)
	m.displayProp(obj, "x",
		func(d display.Object) float64 { return float64(d.Matrix().TranslateX) / 20 },
		func(d display.Object, f float64) {
			mat := d.Matrix()
			mat.TranslateX = int32(math.Round(f * 20))
			d.SetMatrix(mat)
		})
	m.displayProp(obj, "y",
		func(d display.Object) float64 { return float64(d.Matrix().TranslateY) / 20 },
		func(d display.Object, f float64) {
			mat := d.Matrix()
			mat.TranslateY = int32(math.Round(f * 20))
			d.SetMatrix(mat)
		})
	m.displayProp(obj, "scaleX",
		func(d display.Object) float64 { sx, _, _ := display.ScaleRotation(d.Matrix()); return sx },
		func(d display.Object, f float64) { m.setScaleRotation(d, func(sx, _, _ *float64) { *sx = f }) })
	m.displayProp(obj, "scaleY",
		func(d display.Object) float64 { _, sy, _ := display.ScaleRotation(d.Matrix()); return sy },
		func(d display.Object, f float64) { m.setScaleRotation(d, func(_, sy, _ *float64) { *sy = f }) })
	m.displayProp(obj, "rotation",
		func(d display.Object) float64 {
			_, _, rot := display.ScaleRotation(d.Matrix())
			return rot * 180 / math.Pi
		},
		func(d display.Object, f float64) {
			m.setScaleRotation(d, func(_, _, rot *float64) { *rot = f * math.Pi / 180 })
		})
	m.displayProp(obj, "alpha",
		func(d display.Object) float64 { return float64(d.ColorTransform().AlphaMult) / 256 },
		func(d display.Object, f float64) {
			cx := d.ColorTransform()
			cx.AlphaMult = int16(math.Round(max(-128, min(f, 127)) * 256))
			d.SetColorTransform(cx)
		})
	m.accessor(obj, "visible", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		d := m.displayOf(this)
		return avm.Bool(d != nil && d.Visible()), nil
	}, func(this avm.Value, args []avm.Value) (avm.Value, error) {
		if d := m.displayOf(this); d != nil {
			d.SetVisible(m.toBoolean(argAt(args, 0)))
		}
		return avm.Undefined, nil
	})
	m.accessor(obj, "name", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		if d := m.displayOf(this); d != nil {
			return m.str(d.Name()), nil
		}
		return avm.Null, nil
	}, func(this avm.Value, args []avm.Value) (avm.Value, error) {
		s, err := m.toString(argAt(args, 0))
		if d := m.displayOf(this); d != nil && err == nil {
			d.SetName(s)
		}
		return avm.Undefined, err
	})
	m.accessor(obj, "parent", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		d := m.displayOf(this)
		if d == nil || d.Parent() == nil {
			return avm.Null, nil
		}
		return m.Bind(d.Parent())
	}, nil)
	m.accessor(obj, "root", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		d := m.displayOf(this)
		if d == nil || m.Root == nil {
			return avm.Null, nil
		}
		anc := display.Ancestors(d)
		if (len(anc) > 0 && anc[len(anc)-1] == m.Root) || d == display.Object(m.Root) {
			return m.Bind(m.Root)
		}
		return avm.Null, nil
	}, nil)
	for _, name := range []string{"width", "height", "mouseX", "mouseY"} {
		m.accessor(obj, name, func(this avm.Value, args []avm.Value) (avm.Value, error) {
			return avm.Number(0), nil
		}, nil)
	}
	m.DisplayObjectClass = m.finish(obj)

	interactive, def := m.nativeClass("flash.display::InteractiveObject", obj, avm.ClassSealed)
	def.ctor = m.displayCtor(display.KindSprite)
	m.finish(interactive)

	container, def := m.nativeClass("flash.display::DisplayObjectContainer", interactive, avm.ClassSealed)
	def.ctor = m.displayCtor(display.KindSprite)
	m.installContainer(container)
	m.finish(container)

	sprite, def := m.nativeClass("flash.display::Sprite", container, avm.ClassSealed)
	def.ctor = m.displayCtor(display.KindSprite)
	m.finish(sprite)

	clip, def := m.nativeClass("flash.display::MovieClip", sprite, 0)
	def.ctor = m.displayCtor(display.KindSprite)
	m.installMovieClip(clip)
	m.finish(clip)

	shape, def := m.nativeClass("flash.display::Shape", obj, avm.ClassSealed)
	def.ctor = m.displayCtor(display.KindShape)
	m.finish(shape)

	bitmap, def := m.nativeClass("flash.display::Bitmap", obj, avm.ClassSealed)
	def.ctor = m.displayCtor(display.KindBitmap)
	m.finish(bitmap)

	text, def := m.nativeClass("flash.text::TextField", interactive, avm.ClassSealed)
	def.ctor = m.displayCtor(display.KindText)
	textProp := func(this avm.Value, args []avm.Value) (avm.Value, error) {
		if t, ok := m.displayOf(this).(*display.Text); ok {
			return m.str(t.Text()), nil
		}
		return m.str(""), nil
	}
	setText := func(this avm.Value, args []avm.Value) (avm.Value, error) {
		s, err := m.toString(argAt(args, 0))
		if t, ok := m.displayOf(this).(*display.Text); ok && err == nil {
			t.SetText(s)
		}
		return avm.Undefined, err
	}
	m.accessor(text, "text", textProp, setText)
	m.accessor(text, "htmlText", textProp, setText)
	m.method(text, "appendText", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		s, err := m.toString(argAt(args, 0))
		if t, ok := m.displayOf(this).(*display.Text); ok && err == nil {
			t.SetText(t.Text() + s)
		}
		return avm.Undefined, err
	})
	m.finish(text)
}

// childArg returns the display object of a child argument.
func (m *Machine) childArg(v avm.Value) (display.Object, error) {
	d := m.displayOf(v)
	if d == nil {
		return nil, avm.Errorf(avm.ErrTypeCoercion, "parameter child must be a DisplayObject, got %s", m.describe(v))
	}
	return d, nil
}

func (m *Machine) childIndex(v avm.Value, upper int) (int, error) {
	f, err := m.toNumber(v)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > float64(upper) || f != math.Trunc(f) {
		return 0, avm.Errorf(ErrRange, "the supplied index %s is out of bounds", avm.NumberToString(f))
	}
	return int(f), nil
}

// insertAt places d at child index i by shifting the depths of the
// children at and above i up by one.
func (m *Machine) insertAt(sp *display.Sprite, d display.Object, i int) error {
	if d.Parent() == sp {
		sp.RemoveChild(d, &m.changes)
		i = min(i, sp.NumChildren())
	}
	if i >= sp.NumChildren() {
		return sp.AddChild(d, sp.NextHighestDepth(), &m.changes)
	}
	depth := sp.ChildAt(i).Depth()
	for k := sp.NumChildren() - 1; k >= i; k-- {
		c := sp.ChildAt(k)
		sp.SwapDepths(c, c.Depth()+1)
	}
	return sp.AddChild(d, depth, &m.changes)
}

func (m *Machine) installContainer(c *avm.Class) {
	container := func(fn func(sp *display.Sprite, args []avm.Value) (avm.Value, error)) avm.NativeFn {
		return func(this avm.Value, args []avm.Value) (avm.Value, error) {
			sp := m.spriteOf(this)
			if sp == nil {
				return avm.Undefined, avm.Errorf(avm.ErrTypeCoercion, "%s is not a display container", m.describe(this))
			}
			return fn(sp, args)
		}
	}
	m.accessor(c, "numChildren", container(func(sp *display.Sprite, _ []avm.Value) (avm.Value, error) {
		return avm.Int(sp.NumChildren()), nil
	}), nil)
	m.method(c, "addChild", container(func(sp *display.Sprite, args []avm.Value) (avm.Value, error) {
		d, err := m.childArg(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		if err := m.insertAt(sp, d, sp.NumChildren()); err != nil {
			return avm.Undefined, avm.Errorf(ErrArgumentCount, "%v", err)
		}
		return args[0], nil
	}))
	m.method(c, "addChildAt", container(func(sp *display.Sprite, args []avm.Value) (avm.Value, error) {
		d, err := m.childArg(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		i, err := m.childIndex(argAt(args, 1), sp.NumChildren())
		if err != nil {
			return avm.Undefined, err
		}
		if err := m.insertAt(sp, d, i); err != nil {
			return avm.Undefined, avm.Errorf(ErrArgumentCount, "%v", err)
		}
		return args[0], nil
	}))
	m.method(c, "removeChild", container(func(sp *display.Sprite, args []avm.Value) (avm.Value, error) {
		d, err := m.childArg(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		if !sp.RemoveChild(d, &m.changes) {
			return avm.Undefined, avm.Errorf(ErrArgumentCount, "the supplied DisplayObject must be a child of the caller")
		}
		return args[0], nil
	}))
	m.method(c, "removeChildAt", container(func(sp *display.Sprite, args []avm.Value) (avm.Value, error) {
		i, err := m.childIndex(argAt(args, 0), sp.NumChildren()-1)
		if err != nil {
			return avm.Undefined, err
		}
		d := sp.ChildAt(i)
		sp.RemoveChild(d, &m.changes)
		return m.Bind(d)
	}))
	m.method(c, "getChildAt", container(func(sp *display.Sprite, args []avm.Value) (avm.Value, error) {
		i, err := m.childIndex(argAt(args, 0), sp.NumChildren()-1)
		if err != nil {
			return avm.Undefined, err
		}
		return m.Bind(sp.ChildAt(i))
	}))
	m.method(c, "getChildByName", container(func(sp *display.Sprite, args []avm.Value) (avm.Value, error) {
		name, err := m.toString(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		return m.bindOrNull(sp.ChildByName(name))
	}))
	m.method(c, "getChildIndex", container(func(sp *display.Sprite, args []avm.Value) (avm.Value, error) {
		d, err := m.childArg(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		i := sp.IndexOf(d)
		if i < 0 {
			return avm.Undefined, avm.Errorf(ErrArgumentCount, "the supplied DisplayObject must be a child of the caller")
		}
		return avm.Int(i), nil
	}))
	m.method(c, "setChildIndex", container(func(sp *display.Sprite, args []avm.Value) (avm.Value, error) {
		d, err := m.childArg(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		if sp.IndexOf(d) < 0 {
			return avm.Undefined, avm.Errorf(ErrArgumentCount, "the supplied DisplayObject must be a child of the caller")
		}
		i, err := m.childIndex(argAt(args, 1), sp.NumChildren()-1)
		if err != nil {
			return avm.Undefined, err
		}
		return avm.Undefined, m.insertAt(sp, d, i)
	}))
	m.method(c, "contains", container(func(sp *display.Sprite, args []avm.Value) (avm.Value, error) {
		d := m.displayOf(argAt(args, 0))
		if d == nil {
			return avm.False, nil
		}
		if d == display.Object(sp) {
			return avm.True, nil
		}
		for _, p := range display.Ancestors(d) {
			if p == sp {
				return avm.True, nil
			}
		}
		return avm.False, nil
	}))
}

func (m *Machine) installMovieClip(c *avm.Class) {
	clip := func(fn func(sp *display.Sprite, args []avm.Value) (avm.Value, error)) avm.NativeFn {
		return func(this avm.Value, args []avm.Value) (avm.Value, error) {
			sp := m.spriteOf(this)
			if sp == nil {
				return avm.Undefined, nil
			}
			return fn(sp, args)
		}
	}
	m.method(c, "play", clip(func(sp *display.Sprite, _ []avm.Value) (avm.Value, error) {
		sp.Timeline().Play()
		return avm.Undefined, nil
	}))
	m.method(c, "stop", clip(func(sp *display.Sprite, _ []avm.Value) (avm.Value, error) {
		sp.Timeline().Stop()
		return avm.Undefined, nil
	}))
	gotoFrame := func(play bool) avm.NativeFn {
		return clip(func(sp *display.Sprite, args []avm.Value) (avm.Value, error) {
			if err := m.gotoFrame(sp, argAt(args, 0)); err != nil {
				return avm.Undefined, err
			}
			if play {
				sp.Timeline().Play()
			} else {
				sp.Timeline().Stop()
			}
			return avm.Undefined, nil
		})
	}
	m.method(c, "gotoAndPlay", gotoFrame(true))
	m.method(c, "gotoAndStop", gotoFrame(false))
	step := func(delta int) avm.NativeFn {
		return clip(func(sp *display.Sprite, _ []avm.Value) (avm.Value, error) {
			sp.Goto(sp.Timeline().CurrentFrame()+delta, &m.changes)
			sp.Timeline().Stop()
			return avm.Undefined, nil
		})
	}
	m.method(c, "nextFrame", step(1))
	m.method(c, "prevFrame", step(-1))
	m.accessor(c, "currentFrame", clip(func(sp *display.Sprite, _ []avm.Value) (avm.Value, error) {
		return avm.Int(max(sp.Timeline().CurrentFrame(), 1)), nil
	}), nil)
	m.accessor(c, "totalFrames", clip(func(sp *display.Sprite, _ []avm.Value) (avm.Value, error) {
		return avm.Int(sp.Timeline().FrameCount()), nil
	}), nil)
	m.accessor(c, "framesLoaded", clip(func(sp *display.Sprite, _ []avm.Value) (avm.Value, error) {
		return avm.Int(sp.Timeline().FrameCount()), nil
	}), nil)
	m.accessor(c, "currentLabel", clip(func(sp *display.Sprite, _ []avm.Value) (avm.Value, error) {
		tl := sp.Timeline()
		for f := tl.CurrentFrame(); f >= 1; f-- {
			if l := tl.LabelOf(f); l != "" {
				return m.str(l), nil
			}
		}
		return avm.Null, nil
	}), nil)
	m.accessor(c, "isPlaying", clip(func(sp *display.Sprite, _ []avm.Value) (avm.Value, error) {
		return avm.Bool(sp.Timeline().IsPlaying()), nil
	}), nil)
	m.method(c, "addFrameScript", clip(func(sp *display.Sprite, args []avm.Value) (avm.Value, error) {
		for i := 0; i+1 < len(args); i += 2 {
			f, err := m.toNumber(args[i])
			if err != nil {
				return avm.Undefined, err
			}
			sp.SetFrameScript(int(f)+1, args[i+1])
		}
		return avm.Undefined, nil
	}))
}

// gotoFrame seeks to a frame number or label. An unknown label is an
// ArgumentError.
func (m *Machine) gotoFrame(sp *display.Sprite, frame avm.Value) error {
	if frame.IsString() {
		label, _ := m.Heap.StringOf(frame)
		if !sp.GotoLabel(label, &m.changes) {
			return avm.Errorf(ErrArgumentCount, "frame label %s not found in scene", label)
		}
		return nil
	}
	f, err := m.toNumber(frame)
	if err != nil {
		return err
	}
	if math.IsNaN(f) {
		return avm.Errorf(ErrArgumentCount, "frame %s not found", avm.NumberToString(f))
	}
	sp.Goto(int(f), &m.changes)
	return nil
}

// ---------------------------------------------------------------------------
// Timer
// ---------------------------------------------------------------------------

// timerState is the native payload of Timer instances.
type timerState struct {
	id      int
	delay   float64
	repeat  int
	count   int
	running bool
	tick    avm.Value
}

func (t *timerState) Trace(mk *avm.Marker) { mk.Mark(t.tick) }

func (m *Machine) timerOf(v avm.Value) (*timerState, error) {
	o := m.Heap.Deref(v)
	if o != nil {
		if t, ok := o.Native.(*timerState); ok {
			return t, nil
		}
	}
	return nil, avm.Errorf(avm.ErrTypeCoercion, "%s is not a Timer", m.describe(v))
}

func (m *Machine) installTimer() {
	dispatcher, _ := m.Domain.ClassByName("flash.events::EventDispatcher")
	timer, def := m.nativeClass("flash.utils::Timer", dispatcher, avm.ClassSealed)
	def.alloc = func(o *avm.Object) { o.Native = &timerState{tick: avm.Undefined} }
	def.ctor = func(this avm.Value, args []avm.Value) (avm.Value, error) {
		t, err := m.timerOf(this)
		if err != nil {
			return avm.Undefined, err
		}
		delay, err := m.toNumber(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		if delay < 0 || math.IsNaN(delay) || math.IsInf(delay, 0) {
			return avm.Undefined, avm.Errorf(ErrRange, "timer delay %s out of range", avm.NumberToString(delay))
		}
		repeat, _ := m.argNumber(args, 1, 0)
		t.delay, t.repeat = delay, int(repeat)
		t.tick = m.native("tick", func(_ avm.Value, _ []avm.Value) (avm.Value, error) {
			return avm.Undefined, m.timerTick(this, t)
		})
		return avm.Undefined, nil
	}
	timerProp := func(get func(t *timerState) avm.Value) avm.NativeFn {
		return func(this avm.Value, args []avm.Value) (avm.Value, error) {
			t, err := m.timerOf(this)
			if err != nil {
				return avm.Undefined, err
			}
			return get(t), nil
		}
	}
	m.accessor(timer, "delay", timerProp(func(t *timerState) avm.Value { return avm.Number(t.delay) }),
		func(this avm.Value, args []avm.Value) (avm.Value, error) {
			t, err := m.timerOf(this)
			if err != nil {
				return avm.Undefined, err
			}
			if t.delay, err = m.toNumber(argAt(args, 0)); err != nil {
				return avm.Undefined, err
			}
			if t.running {
				m.Host.ClearTimer(t.id)
				t.id = m.Host.SetTimer(t.tick, this, nil, t.delay, true)
			}
			return avm.Undefined, nil
		})
	m.accessor(timer, "repeatCount", timerProp(func(t *timerState) avm.Value { return avm.Int(t.repeat) }),
		func(this avm.Value, args []avm.Value) (avm.Value, error) {
			t, err := m.timerOf(this)
			if err != nil {
				return avm.Undefined, err
			}
			n, err := m.toNumber(argAt(args, 0))
			t.repeat = int(n)
			return avm.Undefined, err
		})
	m.accessor(timer, "currentCount", timerProp(func(t *timerState) avm.Value { return avm.Int(t.count) }), nil)
	m.accessor(timer, "running", timerProp(func(t *timerState) avm.Value { return avm.Bool(t.running) }), nil)
	m.method(timer, "start", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		t, err := m.timerOf(this)
		if err != nil || t.running {
			return avm.Undefined, err
		}
		t.running = true
		t.id = m.Host.SetTimer(t.tick, this, nil, t.delay, true)
		return avm.Undefined, nil
	})
	m.method(timer, "stop", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		t, err := m.timerOf(this)
		if err == nil {
			m.stopTimer(t)
		}
		return avm.Undefined, err
	})
	m.method(timer, "reset", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		t, err := m.timerOf(this)
		if err == nil {
			m.stopTimer(t)
			t.count = 0
		}
		return avm.Undefined, err
	})
	m.finish(timer)
}

func (m *Machine) stopTimer(t *timerState) {
	if t.running {
		m.Host.ClearTimer(t.id)
		t.running = false
	}
}

// timerTick runs when the host fires a Timer: it counts the tick,
// dispatches timer and, at the repeat count, stops and dispatches
// timerComplete.
func (m *Machine) timerTick(this avm.Value, t *timerState) error {
	if !t.running {
		return nil
	}
	t.count++
	done := t.repeat > 0 && t.count >= t.repeat
	if done {
		m.stopTimer(t)
	}
	ev, err := m.newEvent(EventTimer, nil)
	if err != nil {
		return err
	}
	if err := m.dispatch(this, ev); err != nil {
		return err
	}
	if !done {
		return nil
	}
	if ev, err = m.newEvent(EventTimerComplete, nil); err != nil {
		return err
	}
	return m.dispatch(this, ev)
}

// ---------------------------------------------------------------------------
// flash.utils, flash.net and flash.external
// ---------------------------------------------------------------------------

func (m *Machine) installUtils() {
	m.function("flash.utils::getTimer", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		return avm.Int(int(time.Since(m.start).Milliseconds())), nil
	})
	schedule := func(repeat bool) avm.NativeFn {
		return func(this avm.Value, args []avm.Value) (avm.Value, error) {
			fn := argAt(args, 0)
			if _, ok := m.callable(fn); !ok {
				return avm.Undefined, avm.Errorf(avm.ErrTypeCoercion, "closure is not a function")
			}
			delay, err := m.argNumber(args, 1, 0)
			if err != nil {
				return avm.Undefined, err
			}
			var rest []avm.Value
			if len(args) > 2 {
				rest = args[2:]
			}
			return avm.Int(m.Host.SetTimer(fn, avm.Null, rest, delay, repeat)), nil
		}
	}
	cancel := func(this avm.Value, args []avm.Value) (avm.Value, error) {
		id, err := m.toNumber(argAt(args, 0))
		if err == nil {
			m.Host.ClearTimer(int(id))
		}
		return avm.Undefined, err
	}
	m.function("flash.utils::setTimeout", schedule(false))
	m.function("flash.utils::setInterval", schedule(true))
	m.function("flash.utils::clearTimeout", cancel)
	m.function("flash.utils::clearInterval", cancel)
	m.function("flash.utils::getQualifiedClassName", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		v := argAt(args, 0)
		if o := m.Heap.Deref(v); o != nil {
			if c := classOfObject(o); c != nil {
				return m.str(c.Name), nil
			}
		}
		switch c := m.classOfValue(v); {
		case v.IsUndefined():
			return m.str("void"), nil
		case c == nil:
			return m.str("null"), nil
		case c == m.NumberClass && m.isType(v, m.IntClass):
			return m.str("int"), nil
		default:
			return m.str(c.Name), nil
		}
	})

	req, _ := m.nativeClass("flash.net::URLRequest", m.ObjectClass, avm.ClassSealed)
	req.AddTrait(&avm.Trait{Local: "url", Kind: avm.TraitSlot, TypeName: "String", Default: avm.Null, Value: avm.Undefined})
	req.AddTrait(&avm.Trait{Local: "method", Kind: avm.TraitSlot, TypeName: "String", Default: m.str("GET"), Value: avm.Undefined})
	defOf(req).ctor = func(this avm.Value, args []avm.Value) (avm.Value, error) {
		if v := argAt(args, 0); !v.IsNullish() {
			s, err := m.toString(v)
			if err != nil {
				return avm.Undefined, err
			}
			setField(m.Heap.Deref(this), "url", m.str(s))
		}
		return avm.Undefined, nil
	}
	m.finish(req)
	m.function("flash.net::navigateToURL", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		r := m.Heap.Deref(argAt(args, 0))
		if r == nil || r.Class != req {
			return avm.Undefined, avm.Errorf(avm.ErrTypeCoercion, "navigateToURL expects a URLRequest")
		}
		url, err := m.toString(m.Heap.Get(r, "url"))
		if err != nil {
			return avm.Undefined, err
		}
		window, err := m.argString(args, 1, "_blank")
		if err != nil {
			return avm.Undefined, err
		}
		if argAt(args, 1).IsNull() {
			window = "_blank"
		}
		m.Host.Navigate(url, window)
		return avm.Undefined, nil
	})

	ext, _ := m.nativeClass("flash.external::ExternalInterface", m.ObjectClass, avm.ClassFinal|avm.ClassSealed)
	m.constant(ext, "available", avm.True)
	m.constant(ext, "objectID", avm.Null)
	m.staticMethod(ext, "call", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		name, err := m.toString(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		var rest []avm.Value
		if len(args) > 1 {
			rest = args[1:]
		}
		return m.Host.CallHost(name, rest)
	})
	m.staticMethod(ext, "addCallback", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		name, err := m.toString(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		fn := argAt(args, 1)
		if _, ok := m.callable(fn); !ok && !fn.IsNull() {
			return avm.Undefined, avm.Errorf(avm.ErrTypeCoercion, "callback %s is not a function", name)
		}
		m.Host.Expose(name, avm.Null, fn)
		return avm.Undefined, nil
	})
	m.finish(ext)
}
