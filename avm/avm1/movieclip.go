package avm1

import (
	"math"

	"github.com/chazu/swfvm/avm"
	"github.com/chazu/swfvm/display"
)

const (
	// maxClipDepth is the highest script depth a clip may be attached at.
	maxClipDepth = 2130706428
	// maxRemoveDepth bounds the display depths removeMovieClip accepts.
	maxRemoveDepth = 2130706416
)

// installClip builds the MovieClip and TextField prototypes.
func (m *Machine) installClip() {
	h := m.Heap
	m.ClipProto = h.NewObject(m.ObjectProto.Value())
	m.TextProto = h.NewObject(m.ObjectProto.Value())
	p := m.ClipProto
	m.class("MovieClip", p, func(this avm.Value, args []avm.Value) (avm.Value, error) {
		return this, nil
	})
	m.class("TextField", m.TextProto, func(this avm.Value, args []avm.Value) (avm.Value, error) {
		return this, nil
	})

	clip := func(fn func(sp *display.Sprite, args []avm.Value) (avm.Value, error)) avm.NativeFn {
		return func(this avm.Value, args []avm.Value) (avm.Value, error) {
			sp := m.spriteOf(this)
			if sp == nil {
				return avm.Undefined, nil
			}
			return fn(sp, args)
		}
	}
	timeline := func(op Op) avm.NativeFn {
		return clip(func(sp *display.Sprite, _ []avm.Value) (avm.Value, error) {
			m.timelineAction(sp, op)
			return avm.Undefined, nil
		})
	}
	seek := func(play bool) avm.NativeFn {
		return clip(func(sp *display.Sprite, args []avm.Value) (avm.Value, error) {
			return avm.Undefined, m.gotoClip(sp, argAt(args, 0), play)
		})
	}
	m.method(p, "play", timeline(OpPlay))
	m.method(p, "stop", timeline(OpStop))
	m.method(p, "nextFrame", timeline(OpNextFrame))
	m.method(p, "prevFrame", timeline(OpPrevFrame))
	m.method(p, "gotoAndPlay", seek(true))
	m.method(p, "gotoAndStop", seek(false))

	m.method(p, "getDepth", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		d := m.displayOf(this)
		if d == nil {
			return avm.Undefined, nil
		}
		return avm.Number(float64(d.Depth() - display.DepthBias)), nil
	})
	m.method(p, "getNextHighestDepth", clip(func(sp *display.Sprite, _ []avm.Value) (avm.Value, error) {
		if m.Version < 7 {
			return avm.Undefined, nil
		}
		return avm.Number(float64(max(sp.NextHighestDepth()-display.DepthBias, 0))), nil
	}))
	m.method(p, "getInstanceAtDepth", clip(func(sp *display.Sprite, args []avm.Value) (avm.Value, error) {
		depth, err := m.toInt32(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		if c := sp.ChildAtDepth(clipDepth(depth)); c != nil {
			return m.Bind(c), nil
		}
		return avm.Undefined, nil
	}))
	m.method(p, "removeMovieClip", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		if d := m.displayOf(this); d != nil {
			m.removeClip(d)
		}
		return avm.Undefined, nil
	})
	m.method(p, "createEmptyMovieClip", clip(func(sp *display.Sprite, args []avm.Value) (avm.Value, error) {
		name, err := m.toString(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		depth, err := m.toInt32(argAt(args, 1))
		if err != nil {
			return avm.Undefined, err
		}
		child := sp.Library().NewEmptySprite()
		child.SetName(name)
		if err := sp.AddChild(child, clipDepth(depth), &m.changes); err != nil {
			return avm.Undefined, nil
		}
		return m.Bind(child), nil
	}))
	m.method(p, "createTextField", clip(func(sp *display.Sprite, args []avm.Value) (avm.Value, error) {
		name, err := m.toString(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		depth, _ := m.toInt32(argAt(args, 1))
		x, _ := m.toNumber(argAt(args, 2))
		y, _ := m.toNumber(argAt(args, 3))
		t := sp.Library().NewText()
		t.SetName(name)
		mat := t.Matrix()
		if !math.IsNaN(x) && !math.IsNaN(y) {
			mat.TranslateX, mat.TranslateY = int32(x*20), int32(y*20)
		}
		t.SetMatrix(mat)
		if err := sp.AddChild(t, clipDepth(depth), &m.changes); err != nil {
			return avm.Undefined, nil
		}
		return m.Bind(t), nil
	}))
	m.method(p, "attachMovie", clip(func(sp *display.Sprite, args []avm.Value) (avm.Value, error) {
		export, err := m.toString(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		name, err := m.toString(argAt(args, 1))
		if err != nil {
			return avm.Undefined, err
		}
		depth, err := m.toNumber(argAt(args, 2))
		if err != nil || math.IsNaN(depth) || depth < 0 || depth > maxClipDepth {
			return avm.Undefined, err
		}
		id, ok := sp.Library().Export(export)
		if !ok {
			logger().Debugf("attachMovie: no export named %q", export)
			return avm.Undefined, nil
		}
		child, err := sp.Library().Instantiate(id)
		if err != nil {
			logger().Debugf("attachMovie: %v", err)
			return avm.Undefined, nil
		}
		child.SetName(name)
		if err := sp.AddChild(child, clipDepth(int32(depth)), &m.changes); err != nil {
			return avm.Undefined, nil
		}
		return m.initClip(child, export, argAt(args, 3))
	}))
	m.method(p, "duplicateMovieClip", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		d := m.displayOf(this)
		if d == nil {
			return avm.Undefined, nil
		}
		name, err := m.toString(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		depth, err := m.toInt32(argAt(args, 1))
		if err != nil {
			return avm.Undefined, err
		}
		v := m.duplicate(d, name, depth)
		if init := m.Heap.Deref(argAt(args, 2)); init != nil && v.IsObject() {
			m.copyProps(v, init)
		}
		return v, nil
	})
	m.method(p, "swapDepths", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		d := m.displayOf(this)
		if d == nil || d.Parent() == nil {
			return avm.Undefined, nil
		}
		target := argAt(args, 0)
		if other := m.displayOf(target); other != nil {
			if other.Parent() == d.Parent() {
				d.Parent().SwapDepths(d, other.Depth())
			}
			return avm.Undefined, nil
		}
		depth, err := m.toNumber(target)
		if err != nil || math.IsNaN(depth) {
			return avm.Undefined, err
		}
		d.Parent().SwapDepths(d, clipDepth(int32(depth)))
		return avm.Undefined, nil
	})
	m.method(p, "getURL", func(this avm.Value, args []avm.Value) (avm.Value, error) {
		url, err := m.toString(argAt(args, 0))
		if err != nil {
			return avm.Undefined, err
		}
		window, _ := m.toString(argAt(args, 1))
		m.Host.Navigate(url, window)
		return avm.Undefined, nil
	})
	// Every character is resident once the movie has loaded.
	loaded := func(this avm.Value, args []avm.Value) (avm.Value, error) {
		return avm.Number(0), nil
	}
	m.method(p, "getBytesLoaded", loaded)
	m.method(p, "getBytesTotal", loaded)
}

// gotoClip seeks sp to a frame number or label, then plays or stops it.
func (m *Machine) gotoClip(sp *display.Sprite, frame avm.Value, play bool) error {
	if frame.IsString() {
		s, _ := m.Heap.StringOf(frame)
		if n := avm.ParseNumber(s, false); !math.IsNaN(n) {
			sp.Goto(int(n), &m.changes)
		} else if !sp.GotoLabel(s, &m.changes) {
			return nil
		}
	} else {
		n, err := m.toNumber(frame)
		if err != nil || math.IsNaN(n) {
			return err
		}
		sp.Goto(int(n), &m.changes)
	}
	m.setPlaying(sp, play)
	return nil
}

// initClip binds a freshly attached clip, applying a class registered
// for its export name and copying an init object's properties.
func (m *Machine) initClip(d display.Object, export string, init avm.Value) (avm.Value, error) {
	v := m.Bind(d)
	o := m.Heap.Deref(v)
	var ctor avm.Value
	if r := m.registry(false); r != nil {
		ctor = m.Heap.Get(r, export)
		if proto := m.Heap.Get(m.Heap.Deref(ctor), "prototype"); proto.IsObject() {
			o.Proto = proto
		}
	}
	if src := m.Heap.Deref(init); src != nil {
		m.copyProps(v, src)
	}
	if ctor.IsObject() {
		if _, err := m.call(ctor, v, nil); err != nil {
			return avm.Undefined, err
		}
	}
	return v, nil
}

func (m *Machine) copyProps(dst avm.Value, src *avm.Object) {
	for _, k := range m.Heap.Enumerate(src) {
		if err := m.setMember(dst, k, m.Heap.Get(src, k)); err != nil {
			logger().Debugf("init property %s: %v", k, err)
		}
	}
}

// duplicate clones a clip next to the original at a script depth. The
// copy shares the character and transform but not dynamic properties.
func (m *Machine) duplicate(d display.Object, name string, depth int32) avm.Value {
	parent := d.Parent()
	if parent == nil || depth < -display.DepthBias || depth > maxClipDepth {
		return avm.Undefined
	}
	lib := parent.Library()
	var clone display.Object
	if d.Character() == 0 {
		clone = lib.NewEmptySprite()
	} else {
		var err error
		if clone, err = lib.Instantiate(d.Character()); err != nil {
			logger().Debugf("duplicate %s: %v", d.Name(), err)
			return avm.Undefined
		}
	}
	clone.SetName(name)
	clone.SetMatrix(d.Matrix())
	clone.SetColorTransform(d.ColorTransform())
	clone.SetVisible(d.Visible())
	if err := parent.AddChild(clone, clipDepth(depth), &m.changes); err != nil {
		return avm.Undefined
	}
	return m.Bind(clone)
}

// removeClip removes a script-depth clip. Clips placed by the timeline
// at negative depths are left alone.
func (m *Machine) removeClip(d display.Object) {
	parent := d.Parent()
	if parent == nil || d.Depth() < display.DepthBias || d.Depth() >= maxRemoveDepth {
		return
	}
	parent.RemoveChild(d, &m.changes)
}
