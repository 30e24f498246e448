package avm1

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chazu/swfvm/avm"
	"github.com/chazu/swfvm/display"
)

// ---------------------------------------------------------------------------
// Member access
// ---------------------------------------------------------------------------

// getMember reads obj[name]. Primitives read through their prototype;
// arrays expose length and indices; clips expose display properties and
// named children.
func (m *Machine) getMember(obj avm.Value, name string) (avm.Value, error) {
	switch obj.Type() {
	case avm.TypeUndefined, avm.TypeNull:
		return avm.Undefined, nil
	case avm.TypeString:
		if name == "length" {
			s, _ := m.Heap.StringOf(obj)
			return avm.Number(float64(utf8.RuneCountInString(s))), nil
		}
		return m.Heap.Get(m.StringProto, name), nil
	case avm.TypeNumber:
		return m.Heap.Get(m.NumberProto, name), nil
	case avm.TypeBoolean:
		return m.Heap.Get(m.BooleanProto, name), nil
	}
	o := m.Heap.Deref(obj)
	if o == nil {
		return avm.Undefined, nil
	}
	if a, ok := avm.ArrayOf(o); ok {
		if name == "length" {
			return avm.Number(float64(len(a.Elems))), nil
		}
		if i, ok := arrayIndex(name); ok {
			if i < len(a.Elems) {
				return a.Elems[i], nil
			}
			return avm.Undefined, nil
		}
	}
	if name == "__proto__" {
		return o.Proto, nil
	}
	if d, ok := o.Display.(display.Object); ok {
		if _, own := o.Own(name); !own {
			if v, ok := m.displayGet(d, name); ok {
				return v, nil
			}
		}
	}
	return m.Heap.Get(o, name), nil
}

func (m *Machine) setMember(obj avm.Value, name string, v avm.Value) error {
	o := m.Heap.Deref(obj)
	if o == nil {
		return nil
	}
	if a, ok := avm.ArrayOf(o); ok {
		if name == "length" {
			n, err := m.toNumber(v)
			if err != nil {
				return err
			}
			a.Elems = resize(a.Elems, int(avm.ToUint32(n)))
			return nil
		}
		if i, ok := arrayIndex(name); ok {
			if i >= len(a.Elems) {
				a.Elems = resize(a.Elems, i+1)
			}
			a.Elems[i] = v
			return nil
		}
	}
	if name == "__proto__" {
		o.Proto = v
		return nil
	}
	if d, ok := o.Display.(display.Object); ok {
		if handled, err := m.displaySet(d, name, v); handled || err != nil {
			return err
		}
	}
	return m.Heap.Set(o, name, v)
}

// hasMember reports whether name resolves on obj, including virtual
// display properties.
func (m *Machine) hasMember(obj avm.Value, name string) bool {
	o := m.Heap.Deref(obj)
	if o == nil {
		return false
	}
	if m.Heap.Has(o, name) {
		return true
	}
	if d, ok := o.Display.(display.Object); ok {
		_, ok := m.displayGet(d, name)
		return ok
	}
	if a, ok := avm.ArrayOf(o); ok {
		i, isIndex := arrayIndex(name)
		return name == "length" || isIndex && i < len(a.Elems)
	}
	return false
}

func arrayIndex(name string) (int, bool) {
	if name == "" || len(name) > 1 && name[0] == '0' {
		return 0, false
	}
	i, err := strconv.Atoi(name)
	return i, err == nil && i >= 0
}

func resize(elems []avm.Value, n int) []avm.Value {
	if n <= len(elems) {
		return elems[:n]
	}
	for len(elems) < n {
		elems = append(elems, avm.Undefined)
	}
	return elems
}

// ---------------------------------------------------------------------------
// Display properties
// ---------------------------------------------------------------------------

func (m *Machine) displayGet(d display.Object, name string) (avm.Value, bool) {
	sp, isSprite := d.(*display.Sprite)
	if isSprite {
		if c := sp.ChildByName(name); c != nil {
			return m.Bind(c), true
		}
	}
	if t, ok := d.(*display.Text); ok && (name == "text" || name == "htmlText") {
		return m.str(t.Text()), true
	}
	mat := d.Matrix()
	switch strings.ToLower(name) {
	case "_x":
		return avm.Number(float64(mat.TranslateX) / 20), true
	case "_y":
		return avm.Number(float64(mat.TranslateY) / 20), true
	case "_xscale", "_yscale", "_rotation":
		sx, sy, rot := display.ScaleRotation(mat)
		switch strings.ToLower(name) {
		case "_xscale":
			return avm.Number(sx * 100), true
		case "_yscale":
			return avm.Number(sy * 100), true
		}
		return avm.Number(rot * 180 / math.Pi), true
	case "_alpha":
		return avm.Number(float64(d.ColorTransform().AlphaMult) / 256 * 100), true
	case "_visible":
		return avm.Bool(d.Visible()), true
	case "_name":
		return m.str(d.Name()), true
	case "_target":
		return m.str(display.Path(d)), true
	case "_parent":
		if p := d.Parent(); p != nil {
			return m.Bind(p), true
		}
		return avm.Undefined, true
	case "_root", "_level0":
		return m.Bind(m.Root), true
	case "_global":
		return m.Global.Value(), true
	case "_url":
		return m.str(""), true
	case "_width", "_height", "_xmouse", "_ymouse", "_droptarget":
		return avm.Number(0), true
	case "_highquality", "_quality", "_focusrect", "_soundbuftime":
		return avm.Undefined, true
	}
	if isSprite {
		tl := sp.Timeline()
		switch strings.ToLower(name) {
		case "_currentframe":
			return avm.Number(float64(max(tl.CurrentFrame(), 1))), true
		case "_totalframes", "_framesloaded":
			return avm.Number(float64(tl.FrameCount())), true
		}
	}
	return avm.Undefined, false
}

func (m *Machine) displaySet(d display.Object, name string, v avm.Value) (bool, error) {
	if t, ok := d.(*display.Text); ok && (name == "text" || name == "htmlText") {
		s, err := m.toString(v)
		if err == nil {
			t.SetText(s)
		}
		return true, err
	}
	key := strings.ToLower(name)
	switch key {
	case "_name":
		s, err := m.toString(v)
		if err == nil {
			d.SetName(s)
		}
		return true, err
	case "_visible":
		d.SetVisible(m.toBoolean(v))
		return true, nil
	case "_x", "_y", "_xscale", "_yscale", "_rotation", "_alpha":
	default:
		return false, nil
	}
	f, err := m.toNumber(v)
	if err != nil || math.IsNaN(f) {
		return true, err
	}
	mat := d.Matrix()
	switch key {
	case "_x":
		mat.TranslateX = int32(math.Round(f * 20))
	case "_y":
		mat.TranslateY = int32(math.Round(f * 20))
	case "_xscale", "_yscale", "_rotation":
		sx, sy, rot := display.ScaleRotation(mat)
		switch key {
		case "_xscale":
			sx = f / 100
		case "_yscale":
			sy = f / 100
		default:
			rot = f * math.Pi / 180
		}
		mat = display.WithScaleRotation(mat, sx, sy, rot)
	case "_alpha":
		cx := d.ColorTransform()
		cx.AlphaMult = int16(math.Round(f * 256 / 100))
		d.SetColorTransform(cx)
		return true, nil
	}
	d.SetMatrix(mat)
	return true, nil
}

// ---------------------------------------------------------------------------
// Target paths
// ---------------------------------------------------------------------------

// targetPath renders the dotted path of a display object, as clips
// convert to strings.
func (m *Machine) targetPath(d display.Object) string {
	if d.Parent() == nil {
		return "_level0"
	}
	return m.targetPath(d.Parent()) + "." + d.Name()
}

// resolveTarget follows a slash or dot path from start. It returns
// Undefined when a segment does not resolve.
func (m *Machine) resolveTarget(start avm.Value, path string) avm.Value {
	if path == "" {
		return start
	}
	cur := start
	var segs []string
	if strings.Contains(path, "/") {
		if strings.HasPrefix(path, "/") {
			cur = m.Bind(m.Root)
		}
		segs = strings.Split(path, "/")
	} else {
		segs = strings.Split(path, ".")
	}
	for _, seg := range segs {
		switch seg {
		case "":
			continue
		case "..":
			seg = "_parent"
		case "this":
			continue
		}
		if strings.HasPrefix(seg, "_level") {
			cur = m.Bind(m.Root)
			continue
		}
		next, err := m.getMember(cur, seg)
		if err != nil || !next.IsObject() {
			return avm.Undefined
		}
		cur = next
	}
	return cur
}

// splitVariablePath separates "path:var" or "a.b.var" into the target
// path and the variable name.
func splitVariablePath(name string) (path, variable string, ok bool) {
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		return name[:i], name[i+1:], true
	}
	if strings.Contains(name, "/") {
		i := strings.LastIndexByte(name, '/')
		return name[:i], name[i+1:], true
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 && i < len(name)-1 {
		return name[:i], name[i+1:], true
	}
	return "", name, false
}

// clipDepth converts a legacy script depth to a display depth.
func clipDepth(d int32) int32 { return d + display.DepthBias }
