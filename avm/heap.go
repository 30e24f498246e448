package avm

import (
	"github.com/tliron/commonlog"
)

func logger() commonlog.Logger {
	return commonlog.GetLogger("swfvm.avm")
}

// Heap is an arena of object slots plus an interned string table. Objects
// never move; a freed slot is reused with a bumped generation so old
// references go stale instead of aliasing the new occupant.
//
// A Heap is not safe for concurrent use. Collection only happens when
// the owner calls Collect, between ticks.
type Heap struct {
	objects []objectSlot
	free    []uint32
	live    int

	strs     []stringSlot
	strFree  []uint32
	strIndex map[string]uint32

	roots  map[int]RootFunc
	nextID int

	objMarks bitset
	strMarks bitset

	// Primitive converts an object to a primitive for coercions. The
	// interpreters install one that can run script code; the default
	// handles boxed primitives and otherwise yields "[object Object]".
	Primitive func(o *Object, hint Hint) (Value, error)

	stats GCStats
}

type objectSlot struct {
	obj *Object
	gen uint16
}

type stringSlot struct {
	s    string
	gen  uint16
	live bool
}

// RootFunc reports the values one root source keeps alive.
type RootFunc func(m *Marker)

// NewHeap creates an empty heap. Slot and string index 0 are reserved so
// the zero Ref is never valid.
func NewHeap() *Heap {
	return &Heap{
		objects:  make([]objectSlot, 1),
		strs:     make([]stringSlot, 1),
		strIndex: make(map[string]uint32),
		roots:    make(map[int]RootFunc),
	}
}

// AddRoot registers a root source. The returned function unregisters it.
func (h *Heap) AddRoot(fn RootFunc) (remove func()) {
	h.nextID++
	id := h.nextID
	h.roots[id] = fn
	return func() { delete(h.roots, id) }
}

// ClearRoots drops every root source.
func (h *Heap) ClearRoots() {
	clear(h.roots)
}

// Live returns the number of allocated objects.
func (h *Heap) Live() int { return h.live }

// LiveStrings returns the number of interned strings.
func (h *Heap) LiveStrings() int { return len(h.strIndex) }

// ---------------------------------------------------------------------------
// Objects
// ---------------------------------------------------------------------------

// Alloc places o in a free slot and returns the value referring to it.
func (h *Heap) Alloc(o *Object) Value {
	var idx uint32
	if n := len(h.free); n > 0 {
		idx = h.free[n-1]
		h.free = h.free[:n-1]
	} else {
		h.objects = append(h.objects, objectSlot{})
		idx = uint32(len(h.objects) - 1)
	}
	slot := &h.objects[idx]
	slot.obj = o
	o.ref = makeRef(idx, slot.gen)
	o.heap = h
	h.live++
	return FromRef(o.ref)
}

// NewObject allocates a dynamic object with the given prototype.
func (h *Heap) NewObject(proto Value) *Object {
	o := &Object{Proto: proto}
	h.Alloc(o)
	return o
}

// Object resolves a reference; it returns nil for stale references.
func (h *Heap) Object(r Ref) *Object {
	idx := r.index()
	if idx == 0 || int(idx) >= len(h.objects) {
		return nil
	}
	slot := &h.objects[idx]
	if slot.obj == nil || slot.gen != r.gen() {
		return nil
	}
	return slot.obj
}

// Deref returns the object v refers to, or nil when v is not a live
// object.
func (h *Heap) Deref(v Value) *Object {
	if !v.IsObject() {
		return nil
	}
	return h.Object(v.Ref())
}

func (h *Heap) release(idx uint32) {
	slot := &h.objects[idx]
	slot.obj.heap = nil
	slot.obj = nil
	slot.gen++
	h.free = append(h.free, idx)
	h.live--
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

// Str interns s and returns it as a Value.
func (h *Heap) Str(s string) Value {
	if idx, ok := h.strIndex[s]; ok {
		return fromStringID(makeStrID(idx, h.strs[idx].gen))
	}
	var idx uint32
	if n := len(h.strFree); n > 0 {
		idx = h.strFree[n-1]
		h.strFree = h.strFree[:n-1]
	} else {
		h.strs = append(h.strs, stringSlot{})
		idx = uint32(len(h.strs) - 1)
	}
	slot := &h.strs[idx]
	slot.s = s
	slot.live = true
	h.strIndex[s] = idx
	return fromStringID(makeStrID(idx, slot.gen))
}

// StringOf returns the text of a String value. ok is false for non-string
// or stale values.
func (h *Heap) StringOf(v Value) (s string, ok bool) {
	if !v.IsString() {
		return "", false
	}
	id := v.stringID()
	idx := id.index()
	if idx == 0 || int(idx) >= len(h.strs) {
		return "", false
	}
	slot := &h.strs[idx]
	if !slot.live || slot.gen != id.gen() {
		return "", false
	}
	return slot.s, true
}

func (h *Heap) releaseString(idx uint32) {
	slot := &h.strs[idx]
	delete(h.strIndex, slot.s)
	slot.s = ""
	slot.live = false
	slot.gen++
	h.strFree = append(h.strFree, idx)
}

// ---------------------------------------------------------------------------
// bitset
// ---------------------------------------------------------------------------

type bitset []uint64

func (b *bitset) reset(n int) {
	words := (n + 63) / 64
	if cap(*b) < words {
		*b = make(bitset, words)
		return
	}
	*b = (*b)[:words]
	clear(*b)
}

func (b bitset) get(i uint32) bool { return b[i/64]&(1<<(i%64)) != 0 }
func (b bitset) set(i uint32)      { b[i/64] |= 1 << (i % 64) }
