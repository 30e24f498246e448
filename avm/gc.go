package avm

import (
	"time"
)

// ---------------------------------------------------------------------------
// Mark/sweep collection
// ---------------------------------------------------------------------------

// GCStats holds statistics from a single collection.
type GCStats struct {
	Roots          int
	MarkedObjects  int
	MarkedStrings  int
	SweptObjects   int
	SweptStrings   int
	LiveObjects    int
	SweepDuration  time.Duration
	Timestamp      time.Time
	CollectionsRun uint64
}

// Traceable is implemented by native payloads and per-frame state that
// hold script values.
type Traceable interface {
	Trace(m *Marker)
}

// Marker accumulates reachable values during the mark phase. Marking is
// iterative; Mark only queues objects.
type Marker struct {
	h       *Heap
	pending []*Object
}

// Mark records v as reachable.
func (m *Marker) Mark(v Value) {
	switch v.tag() {
	case tagObject:
		m.MarkRef(v.Ref())
	case tagString:
		id := v.stringID()
		idx := id.index()
		if idx != 0 && int(idx) < len(m.h.strs) && m.h.strs[idx].gen == id.gen() {
			m.h.strMarks.set(idx)
		}
	}
}

// MarkAll marks every value in vs.
func (m *Marker) MarkAll(vs []Value) {
	for _, v := range vs {
		m.Mark(v)
	}
}

// MarkRef records an object as reachable.
func (m *Marker) MarkRef(r Ref) {
	o := m.h.Object(r)
	if o == nil {
		return
	}
	m.MarkObject(o)
}

// MarkObject records a live heap object as reachable.
func (m *Marker) MarkObject(o *Object) {
	if o == nil || o.heap != m.h {
		return
	}
	idx := o.ref.index()
	if m.h.objMarks.get(idx) {
		return
	}
	m.h.objMarks.set(idx)
	m.pending = append(m.pending, o)
}

// MarkString records a Go string as reachable if it is interned.
func (m *Marker) MarkString(s string) {
	if idx, ok := m.h.strIndex[s]; ok {
		m.h.strMarks.set(idx)
	}
}

// MarkClass marks the class objects, prototypes and trait values of c and
// its ancestors.
func (m *Marker) MarkClass(c *Class) {
	for ; c != nil; c = c.Super {
		m.Mark(c.Proto)
		m.Mark(c.Object)
		m.MarkAll(c.StaticSlots)
		for _, t := range c.traits {
			m.Mark(t.Value)
			m.Mark(t.Default)
		}
		for _, t := range c.staticTraits {
			m.Mark(t.Value)
		}
		for _, i := range c.Interfaces {
			m.Mark(i.Object)
		}
		if t, ok := c.Native.(Traceable); ok {
			t.Trace(m)
		}
	}
}

func (m *Marker) drain() {
	for len(m.pending) > 0 {
		n := len(m.pending) - 1
		o := m.pending[n]
		m.pending = m.pending[:n]
		o.trace(m)
	}
}

// Collect runs a full mark/sweep pass. Everything not reachable from a
// registered root is freed, including cycles.
func (h *Heap) Collect() GCStats {
	start := time.Now()
	h.objMarks.reset(len(h.objects))
	h.strMarks.reset(len(h.strs))

	m := &Marker{h: h}
	for _, root := range h.roots {
		root(m)
		m.drain()
	}

	stats := GCStats{Roots: len(h.roots), Timestamp: start}
	for idx := 1; idx < len(h.objects); idx++ {
		if h.objects[idx].obj == nil {
			continue
		}
		if h.objMarks.get(uint32(idx)) {
			stats.MarkedObjects++
			continue
		}
		h.release(uint32(idx))
		stats.SweptObjects++
	}
	for idx := 1; idx < len(h.strs); idx++ {
		if !h.strs[idx].live {
			continue
		}
		if h.strMarks.get(uint32(idx)) {
			stats.MarkedStrings++
			continue
		}
		h.releaseString(uint32(idx))
		stats.SweptStrings++
	}

	stats.LiveObjects = h.live
	stats.SweepDuration = time.Since(start)
	stats.CollectionsRun = h.stats.CollectionsRun + 1
	h.stats = stats
	if stats.SweptObjects > 0 {
		logger().Debugf("gc: swept %d objects, %d strings; %d live", stats.SweptObjects, stats.SweptStrings, stats.LiveObjects)
	}
	return stats
}

// LastStats returns statistics from the most recent collection.
func (h *Heap) LastStats() GCStats { return h.stats }
