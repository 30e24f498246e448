package avm

import (
	"errors"
	"testing"
)

func TestStackOverflow(t *testing.T) {
	s := NewCallStack(3)
	for i := 0; i < 3; i++ {
		if err := s.Push(&Frame{}); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}
	err := s.Push(&Frame{})
	if !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("Push past ceiling = %v, want ErrStackOverflow", err)
	}
	if !Catchable(err) {
		t.Error("stack overflow should be catchable")
	}
	if s.Depth() != 3 {
		t.Errorf("Depth = %d, want 3", s.Depth())
	}
}

func TestUnwindToOuterHandler(t *testing.T) {
	s := NewCallStack(10)
	catchAll := func(*Frame, *Handler, Value) bool { return true }

	outer := &Frame{OpPC: 5, Handlers: []Handler{{From: 0, To: 10, Target: 20}}}
	middle := &Frame{OpPC: 3, Handlers: []Handler{{From: 10, To: 20, Target: 30}}}
	inner := &Frame{OpPC: 1}
	s.Push(outer)
	s.Push(middle)
	s.Push(inner)

	f, h, ok := s.Unwind(0, Number(1), catchAll)
	if !ok {
		t.Fatal("no handler found")
	}
	if f != outer || h.Target != 20 {
		t.Errorf("caught by %p target %d, want outer target 20", f, h.Target)
	}
	if s.Depth() != 1 || s.Top() != outer {
		t.Errorf("Depth = %d after unwind, want 1", s.Depth())
	}
}

func TestUnwindRespectsBase(t *testing.T) {
	s := NewCallStack(10)
	catchAll := func(*Frame, *Handler, Value) bool { return true }
	s.Push(&Frame{OpPC: 0, Handlers: []Handler{{From: 0, To: 10}}})
	s.Push(&Frame{OpPC: 0})

	if _, _, ok := s.Unwind(1, Undefined, catchAll); ok {
		t.Error("handler below base was used")
	}
	if s.Depth() != 1 {
		t.Errorf("Depth = %d, want 1", s.Depth())
	}
}

func TestUnwindFirstMatchingEntryWins(t *testing.T) {
	s := NewCallStack(10)
	f := &Frame{OpPC: 4, Handlers: []Handler{
		{From: 0, To: 3, Target: 100, Catch: "any"},
		{From: 2, To: 8, Target: 200, Catch: "TypeError"},
		{From: 0, To: 10, Target: 300, Catch: "Error"},
	}}
	s.Push(f)
	match := func(_ *Frame, h *Handler, thrown Value) bool { return h.Catch == "Error" }
	_, h, ok := s.Unwind(0, Undefined, match)
	if !ok || h.Target != 300 {
		t.Errorf("matched %+v, want target 300", h)
	}
}

func TestCallStackTrace(t *testing.T) {
	h := NewHeap()
	s := NewCallStack(0)
	local := h.NewObject(Null)
	scope := h.NewObject(Null)
	h.NewObject(Null)
	s.Push(&Frame{Locals: []Value{local.Value()}, Scope: []Value{scope.Value()}, This: Undefined, Callee: Undefined})
	h.AddRoot(s.Trace)

	h.Collect()
	if h.Live() != 2 {
		t.Errorf("Live = %d, want 2", h.Live())
	}
	s.Pop()
	h.Collect()
	if h.Live() != 0 {
		t.Errorf("Live after pop = %d, want 0", h.Live())
	}
}
