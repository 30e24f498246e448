package avm

// ---------------------------------------------------------------------------
// Call stack shared by both dialects
// ---------------------------------------------------------------------------

// DefaultMaxDepth is the call depth ceiling when none is configured.
const DefaultMaxDepth = 256

// Handler is one entry of a method's exception table: instructions in
// [From, To) transfer to Target when a thrown value matches. Catch is
// dialect-specific match data; nil catches everything.
type Handler struct {
	From, To int
	Target   int
	Catch    any
	// Register names where the legacy dialect stores the caught value;
	// -1 means a variable named by Var, or the operand stack.
	Register int
	Var      string
	// Finally is a legacy finally target, -1 if none.
	Finally int
}

// Frame is one in-flight invocation.
type Frame struct {
	// Function is the dialect's function or method body.
	Function any
	Callee   Value
	This     Value
	Args     []Value

	Locals []Value
	Stack  []Value
	// Scope holds the scope chain with the outermost entry first.
	Scope []Value

	Code []byte
	PC   int
	// OpPC is the offset of the instruction being executed; handler
	// ranges are matched against it.
	OpPC     int
	Handlers []Handler

	// State holds dialect-specific per-frame data. Values inside it are
	// traced when it implements Traceable.
	State any

	// Return receives the frame's result; the dialect decides what the
	// caller does with it.
	Return func(Value)
}

// Push appends to the operand stack.
func (f *Frame) Push(v Value) { f.Stack = append(f.Stack, v) }

// Pop removes the top of the operand stack. An empty stack yields
// Undefined.
func (f *Frame) Pop() Value {
	n := len(f.Stack)
	if n == 0 {
		return Undefined
	}
	v := f.Stack[n-1]
	f.Stack = f.Stack[:n-1]
	return v
}

// Peek returns the top of the operand stack without removing it.
func (f *Frame) Peek() Value {
	if n := len(f.Stack); n > 0 {
		return f.Stack[n-1]
	}
	return Undefined
}

// CallStack is the stack of frames of one movie instance.
type CallStack struct {
	frames   []*Frame
	MaxDepth int
}

// NewCallStack creates a call stack with the given depth ceiling.
func NewCallStack(maxDepth int) *CallStack {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &CallStack{MaxDepth: maxDepth}
}

// Push enters a frame; it fails with ErrStackOverflow at the ceiling.
func (s *CallStack) Push(f *Frame) error {
	if len(s.frames) >= s.MaxDepth {
		return Errorf(ErrStackOverflow, "call depth exceeds %d", s.MaxDepth)
	}
	s.frames = append(s.frames, f)
	return nil
}

// Pop leaves the top frame.
func (s *CallStack) Pop() *Frame {
	n := len(s.frames)
	if n == 0 {
		return nil
	}
	f := s.frames[n-1]
	s.frames[n-1] = nil
	s.frames = s.frames[:n-1]
	return f
}

// Top returns the innermost frame.
func (s *CallStack) Top() *Frame {
	if n := len(s.frames); n > 0 {
		return s.frames[n-1]
	}
	return nil
}

// Depth returns the number of frames.
func (s *CallStack) Depth() int { return len(s.frames) }

// At returns the frame at depth i, 0 being the outermost.
func (s *CallStack) At(i int) *Frame { return s.frames[i] }

// Truncate pops frames until depth remain.
func (s *CallStack) Truncate(depth int) {
	for len(s.frames) > depth {
		s.Pop()
	}
}

// MatchFunc decides whether a handler catches a thrown value.
type MatchFunc func(f *Frame, h *Handler, thrown Value) bool

// Unwind searches for a handler of thrown, from the innermost frame down
// to frame index base. Within a frame the exception table is scanned in
// order and the first range containing OpPC whose catch type matches
// wins. Frames without a match are popped. On success the catching frame
// is on top; otherwise the stack is truncated to base.
func (s *CallStack) Unwind(base int, thrown Value, match MatchFunc) (*Frame, *Handler, bool) {
	for len(s.frames) > base {
		f := s.Top()
		for i := range f.Handlers {
			h := &f.Handlers[i]
			if f.OpPC >= h.From && f.OpPC < h.To && match(f, h, thrown) {
				return f, h, true
			}
		}
		s.Pop()
	}
	return nil, nil, false
}

// Trace marks every value held by live frames.
func (s *CallStack) Trace(m *Marker) {
	for _, f := range s.frames {
		m.Mark(f.Callee)
		m.Mark(f.This)
		m.MarkAll(f.Args)
		m.MarkAll(f.Locals)
		m.MarkAll(f.Stack)
		m.MarkAll(f.Scope)
		if t, ok := f.Function.(Traceable); ok {
			t.Trace(m)
		}
		if t, ok := f.State.(Traceable); ok {
			t.Trace(m)
		}
	}
}
