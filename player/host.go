package player

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/chazu/swfvm/avm"
)

// HostFunc is a shell function scripts can call by name. Arguments and
// results use Go values: nil, bool, float64, string, or avm.Value for
// objects.
type HostFunc func(args []any) (any, error)

type callback struct {
	this avm.Value
	fn   avm.Value
}

type timer struct {
	id     int
	fn     avm.Value
	this   avm.Value
	args   []avm.Value
	delay  float64
	due    float64
	repeat bool
}

// RegisterHostFunction makes fn callable from scripts as name.
func (p *Player) RegisterHostFunction(name string, fn HostFunc) {
	p.hostFuncs[name] = fn
}

// CallExposedCallback invokes a function a script published under name.
// Called from inside a running script, for example by a host function,
// the invocation is queued for the next tick and nil is returned.
func (p *Player) CallExposedCallback(name string, args ...any) (any, error) {
	if p.state == Stopped {
		return nil, ErrDestroyed
	}
	cb, ok := p.exposed[name]
	if !ok {
		return nil, fmt.Errorf("no callback exposed as %q", name)
	}
	vals := make([]avm.Value, len(args))
	for i, a := range args {
		vals[i] = p.ToValue(a)
	}
	if p.ticking || p.engine.Depth() > 0 {
		p.enqueue(Event{Kind: EventCall, Fn: cb.fn, This: cb.this, Payload: vals})
		return nil, nil
	}
	v, err := p.engine.Call(cb.fn, cb.this, vals)
	p.absorb(p.engine.TakeChanges())
	if err != nil {
		return nil, err
	}
	return p.ToGo(v), nil
}

// ToValue converts a Go value for scripts.
func (p *Player) ToValue(x any) avm.Value {
	switch x := x.(type) {
	case nil:
		return avm.Undefined
	case avm.Value:
		return x
	case bool:
		return avm.Bool(x)
	case int:
		return avm.Int(x)
	case int32:
		return avm.Number(float64(x))
	case int64:
		return avm.Number(float64(x))
	case float32:
		return avm.Number(float64(x))
	case float64:
		return avm.Number(x)
	case string:
		return p.Heap.Str(x)
	}
	return p.Heap.Str(fmt.Sprint(x))
}

// ToGo converts a script value for the shell. Undefined and null become
// nil; objects stay avm.Value.
func (p *Player) ToGo(v avm.Value) any {
	switch {
	case v.IsNullish():
		return nil
	case v.IsBool():
		return v.Truthy()
	case v.IsNumber():
		return v.Float64()
	case v.IsString():
		s, _ := p.Heap.StringOf(v)
		return s
	}
	return v
}

// ---------------------------------------------------------------------------
// avm.Host
// ---------------------------------------------------------------------------

func (p *Player) Trace(msg string) {
	if p.cfg.TraceEcho {
		logger().Infof("trace: %s", msg)
	}
	if p.onTrace != nil {
		p.onTrace(msg)
	}
}

func (p *Player) Navigate(url, window string) {
	logger().Debugf("%s: navigate %s (%s)", p.ID, url, window)
	if p.onNavigate != nil {
		p.onNavigate(url, window)
	}
}

func (p *Player) CallHost(name string, args []avm.Value) (avm.Value, error) {
	fn, ok := p.hostFuncs[name]
	if !ok {
		logger().Debugf("%s: no host function %q", p.ID, name)
		return avm.Undefined, nil
	}
	in := make([]any, len(args))
	for i, a := range args {
		in[i] = p.ToGo(a)
	}
	out, err := fn(in)
	if err != nil {
		return avm.Undefined, fmt.Errorf("host function %s: %w", name, err)
	}
	return p.ToValue(out), nil
}

func (p *Player) Expose(name string, this, fn avm.Value) {
	p.exposed[name] = callback{this: this, fn: fn}
}

// SetTimer schedules fn on movie time, which advances by one frame
// interval per playing tick. A timer fires at most once per tick.
func (p *Player) SetTimer(fn, this avm.Value, args []avm.Value, delay float64, repeat bool) int {
	if math.IsNaN(delay) || delay < 0 {
		delay = 0
	}
	p.nextTimer++
	p.timers[p.nextTimer] = &timer{
		id:     p.nextTimer,
		fn:     fn,
		this:   this,
		args:   slices.Clone(args),
		delay:  delay,
		due:    p.clock + delay,
		repeat: repeat,
	}
	return p.nextTimer
}

func (p *Player) ClearTimer(id int) {
	delete(p.timers, id)
}

// fireTimers advances movie time by one frame and queues a call for
// every due timer, earliest first.
func (p *Player) fireTimers() {
	p.clock += 1000 / p.frameRate
	var due []*timer
	for _, t := range p.timers {
		if t.due <= p.clock {
			due = append(due, t)
		}
	}
	slices.SortFunc(due, func(a, b *timer) int {
		if c := cmp.Compare(a.due, b.due); c != 0 {
			return c
		}
		return a.id - b.id
	})
	for _, t := range due {
		p.enqueue(Event{Kind: EventTimer, Fn: t.fn, This: t.this, Payload: t.args})
		if t.repeat {
			t.due = p.clock + max(t.delay, 1)
		} else {
			delete(p.timers, t.id)
		}
	}
}

// Timers returns the number of pending timers.
func (p *Player) Timers() int { return len(p.timers) }
