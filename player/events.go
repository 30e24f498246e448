package player

import (
	"github.com/chazu/swfvm/avm"
	"github.com/chazu/swfvm/display"
)

// Event kinds synthesized by the scheduler. Input kinds come from the
// shell.
const (
	EventAdded       = "added"
	EventRemoved     = "removedFromStage"
	EventEnterFrame  = "enterFrame"
	EventComplete    = "complete"
	EventTimer       = "timer"
	EventFrameScript = "frameScript"
	EventInit        = "init"
	EventCall        = "call"

	EventMouseDown = "mouseDown"
	EventMouseUp   = "mouseUp"
	EventMouseMove = "mouseMove"
	EventClick     = "click"
	EventKeyDown   = "keyDown"
	EventKeyUp     = "keyUp"
)

// Event is one unit of queued script work. Display events name a target
// object; frame scripts carry legacy actions or a callable; calls carry
// a function, its receiver and arguments.
type Event struct {
	Kind    string
	Target  display.Object
	Payload []avm.Value

	Actions []byte
	Fn      avm.Value
	This    avm.Value
}

// TargetID returns the id of the target display object, or 0.
func (e *Event) TargetID() display.ID {
	if e.Target == nil {
		return 0
	}
	return e.Target.ID()
}

func (e *Event) trace(mk *avm.Marker) {
	if e.Target != nil {
		e.Target.TraceBindings(mk)
	}
	mk.MarkAll(e.Payload)
	mk.Mark(e.Fn)
	mk.Mark(e.This)
}

func (p *Player) enqueue(ev Event) {
	p.queue = append(p.queue, ev)
}

// dispatch delivers one event to the interpreter. Failures are reported
// as uncaught and end only this event's script chain.
func (p *Player) dispatch(ev Event) {
	if p.onEvent != nil {
		p.onEvent(ev)
	}
	var err error
	switch ev.Kind {
	case EventFrameScript:
		if ev.Target.Parent() == nil && ev.Target != display.Object(p.Root) {
			return
		}
		err = p.runScript(ev)
	case EventInit:
		if p.avm1 != nil {
			err = p.avm1.RunActions(ev.Actions, ev.Target)
		}
	case EventCall, EventTimer:
		_, err = p.engine.Call(ev.Fn, ev.This, ev.Payload)
	default:
		if ev.Target == nil {
			return
		}
		target := ev.Target.Script()
		if !target.IsObject() {
			return
		}
		err = p.engine.DispatchEvent(target, ev.Kind, ev.Payload)
	}
	if err != nil {
		p.uncaught(err)
	}
}

func (p *Player) runScript(ev Event) error {
	if len(ev.Actions) > 0 {
		if p.avm1 == nil {
			return nil
		}
		return p.avm1.RunActions(ev.Actions, ev.Target)
	}
	if !ev.Fn.IsObject() {
		return nil
	}
	this := avm.Undefined
	if p.avm2 != nil {
		v, err := p.avm2.Bind(ev.Target)
		if err != nil {
			return err
		}
		this = v
	}
	_, err := p.engine.Call(ev.Fn, this, nil)
	return err
}

// ---------------------------------------------------------------------------
// Input
// ---------------------------------------------------------------------------

// Input is a pointer or keyboard event from the shell. Coordinates are
// stage pixels.
type Input struct {
	Kind     string
	X, Y     float64
	KeyCode  int
	CharCode int
}

// Input queues a shell event for the next tick. While paused the
// configured policy either keeps it until the movie resumes or drops it.
// Pointer and keyboard events target the root.
func (p *Player) Input(in Input) error {
	if p.state == Stopped {
		return ErrDestroyed
	}
	if p.state == Paused && p.cfg.PausedInput == DropInput {
		logger().Debugf("%s: dropped %s while paused", p.ID, in.Kind)
		return nil
	}
	var payload []avm.Value
	switch in.Kind {
	case EventKeyDown, EventKeyUp:
		payload = []avm.Value{avm.Int(in.KeyCode), avm.Int(in.CharCode)}
	default:
		payload = []avm.Value{avm.Number(in.X), avm.Number(in.Y)}
	}
	p.input = append(p.input, Event{
		Kind:    in.Kind,
		Target:  p.Root,
		Payload: payload,
	})
	return nil
}
