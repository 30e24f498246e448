// Package player schedules one movie instance: it parses the container,
// owns the heap and the interpreter of the movie's dialect, and turns
// each Tick into timeline advances, queued script events, a collection
// pass and a display snapshot.
package player

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/swfvm/avm"
	"github.com/chazu/swfvm/avm/avm1"
	"github.com/chazu/swfvm/avm/avm2"
	"github.com/chazu/swfvm/display"
	"github.com/chazu/swfvm/swf"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

func logger() commonlog.Logger {
	return commonlog.GetLogger("swfvm.player")
}

// ErrDestroyed is returned by operations on a destroyed player.
var ErrDestroyed = errors.New("player destroyed")

// State is the scheduler state of a movie instance.
type State uint8

const (
	Loading State = iota
	Playing
	Paused
	Stopped
)

var stateNames = [...]string{"loading", "playing", "paused", "stopped"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// InputPolicy decides what happens to input that arrives while paused.
type InputPolicy uint8

const (
	// DeferInput keeps paused input queued until the movie resumes.
	DeferInput InputPolicy = iota
	// DropInput discards input that arrives while paused.
	DropInput
)

// ParseInputPolicy maps a configuration word to a policy.
func ParseInputPolicy(s string) (InputPolicy, error) {
	switch s {
	case "", "defer":
		return DeferInput, nil
	case "drop":
		return DropInput, nil
	}
	return DeferInput, fmt.Errorf("unknown paused input policy %q", s)
}

// Config tunes a movie instance. The zero value is usable.
type Config struct {
	// FrameRate overrides the rate declared by the movie when positive.
	FrameRate float64
	// MaxDepth is the script call depth ceiling. Zero uses the movie's
	// ScriptLimits tag, then avm.DefaultMaxDepth.
	MaxDepth int
	// Budget caps the instructions of one script chain; 0 is unlimited.
	Budget int
	// PausedInput is the paused input policy.
	PausedInput InputPolicy
	// DecodeWorkers bounds background bitmap decoding; 0 means one per
	// bitmap.
	DecodeWorkers int
	// GCInterval runs a collection every n ticks; 0 means every tick.
	GCInterval int
	// TraceEcho copies script trace output to the log.
	TraceEcho bool
	// Renderer receives the snapshot of every tick when set.
	Renderer display.Renderer
}

// engine is the part of an interpreter the scheduler drives. Both
// dialects implement it.
type engine interface {
	Trace(mk *avm.Marker)
	TakeChanges() display.Change
	DispatchEvent(target avm.Value, kind string, args []avm.Value) error
	Call(fn, this avm.Value, args []avm.Value) (avm.Value, error)
	Depth() int
}

// Player is one movie instance. A Player is not safe for concurrent use;
// Worker serializes access from several goroutines.
type Player struct {
	ID uuid.UUID

	Movie *swf.Movie
	Heap  *avm.Heap
	Root  *display.Sprite

	cfg        Config
	state      State
	frameRate  float64
	background swf.RGBA
	ticks      uint64

	engine engine
	avm1   *avm1.Machine
	avm2   *avm2.Machine

	queue   []Event
	input   []Event
	ticking bool

	clock     float64 // milliseconds of movie time
	timers    map[int]*timer
	nextTimer int

	hostFuncs map[string]HostFunc
	exposed   map[string]callback

	onTrace    func(string)
	onUncaught func(error)
	onEvent    func(Event)
	onNavigate func(url, window string)

	decoded  decodedQueue
	stopLoad func()
	once     sync.Once
}

// Load parses a container and prepares an instance in the Loading
// state. Container and class-graph failures are fatal.
func Load(data []byte, cfg Config) (*Player, error) {
	movie, err := swf.Parse(data)
	if err != nil {
		return nil, err
	}

	lib := display.NewLibrary()
	lib.Define(movie.Tags)
	root := lib.NewRoot(movie.Tags, int(movie.Header.FrameCount))

	p := &Player{
		ID:        uuid.New(),
		Movie:     movie,
		Heap:      avm.NewHeap(),
		Root:      root,
		cfg:       cfg,
		frameRate: movie.Header.FrameRate,
		timers:    make(map[int]*timer),
		hostFuncs: make(map[string]HostFunc),
		exposed:   make(map[string]callback),
	}
	if cfg.FrameRate > 0 {
		p.frameRate = cfg.FrameRate
	}
	if p.frameRate <= 0 {
		p.frameRate = 12
	}

	maxDepth := cfg.MaxDepth
	for _, tag := range movie.Tags {
		switch t := tag.(type) {
		case *swf.SetBackgroundColor:
			p.background = t.Color
		case *swf.ScriptLimits:
			if maxDepth == 0 {
				maxDepth = int(t.MaxRecursionDepth)
			}
		}
	}

	if movie.IsActionScript3() {
		m, err := avm2.New(p.Heap, p, root, avm2.Options{MaxDepth: maxDepth, Budget: cfg.Budget})
		if err != nil {
			return nil, err
		}
		p.avm2 = m
		p.engine = p.avm2
		if err := p.loadABC(); err != nil {
			return nil, err
		}
	} else {
		p.avm1 = avm1.New(p.Heap, p, root, movie.Header.Version, avm1.Options{MaxDepth: maxDepth, Budget: cfg.Budget})
		p.engine = p.avm1
	}
	p.Heap.AddRoot(p.trace)

	p.stopLoad = p.decodeBitmaps(lib.Bitmaps())
	logger().Infof("loaded movie %s: version %d, %d frames at %g fps", p.ID, movie.Header.Version, root.Timeline().FrameCount(), p.frameRate)
	return p, nil
}

// loadABC loads every bytecode file of the movie in tag order. Lazy
// files defer their entry scripts until a class is first needed.
func (p *Player) loadABC() error {
	for _, tag := range p.Movie.Tags {
		abc, ok := tag.(*swf.DoABC)
		if !ok {
			continue
		}
		if err := p.avm2.LoadABC(abc.Data, abc.Flags&1 != 0); err != nil {
			if errors.Is(err, avm.ErrVerify) {
				return fmt.Errorf("abc %q at offset %d: %w", abc.Name, abc.Offset, err)
			}
			p.uncaught(err)
		}
	}
	return nil
}

func (p *Player) State() State         { return p.state }
func (p *Player) FrameRate() float64   { return p.frameRate }
func (p *Player) Ticks() uint64        { return p.ticks }
func (p *Player) Background() swf.RGBA { return p.background }

// ActionScript3 reports whether the movie runs the modern dialect.
func (p *Player) ActionScript3() bool { return p.avm2 != nil }

// Pause suspends timeline advance and event dispatch.
func (p *Player) Pause() {
	if p.state == Playing {
		p.state = Paused
	}
}

// Resume continues a paused movie.
func (p *Player) Resume() {
	if p.state == Paused {
		p.state = Playing
	}
}

// SetTraceObserver receives script trace output.
func (p *Player) SetTraceObserver(fn func(string)) { p.onTrace = fn }

// OnUncaught receives errors that escaped a script chain. The callback
// may destroy the player. Script values carried by the error are only
// valid during the callback; the tick's collection may reclaim them.
func (p *Player) OnUncaught(fn func(error)) { p.onUncaught = fn }

// SetEventObserver sees every event as it is dispatched.
func (p *Player) SetEventObserver(fn func(Event)) { p.onEvent = fn }

// SetNavigateObserver receives URL navigation requests from scripts.
func (p *Player) SetNavigateObserver(fn func(url, window string)) { p.onNavigate = fn }

// ---------------------------------------------------------------------------
// Tick
// ---------------------------------------------------------------------------

// Tick runs one scheduler iteration and returns the resulting snapshot.
// Script failures never fail a tick; they go to the uncaught observer.
func (p *Player) Tick() (*display.Snapshot, error) {
	if p.state == Stopped {
		return nil, ErrDestroyed
	}
	if p.state == Loading {
		p.state = Playing
	}
	p.ticking = true
	p.ticks++

	p.drainDecoded()

	if p.state == Playing {
		var ch display.Change
		p.Root.Advance(&ch)
		if p.ticks == 1 {
			p.construct(p.Root, &ch)
		}
		p.absorb(ch)
		p.enterFrame()
		p.fireTimers()
		p.queue = append(p.queue, p.input...)
		p.input = nil
		p.dispatchQueued()
	}

	p.ticking = false
	if p.state == Stopped {
		p.teardown()
		return nil, ErrDestroyed
	}

	if p.cfg.GCInterval <= 1 || p.ticks%uint64(p.cfg.GCInterval) == 0 {
		p.Heap.Collect()
	}

	snap := display.TakeSnapshot(p.Root)
	snap.Tick = p.ticks
	snap.Background = p.background
	snap.Stage = p.Movie.Header.FrameSize
	if p.cfg.Renderer != nil {
		if err := p.cfg.Renderer.Render(&snap); err != nil {
			return &snap, fmt.Errorf("render tick %d: %w", p.ticks, err)
		}
	}
	return &snap, nil
}

// construct runs the class construction of a newly added object before
// anything else sees it. Legacy clips bind lazily and need nothing.
func (p *Player) construct(o display.Object, ch *display.Change) {
	if p.avm2 == nil {
		return
	}
	if o.Script().IsObject() || (o != display.Object(p.Root) && o.ClassName() == "") {
		return
	}
	if _, err := p.avm2.Bind(o); err != nil {
		p.uncaught(err)
		return
	}
	// Frame scripts registered by the constructor missed the frame that
	// placed the object.
	if sp, ok := o.(*display.Sprite); ok {
		frame := sp.Timeline().CurrentFrame()
		if fn, ok := sp.FrameScript(frame); ok {
			ch.Scripts = append(ch.Scripts, display.FrameScript{Target: sp, Frame: frame, Callable: fn})
		}
	}
	more := p.avm2.TakeChanges()
	ch.Added = append(ch.Added, more.Added...)
	ch.Removed = append(ch.Removed, more.Removed...)
	ch.Scripts = append(ch.Scripts, more.Scripts...)
}

// absorb turns a timeline change set into queued events: added objects,
// removed objects, init blocks, then frame scripts.
func (p *Player) absorb(ch display.Change) {
	for _, o := range ch.Added {
		if o != display.Object(p.Root) {
			p.construct(o, &ch)
		}
	}
	for _, o := range ch.Added {
		p.enqueue(Event{Kind: EventAdded, Target: o})
	}
	for _, o := range ch.Removed {
		p.enqueue(Event{Kind: EventRemoved, Target: o})
	}
	for _, in := range ch.Inits {
		p.enqueue(Event{Kind: EventInit, Target: p.Root, Actions: in.Actions})
	}
	for _, s := range ch.Scripts {
		p.enqueue(Event{Kind: EventFrameScript, Target: s.Target, Actions: s.Actions, Fn: s.Callable})
	}
}

// enterFrame queues an enterFrame event for every bound display object.
func (p *Player) enterFrame() {
	display.Walk(p.Root, func(o display.Object) bool {
		if o.Script().IsObject() {
			p.enqueue(Event{Kind: EventEnterFrame, Target: o})
		}
		return true
	})
}

// dispatchQueued delivers a snapshot of the queue. Events queued while
// it runs wait for the next tick.
func (p *Player) dispatchQueued() {
	batch := p.queue
	p.queue = nil
	for _, ev := range batch {
		if p.state == Stopped {
			return
		}
		p.dispatch(ev)
		p.absorb(p.engine.TakeChanges())
	}
}

func (p *Player) uncaught(err error) {
	logger().Warningf("uncaught in %s: %v", p.ID, err)
	if p.onUncaught != nil {
		p.onUncaught(err)
	}
}

// ---------------------------------------------------------------------------
// Teardown and roots
// ---------------------------------------------------------------------------

// Destroy stops the instance and releases its heap. It is safe to call
// from any observer, including while a tick is running; the heap is then
// reclaimed when the tick unwinds.
func (p *Player) Destroy() {
	if p.state == Stopped {
		return
	}
	p.state = Stopped
	if !p.ticking && p.engine.Depth() == 0 {
		p.teardown()
	}
}

func (p *Player) teardown() {
	p.once.Do(func() {
		if p.stopLoad != nil {
			p.stopLoad()
		}
		p.queue, p.input = nil, nil
		clear(p.timers)
		clear(p.exposed)
		p.Heap.ClearRoots()
		stats := p.Heap.Collect()
		logger().Infof("destroyed %s: reclaimed %d objects", p.ID, stats.SweptObjects)
	})
}

// trace is the instance's heap root: the interpreter, the display tree's
// bindings and every value waiting in a queue or timer.
func (p *Player) trace(mk *avm.Marker) {
	p.engine.Trace(mk)
	p.Root.TraceBindings(mk)
	for _, q := range [][]Event{p.queue, p.input} {
		for i := range q {
			q[i].trace(mk)
		}
	}
	for _, t := range p.timers {
		mk.Mark(t.fn)
		mk.Mark(t.this)
		mk.MarkAll(t.args)
	}
	for _, cb := range p.exposed {
		mk.Mark(cb.this)
		mk.Mark(cb.fn)
	}
}
