package avm

// Host is the surface both interpreters call out to. The player
// implements it; tests use small fakes.
type Host interface {
	// Trace receives the output of trace calls.
	Trace(msg string)
	// Navigate asks the shell to open a URL in a window.
	Navigate(url, window string)
	// CallHost invokes a host function registered by name.
	CallHost(name string, args []Value) (Value, error)
	// Expose publishes fn under name so the shell can invoke it later.
	Expose(name string, this, fn Value)
	// SetTimer schedules fn after delay milliseconds, repeating when
	// repeat is set, and returns a timer id.
	SetTimer(fn, this Value, args []Value, delay float64, repeat bool) int
	// ClearTimer cancels a timer.
	ClearTimer(id int)
}

// NopHost discards everything.
type NopHost struct{}

func (NopHost) Trace(string)            {}
func (NopHost) Navigate(string, string) {}
func (NopHost) CallHost(string, []Value) (Value, error) {
	return Undefined, nil
}
func (NopHost) Expose(string, Value, Value)                       {}
func (NopHost) SetTimer(Value, Value, []Value, float64, bool) int { return 0 }
func (NopHost) ClearTimer(int)                                    {}
