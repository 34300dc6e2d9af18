package progress

// Tracker observes the events a long operation emits: image acquisition
// phases, VM lifecycle stages. Implementations must be safe for concurrent
// use; emitters may report from several goroutines.
type Tracker interface {
	OnEvent(any)
}

// NewTracker adapts a typed callback to a Tracker. Events of any other type
// pass the tracker by, so one Tracker can sit on a stream it only partially
// understands.
func NewTracker[E any](fn func(E)) Tracker {
	return funcTracker(func(v any) {
		if e, ok := v.(E); ok {
			fn(e)
		}
	})
}

type funcTracker func(any)

func (f funcTracker) OnEvent(e any) {
	if f != nil {
		f(e)
	}
}

// Nop drops every event.
var Nop Tracker = funcTracker(nil)
