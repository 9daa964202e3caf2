// Package sink provides the public update-sink contract for presentation
// layers. The core pushes derived facet values through a Sink; anything that
// can surface those values (an MQTT topic tree, a WebSocket stream, a bridge
// characteristic) implements this interface.
package sink

// Sink receives derived facet values from the core.
// Implementations must tolerate repeated pushes of the same value: update
// actions are idempotent and may fire for facets whose derived value did not
// actually change.
type Sink interface {
	// Push reflects value onto the facet's observable state.
	Push(facet string, value any)
}

// Func adapts a plain function to the Sink interface.
type Func func(facet string, value any)

// Push calls f(facet, value).
func (f Func) Push(facet string, value any) {
	f(facet, value)
}

// Multi fans a push out to several sinks in order.
type Multi []Sink

// Push forwards to every sink in the slice.
func (m Multi) Push(facet string, value any) {
	for _, s := range m {
		s.Push(facet, value)
	}
}
