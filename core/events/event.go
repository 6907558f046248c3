package events

// Event represents a structured state change emitted by a protocol engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. indexers, bots
// watching lottery lifecycles).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events.
// Engines fall back to it when no emitter is configured.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
