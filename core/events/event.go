package events

import "strings"

// Event is a state change reported by the protocol modules.
type Event interface {
	EventType() string
}

// Emitter receives events as operations commit. Implementations must not
// call back into the emitting module.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards every event.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// Record is the flattened form of an event: a type and string attributes
// with amounts rendered in base units.
type Record struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Render flattens evt when it knows how to describe itself, returning nil
// otherwise.
func Render(evt Event) *Record {
	if evt == nil {
		return nil
	}
	if renderer, ok := evt.(interface{ Event() *Record }); ok {
		return renderer.Event()
	}
	return nil
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
