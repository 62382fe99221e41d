// Package events implements the typed event stream described in spec §6 and
// DESIGN NOTES §9: a single typed event enum and a bus, rather than the two
// near-duplicate ad-hoc event hierarchies a looser design tends to grow.
// Events are observational only — per §6, "they must never change control
// flow." Nothing in this package or its consumers may branch on an event to
// decide what to do next; branching happens on the typed return values each
// component already produces.
package events

import "time"

// Kind is the closed set of event kinds from spec §6.
type Kind string

const (
	KindStart                Kind = "start"
	KindProgress             Kind = "progress"
	KindWarning              Kind = "warning"
	KindError                Kind = "error"
	KindSuccess              Kind = "success"
	KindComplete             Kind = "complete"
	KindCancelled            Kind = "cancelled"
	KindPrompt               Kind = "prompt"
	KindPreview              Kind = "preview"
	KindEnforcementFailed    Kind = "enforcement_failed"
	KindEnforcementBypassed  Kind = "enforcement_bypassed"
	KindMemoryStatus         Kind = "memory_status"
	KindCleanup              Kind = "cleanup"
)

// Event is the single wire shape every component emits.
type Event struct {
	Kind      Kind                   `json:"kind"`
	Component string                 `json:"component"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Sink receives events. Components hold a Sink, never a *Bus, so they can't
// accidentally subscribe to their own stream or introspect another
// component's event payload shape (DESIGN NOTES §9).
type Sink interface {
	Emit(e Event)
}

// Bus fans events out to any number of subscribers. The zero value is ready
// to use. The subscriber list is not guarded by a lock: concurrent Emit calls
// only read it, but Subscribe must not run concurrently with Emit or with
// another Subscribe.
type Bus struct {
	subs []chan Event
}

// Subscribe registers a new channel that receives every future event.
// Buffered at 64 so a slow reporter can't block the orchestrator; if full,
// the oldest-style backpressure is the caller's problem — Emit never blocks.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	b.subs = append(b.subs, ch)
	return ch
}

// Emit sends e to every subscriber. Never blocks: a full subscriber channel
// silently drops the event rather than stalling the phase that's running.
func (b *Bus) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Prefixed returns a Sink that tags every event with component before
// forwarding to the bus — "the orchestrator forwards subcomponent events
// with a component prefix" (spec §6).
func (b *Bus) Prefixed(component string) Sink {
	return &prefixSink{bus: b, component: component}
}

type prefixSink struct {
	bus       *Bus
	component string
}

func (p *prefixSink) Emit(e Event) {
	e.Component = p.component
	p.bus.Emit(e)
}

// Discard is a Sink that drops every event; used where a component is
// constructed without a progress subscriber (e.g. inside pure unit tests).
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Emit(Event) {}
