package link

import (
	"sync"

	"github.com/marmos91/dittomq/pkg/amqp/types"
)

// Event is an outbound performative raised by the core for the transport
// layer to encode.
type Event interface {
	LinkName() string
}

// DispositionEvent carries a disposition to send to the peer.
type DispositionEvent struct {
	Link        string
	Disposition types.Disposition
}

// RedeliverEvent asks the transport to transmit a transfer recovered from a
// previous attachment.
type RedeliverEvent struct {
	Link     string
	Transfer *types.Transfer
}

// ResumeEvent asks the transport to transmit a settled transfer with resume
// set. It reports the outcome adopted on reattach for a delivery the peer
// listed as unsettled, so the peer can settle it too.
type ResumeEvent struct {
	Link     string
	Transfer *types.Transfer
}

// FlowEvent carries a flow to send to the peer.
type FlowEvent struct {
	Link string
	Flow types.Flow
}

func (e DispositionEvent) LinkName() string { return e.Link }
func (e RedeliverEvent) LinkName() string   { return e.Link }
func (e ResumeEvent) LinkName() string      { return e.Link }
func (e FlowEvent) LinkName() string        { return e.Link }

// EventSink receives outbound events. Emit is called without any endpoint
// lock held and must not block for long.
type EventSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// Discard drops every event.
var Discard EventSink = SinkFunc(func(Event) {})

// Recorder is an EventSink that keeps every event in order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends ev.
func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Dispositions returns the recorded disposition events.
func (r *Recorder) Dispositions() []DispositionEvent {
	return filterEvents[DispositionEvent](r)
}

// Redeliveries returns the recorded redeliver events.
func (r *Recorder) Redeliveries() []RedeliverEvent {
	return filterEvents[RedeliverEvent](r)
}

// Resumes returns the recorded resume events.
func (r *Recorder) Resumes() []ResumeEvent {
	return filterEvents[ResumeEvent](r)
}

// Flows returns the recorded flow events.
func (r *Recorder) Flows() []FlowEvent {
	return filterEvents[FlowEvent](r)
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func filterEvents[T Event](r *Recorder) []T {
	var out []T
	for _, ev := range r.Events() {
		if t, ok := ev.(T); ok {
			out = append(out, t)
		}
	}
	return out
}
