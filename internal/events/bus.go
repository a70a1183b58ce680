// Package events provides the message channel decoupling the orchestrator
// from its consumers. Publishing is synchronous: all handlers subscribed to
// an event name run in subscription order before Publish returns. There is
// no replay; a subscriber registered after an event fires never sees it.
package events

import "time"

const (
	OrchestratorInitialized = "orchestrator:initialized"
	TaskDistributed         = "task:distributed"
	TaskProgress            = "task:progress"
	TaskCompleted           = "task:completed"
	TaskFailed              = "task:failed"
	OrchestratorShutdown    = "orchestrator:shutdown"
)

// Event is a state-change notification. Payload carries an event-specific
// value (typically a progress snapshot); consumers type-assert what they
// subscribe to.
type Event struct {
	Name    string    `json:"name"`
	TaskID  string    `json:"task_id,omitempty"`
	Worker  string    `json:"worker,omitempty"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

type Handler func(Event)

// Bus is a tagged dispatch table keyed by event name. It is composed into
// the orchestrator rather than inherited from, and publishing happens under
// the orchestrator's lock, so the bus itself carries no synchronization.
type Bus struct {
	handlers map[string][]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers a handler for one event name. Handlers for a name are
// invoked in the order they subscribed.
func (b *Bus) Subscribe(name string, h Handler) {
	b.handlers[name] = append(b.handlers[name], h)
}

// Publish delivers the event to every current subscriber of its name.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, h := range b.handlers[e.Name] {
		h(e)
	}
}
