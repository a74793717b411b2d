package push

import (
	"sync"

	"github.com/asnowfix/myecho/pkg/alexa/frame"
)

// Observer receives the lifecycle and the decoded messages of a Channel.
// OnMessage and OnError are called from the receive loop.
type Observer interface {
	OnOpen()
	OnMessage(m *frame.Message)
	// OnError reports decode failures, and the cause of an abnormal close
	// right before OnClose.
	OnError(err error)
	OnClose()
}

type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventError
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	}
	return "unknown"
}

type Event struct {
	Kind    EventKind
	Message *frame.Message
	Err     error
}

// Events is an Observer that delivers events on C, for callers that prefer
// to drain a channel. Events are queued without bound until read, so a slow
// reader never stalls Connect or the receive loop. C is closed after the
// close event and later events are dropped. Use one Events per connection.
type Events struct {
	C chan Event

	mu     sync.Mutex
	queue  []Event
	done   bool
	signal chan struct{}
}

func NewEvents(buffer int) *Events {
	e := &Events{C: make(chan Event, buffer), signal: make(chan struct{}, 1)}
	go e.pump()
	return e
}

func (e *Events) push(ev Event) {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, ev)
	e.done = ev.Kind == EventClose
	e.mu.Unlock()

	select {
	case e.signal <- struct{}{}:
	default:
	}
}

// pump forwards the queue to C in order.
func (e *Events) pump() {
	defer close(e.C)
	for range e.signal {
		e.mu.Lock()
		batch := e.queue
		e.queue = nil
		e.mu.Unlock()
		for _, ev := range batch {
			e.C <- ev
			if ev.Kind == EventClose {
				return
			}
		}
	}
}

func (e *Events) OnOpen() {
	e.push(Event{Kind: EventOpen})
}

func (e *Events) OnMessage(m *frame.Message) {
	e.push(Event{Kind: EventMessage, Message: m})
}

func (e *Events) OnError(err error) {
	e.push(Event{Kind: EventError, Err: err})
}

func (e *Events) OnClose() {
	e.push(Event{Kind: EventClose})
}

// Observers fans events out to several observers, in order.
type Observers []Observer

func (o Observers) OnOpen() {
	for _, x := range o {
		x.OnOpen()
	}
}

func (o Observers) OnMessage(m *frame.Message) {
	for _, x := range o {
		x.OnMessage(m)
	}
}

func (o Observers) OnError(err error) {
	for _, x := range o {
		x.OnError(err)
	}
}

func (o Observers) OnClose() {
	for _, x := range o {
		x.OnClose()
	}
}
