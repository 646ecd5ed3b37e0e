package tracker

import (
	"fmt"
	"io"
	"sync"

	"github.com/kamilpajak/opsdiag/internal/cache"
	"github.com/kamilpajak/opsdiag/internal/metrics"
	"github.com/kamilpajak/opsdiag/pkg/models"
)

// EventType identifies what changed.
type EventType string

const (
	EventSnapshot EventType = "snapshot"
	EventRecord   EventType = "record"
	EventStatus   EventType = "status"
	EventInfo     EventType = "info"
	EventError    EventType = "error"
)

// Event is a single update published by the controller.
type Event struct {
	Type       EventType                `json:"type"`
	Message    string                   `json:"message,omitempty"`
	Records    []models.DiagnosisRecord `json:"records,omitempty"`
	Total      int                      `json:"total,omitempty"`
	Record     *models.DiagnosisRecord  `json:"record,omitempty"`
	Transition *cache.Transition        `json:"transition,omitempty"`
	Polling    bool                     `json:"polling"`
}

// Emitter receives controller events.
type Emitter interface {
	Emit(event Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(ev Event) { f(ev) }

type nopEmitter struct{}

func (nopEmitter) Emit(Event) {}

// TextEmitter formats events as human-readable lines for terminal output.
type TextEmitter struct {
	W io.Writer
}

// Emit writes a formatted line to the underlying writer.
func (e *TextEmitter) Emit(ev Event) {
	switch ev.Type {
	case EventSnapshot:
		active := 0
		for _, r := range ev.Records {
			if r.Status.IsActive() {
				active++
			}
		}
		fmt.Fprintf(e.W, "[list] %d diagnoses, %d active\n", ev.Total, active)
	case EventRecord:
		if ev.Record != nil {
			fmt.Fprintf(e.W, "[#%d] %s is %s\n", ev.Record.ID, ev.Record.Target(), ev.Record.Status)
		}
	case EventStatus:
		if ev.Transition != nil {
			fmt.Fprintf(e.W, "[#%d] %s -> %s\n", ev.Transition.RecordID, ev.Transition.From, ev.Transition.To)
		}
	case EventInfo:
		fmt.Fprintf(e.W, "  %s\n", ev.Message)
	case EventError:
		fmt.Fprintf(e.W, "Error: %s\n", ev.Message)
	}
}

// subscriberBuffer is the number of events a slow subscriber may lag behind
// before further events are dropped for it.
const subscriberBuffer = 32

// Broadcaster fans events out to subscribers. The first subscriber triggers
// OnFirst and the last one leaving triggers OnLast, which is how a stream of
// viewers maps to focusing and blurring the diagnosis view.
type Broadcaster struct {
	OnFirst func()
	OnLast  func()

	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewBroadcaster creates a Broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber. The returned cancel func must be called
// once; it closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch
	first := len(b.subs) == 1
	metrics.StreamSubscribers.Set(float64(len(b.subs)))
	b.mu.Unlock()

	if first && b.OnFirst != nil {
		b.OnFirst()
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *Broadcaster) unsubscribe(id int) {
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	last := ok && len(b.subs) == 0
	metrics.StreamSubscribers.Set(float64(len(b.subs)))
	b.mu.Unlock()

	if last && b.OnLast != nil {
		b.OnLast()
	}
}

// Subscribers returns the number of connected subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Emit delivers ev to every subscriber without blocking.
func (b *Broadcaster) Emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// MultiEmitter forwards each event to all of its emitters.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(ev Event) {
	for _, e := range m {
		e.Emit(ev)
	}
}
