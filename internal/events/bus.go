// Package events implements the typed publish/subscribe bus external
// collaborators use to observe Plan Runner activity (spec.md §2 C10):
// planCreated, planCompleted, planDeleted, nodeTransition, and a low
// frequency pulse used only to refresh time-sensitive UI tails. Grounded on
// the events.Event/events.Publisher shape from the orc orchestrator worker
// found among the other retrieved examples, backed by buffered channels
// instead of that file's unexported transport.
package events

import (
	"sync"
	"time"
)

// Topic names one of the event kinds a subscriber can filter on.
type Topic string

const (
	TopicPlanCreated    Topic = "planCreated"
	TopicPlanCompleted  Topic = "planCompleted"
	TopicPlanDeleted    Topic = "planDeleted"
	TopicNodeTransition Topic = "nodeTransition"
	TopicPulse          Topic = "pulse"
)

// Event is one occurrence published to the bus.
type Event struct {
	Topic     Topic
	PlanID    string
	NodeID    string // empty for plan-scoped events
	Data      map[string]any
	Timestamp time.Time
}

// Publisher is the narrow interface Plan Runner components depend on, so
// tests can substitute a recording fake without importing Bus.
type Publisher interface {
	Publish(ev Event)
}

// subscription is one consumer's buffered channel plus its topic filter.
type subscription struct {
	ch     chan Event
	topics map[Topic]bool // nil means "all topics"
}

// Bus is the concrete Publisher plus the subscribe side external
// collaborators use (editor UI, MCP façade, CLI watch commands).
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Subscribe registers a new consumer and returns a receive-only channel plus
// an unsubscribe function. A nil/empty topics list subscribes to everything.
// The channel is buffered; a slow consumer drops events rather than
// blocking Publish (spec.md §5: the bus must never become a suspension
// point for the scheduler).
func (b *Bus) Subscribe(topics ...Topic) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var filter map[Topic]bool
	if len(topics) > 0 {
		filter = make(map[Topic]bool, len(topics))
		for _, t := range topics {
			filter[t] = true
		}
	}

	id := b.next
	b.next++
	sub := &subscription{ch: make(chan Event, 64), topics: filter}
	b.subs[id] = sub

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			close(s.ch)
			delete(b.subs, id)
		}
	}
	return sub.ch, unsubscribe
}

// Publish fans ev out to every matching subscriber without blocking on any
// one of them: a full channel buffer drops the event for that subscriber.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.topics != nil && !sub.topics[ev.Topic] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// PulseEvery starts a goroutine that publishes TopicPulse on interval until
// stop is closed (spec.md §4.6 "fixed periodic pulse ~1s").
func (b *Bus) PulseEvery(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				b.Publish(Event{Topic: TopicPulse})
			}
		}
	}()
}
