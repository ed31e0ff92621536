package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesMatchingTopic(t *testing.T) {
	bus := New()
	ch, unsubscribe := bus.Subscribe(TopicNodeTransition)
	defer unsubscribe()

	bus.Publish(Event{Topic: TopicPulse})
	bus.Publish(Event{Topic: TopicNodeTransition, PlanID: "p1", NodeID: "n1"})

	select {
	case ev := <-ch:
		assert.Equal(t, TopicNodeTransition, ev.Topic)
		assert.Equal(t, "p1", ev.PlanID)
		assert.Equal(t, "n1", ev.NodeID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected to receive the nodeTransition event")
	}

	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected extra event: %+v", ev)
		}
	default:
	}
}

func TestSubscribeWithNoTopicsReceivesEverything(t *testing.T) {
	bus := New()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Publish(Event{Topic: TopicPlanCreated})
	bus.Publish(Event{Topic: TopicPlanCompleted})

	first := <-ch
	second := <-ch
	assert.Equal(t, TopicPlanCreated, first.Topic)
	assert.Equal(t, TopicPlanCompleted, second.Topic)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	ch, unsubscribe := bus.Subscribe(TopicPulse)
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := New()
	ch, unsubscribe := bus.Subscribe(TopicNodeTransition)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(Event{Topic: TopicNodeTransition})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	_ = ch
}

func TestPulseEveryStopsOnSignal(t *testing.T) {
	bus := New()
	ch, unsubscribe := bus.Subscribe(TopicPulse)
	defer unsubscribe()

	stop := make(chan struct{})
	bus.PulseEvery(10*time.Millisecond, stop)

	select {
	case ev := <-ch:
		assert.Equal(t, TopicPulse, ev.Topic)
	case <-time.After(time.Second):
		t.Fatal("expected at least one pulse")
	}
	close(stop)
}

func TestPublisherInterfaceSatisfiedByBus(t *testing.T) {
	var _ Publisher = New()
	require.Implements(t, (*Publisher)(nil), New())
}
