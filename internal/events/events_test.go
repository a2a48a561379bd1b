package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	bus.now = func() time.Time { return fixed }

	a, unsubA := bus.Subscribe(4)
	b, unsubB := bus.Subscribe(4)
	defer unsubA()
	defer unsubB()

	bus.Publish(ModeSwitched, "fallback")

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, Event{Type: ModeSwitched, Time: fixed, Payload: "fallback"}, ev)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	bus.Publish(StateUpdated, 1)
	bus.Publish(StateUpdated, 2)

	ev := <-ch
	assert.Equal(t, 1, ev.Payload)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1)
	require.Equal(t, 1, bus.Subscribers())

	unsub()
	unsub()

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, bus.Subscribers())

	bus.Publish(Notification, nil)
}
