package events

import (
	"sync"
	"time"

	"codeberg.org/mutker/cpufreqctl/internal/telemetry"
)

// Type names an event on the bus.
type Type string

const (
	StateUpdated      Type = "monitor-state-updated"
	ModeSwitched      Type = "mode-switched"
	ThresholdExceeded Type = "threshold-exceeded"
	IndicatorChanged  Type = "indicator-status-changed"
	ActionFinished    Type = "trigger-action-finished"
	ActionsDisabled   Type = "trigger-actions-disabled"
	SettingsChanged   Type = "settings-changed"
	Notification      Type = "notification"
)

type Event struct {
	Type    Type      `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// SettingPayload is published with SettingsChanged.
type SettingPayload struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Publisher accepts events without blocking.
type Publisher interface {
	Publish(t Type, payload any)
}

// Bus fans events out to subscribers. A subscriber whose buffer is full
// misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
	now    func() time.Time
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[uint64]chan Event),
		now:  time.Now,
	}
}

func (b *Bus) Publish(t Type, payload any) {
	ev := Event{Type: t, Time: b.now(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			telemetry.DroppedEvents.WithLabelValues(string(t)).Inc()
		}
	}
}

// Subscribe returns a channel of future events and a func that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Type, any) {}
