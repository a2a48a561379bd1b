package action

import (
	"context"
	"sync"

	"codeberg.org/mutker/cpufreqctl/internal/config"
	"codeberg.org/mutker/cpufreqctl/internal/events"
)

type fakePlans map[string]bool

func (f fakePlans) IsValid(_ context.Context, id string) bool {
	return f[id]
}

type fakeMaster struct {
	enabled bool
	sets    []any
}

func (m *fakeMaster) TriggerActionEnabled() bool {
	return m.enabled
}

func (m *fakeMaster) Set(key string, value any) error {
	if key == config.KeyTriggerActionEnabled {
		m.enabled = value.(bool)
	}
	m.sets = append(m.sets, value)
	return nil
}

type recordedNote struct {
	Title, Body string
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []recordedNote
}

func (n *fakeNotifier) Notify(title, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, recordedNote{title, body})
}

func (n *fakeNotifier) all() []recordedNote {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]recordedNote(nil), n.notes...)
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(t events.Type, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, events.Event{Type: t, Payload: payload})
}

func (b *recordingBus) ofType(t events.Type) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]events.Event, 0)
	for _, ev := range b.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
