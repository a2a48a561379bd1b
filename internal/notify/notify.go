package notify

import (
	"codeberg.org/mutker/cpufreqctl/internal/events"
	"codeberg.org/mutker/cpufreqctl/internal/logger"
)

// Notifier delivers a user-facing message. Delivery problems are handled
// by the implementation and never reported to the caller.
type Notifier interface {
	Notify(title, body string)
}

// Message is the payload of a notification event.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Log writes notifications to the log.
type Log struct {
	log logger.Logger
}

func NewLog(l logger.Logger) *Log {
	return &Log{log: l}
}

func (n *Log) Notify(title, body string) {
	n.log.Info().Str("title", title).Str("body", body).Msg("Notification")
}

// Bus publishes notifications for connected UI clients.
type Bus struct {
	pub events.Publisher
}

func NewBus(pub events.Publisher) *Bus {
	return &Bus{pub: pub}
}

func (n *Bus) Notify(title, body string) {
	n.pub.Publish(events.Notification, Message{Title: title, Body: body})
}

// Multi delivers to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(title, body string) {
	for _, n := range m {
		n.Notify(title, body)
	}
}

// Func adapts a function to Notifier.
type Func func(title, body string)

func (f Func) Notify(title, body string) {
	f(title, body)
}
