package api

import (
	"context"
	"encoding/json"

	"codeberg.org/mutker/cpufreqctl/internal/events"
	"codeberg.org/mutker/cpufreqctl/internal/logger"
)

const (
	hubEventBuffer  = 64
	clientSendQueue = 32
)

// Subscriber is the part of the event bus the hub reads from.
type Subscriber interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

// Hub relays bus events to websocket clients. A client that cannot keep up
// is dropped.
type Hub struct {
	bus        Subscriber
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	done       chan struct{}
	log        logger.Logger
}

func NewHub(bus Subscriber) *Hub {
	return &Hub{
		bus:        bus,
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		log:        logger.With("hub"),
	}
}

// Run owns the client set until ctx is done. It must be called once.
func (h *Hub) Run(ctx context.Context) {
	evs, unsubscribe := h.bus.Subscribe(hubEventBuffer)
	defer unsubscribe()
	defer close(h.done)

	defer func() {
		for c := range h.clients {
			close(c.send)
			delete(h.clients, c)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.log.Debug().Str("remote", c.remote).Int("clients", len(h.clients)).Msg("Event stream client connected")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.log.Debug().Str("remote", c.remote).Msg("Event stream client disconnected")
			}

		case ev, ok := <-evs:
			if !ok {
				return
			}
			h.broadcast(ev)
		}
	}
}

func (h *Hub) broadcast(ev events.Event) {
	if len(h.clients) == 0 {
		return
	}

	message, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("Failed to encode event")
		return
	}

	for c := range h.clients {
		select {
		case c.send <- message:
		default:
			h.log.Warn().Str("remote", c.remote).Msg("Event stream client too slow, removing")
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// attach hands c to the hub. It reports false when the hub has stopped.
func (h *Hub) attach(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) detach(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
