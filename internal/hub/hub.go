// Package hub fans out push events to connected subscribers.
//
// The hub is transport agnostic: it hands each subscriber a channel of
// encoded frames and the server layer decides how to move them. Events are
// fire-and-forget. There is no replay; a subscriber only sees events
// published after it joined.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// subscriberBuffer is the per-subscriber frame backlog. A subscriber that
// falls this far behind is dropped rather than allowed to stall publishers.
const subscriberBuffer = 64

// Event is the wire shape of a single push frame.
type Event struct {
	Channel string      `json:"channelName"`
	Payload interface{} `json:"payload"`
}

// Subscriber receives encoded event frames from the hub.
type Subscriber struct {
	frames chan []byte
	once   sync.Once
}

// Frames returns the stream of encoded events. The channel is closed when
// the subscriber is removed from the hub.
func (s *Subscriber) Frames() <-chan []byte {
	return s.frames
}

func (s *Subscriber) close() {
	s.once.Do(func() {
		close(s.frames)
	})
}

// Hub is the broadcast registry. Safe for concurrent use.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscriber]bool
	closed bool
	log    zerolog.Logger
}

// New creates an empty hub.
func New(log zerolog.Logger) *Hub {
	return &Hub{
		subs: make(map[*Subscriber]bool),
		log:  log.With().Str("component", "hub").Logger(),
	}
}

// Subscribe registers a new subscriber. Returns nil if the hub is closed.
func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	s := &Subscriber{frames: make(chan []byte, subscriberBuffer)}
	h.subs[s] = true
	h.log.Debug().Int("subscribers", len(h.subs)).Msg("subscriber joined")
	return s
}

// Unsubscribe removes a subscriber and closes its frame channel.
// Safe to call more than once and with subscribers already dropped.
func (h *Hub) Unsubscribe(s *Subscriber) {
	if s == nil {
		return
	}
	h.mu.Lock()
	if h.subs[s] {
		delete(h.subs, s)
		s.close()
	}
	count := len(h.subs)
	h.mu.Unlock()
	h.log.Debug().Int("subscribers", count).Msg("subscriber left")
}

// Publish encodes one event and delivers it to every current subscriber.
// Subscribers with a full backlog are dropped; delivery to the rest
// continues. With no subscribers this is a cheap no-op.
func (h *Hub) Publish(channel string, payload interface{}) {
	frame, err := json.Marshal(Event{Channel: channel, Payload: payload})
	if err != nil {
		h.log.Error().Err(err).Str("channel", channel).Msg("dropping unencodable event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || len(h.subs) == 0 {
		return
	}

	var stalled []*Subscriber
	for s := range h.subs {
		select {
		case s.frames <- frame:
		default:
			stalled = append(stalled, s)
		}
	}
	for _, s := range stalled {
		delete(h.subs, s)
		s.close()
		h.log.Warn().Str("channel", channel).Msg("dropped stalled subscriber")
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close removes every subscriber and rejects new ones. Publish after Close
// is a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		s.close()
	}
	h.subs = make(map[*Subscriber]bool)
}
