package stack

import (
	"sync"
	"time"

	"log/slog"
)

// EventType enumerates the run notifications a Bus carries.
type EventType string

const (
	EventProgress EventType = "progress"
	EventCounter  EventType = "counter"
	EventPreview  EventType = "preview"
	EventDone     EventType = "done"
)

// Event is one observable moment of a stacking run. Progress events carry
// Message and Level; counter events carry Current and Total; preview and done
// events carry the session identifier so consumers can fetch the frame.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	Level     Level     `json:"level,omitempty"`
	Current   int       `json:"current,omitempty"`
	Total     int       `json:"total,omitempty"`
	Combined  int       `json:"combined,omitempty"`
	Time      time.Time `json:"time"`
}

// Bus fans run events out to any number of subscribers. Slow subscribers
// drop events rather than stall the pipeline.
type Bus struct {
	log    *slog.Logger
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBus creates an event bus logging drops through the given logger.
func NewBus(log *slog.Logger) *Bus {
	return &Bus{
		log:  log,
		subs: make(map[int]chan Event),
	}
}

// Subscribe returns a channel of run events and an unsubscribe function.
// The channel is closed on unsubscribe and on Bus Close.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 16)
	b.subs[id] = ch
	unsub := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			close(c)
			delete(b.subs, id)
		}
		b.mu.Unlock()
	}
	return ch, unsub
}

// Publish delivers ev to every subscriber, dropping it for subscribers whose
// buffer is full.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			if b.log != nil {
				b.log.Warn("event channel full, dropping", "subscriber", id, "type", ev.Type)
			}
		}
	}
}

// Close shuts every subscriber channel. Publish becomes a no-op afterwards.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
