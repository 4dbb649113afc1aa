package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Subscriber receives events pushed by Manager.Emit. Each subscriber
// gets its own buffered channel; a slow subscriber is dropped from,
// not blocked on, not the other way round.
type Subscriber chan Event

// Manager fans out emitted events to subscribers and logs every
// emission at debug level.
type Manager struct {
	log zerolog.Logger

	mu          sync.RWMutex
	subscribers map[chan Event]EventType // empty EventType means "all types"
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:         log.With().Str("component", "events").Logger(),
		subscribers: make(map[chan Event]EventType),
	}
}

// Subscribe registers a channel for events. If filter is empty, the
// subscriber receives every event type. Callers must drain the
// returned channel; Emit never blocks on a full subscriber.
func (m *Manager) Subscribe(filter EventType, buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	m.mu.Lock()
	m.subscribers[ch] = filter
	m.mu.Unlock()
	return ch
}

// Unsubscribe stops delivery to a channel previously returned by
// Subscribe and closes it.
func (m *Manager) Unsubscribe(ch <-chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subscribers {
		if sub == ch {
			delete(m.subscribers, sub)
			close(sub)
			return
		}
	}
}

// Emit publishes data for userID to every matching subscriber. A
// subscriber whose buffer is full is skipped for this event rather
// than blocking the emitter.
func (m *Manager) Emit(userID string, data Data) {
	evt := Event{UserID: userID, Data: data, Timestamp: time.Now()}

	m.log.Debug().Str("user_id", userID).Str("event_type", string(data.EventType())).Msg("event emitted")

	m.mu.RLock()
	defer m.mu.RUnlock()
	for ch, filter := range m.subscribers {
		if filter != "" && filter != data.EventType() {
			continue
		}
		select {
		case ch <- evt:
		default:
			m.log.Warn().Str("event_type", string(data.EventType())).Msg("subscriber buffer full, event dropped")
		}
	}
}

// EmitError logs a failure associated with an otherwise-normal
// operation without turning it into an event subscribers see. Used
// when an action partially succeeds and the failure is worth
// recording but not worth a typed event.
func (m *Manager) EmitError(context string, err error) {
	m.log.Error().Err(err).Str("context", context).Msg("operation error")
}
