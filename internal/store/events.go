package store

import "time"

// EventKind names the mutation behind an Event.
type EventKind string

const (
	EventInserted     EventKind = "inserted"
	EventUpdated      EventKind = "updated"
	EventDeleted      EventKind = "deleted"
	EventArchived     EventKind = "archived"
	EventCleared      EventKind = "cleared"
	EventLimitChanged EventKind = "limit_changed"
	EventImported     EventKind = "imported"
)

// Event is emitted after every successful mutation.
type Event struct {
	Kind    EventKind `json:"kind"`
	IDs     []string  `json:"ids,omitempty"`
	BatchID string    `json:"batch_id,omitempty"`
	At      time.Time `json:"at"`
}

const subscriberBuffer = 64

// Subscribe returns a channel of change events and a function that
// unsubscribes and closes it. Slow subscribers miss events rather than
// blocking mutations.
func (s *Store) Subscribe() (<-chan Event, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, subscriberBuffer)
	s.subs[id] = ch

	var once bool
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if once {
			return
		}
		once = true
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Store) emit(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.log.Warn("dropping store event for slow subscriber", "kind", ev.Kind)
		}
	}
}
