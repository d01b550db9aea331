package core

import (
	"slices"
	"sync"

	"github.com/dkeye/videoroom/internal/domain"
)

type EventType string

const (
	EventConnected               EventType = "connected"
	EventDisconnected            EventType = "disconnected"
	EventParticipantConnected    EventType = "participantConnected"
	EventParticipantDisconnected EventType = "participantDisconnected"
	EventTrackSubscribed         EventType = "trackSubscribed"
	EventTrackUnsubscribed       EventType = "trackUnsubscribed"
	EventError                   EventType = "error"
)

// EventTypes lists every event a Room may emit.
var EventTypes = []EventType{
	EventConnected,
	EventDisconnected,
	EventParticipantConnected,
	EventParticipantDisconnected,
	EventTrackSubscribed,
	EventTrackUnsubscribed,
	EventError,
}

// Event signals that something changed. Listeners re-read the roster from the Room;
// Participant and Track are informational only.
type Event struct {
	Type        EventType
	Room        domain.RoomName
	Participant *domain.Participant
	Track       *domain.MediaTrack
	Err         error
}

type Handler func(Event)

// Listener is the registration returned by On. Off matches it by identity.
type Listener struct {
	event EventType
	fn    Handler
}

func (l *Listener) Event() EventType { return l.event }

// Emitter is a threadsafe listener registry. The zero value is ready to use.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[EventType][]*Listener
}

func (e *Emitter) On(t EventType, h Handler) *Listener {
	l := &Listener{event: t, fn: h}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[EventType][]*Listener)
	}
	e.listeners[t] = append(e.listeners[t], l)
	return l
}

func (e *Emitter) Off(l *Listener) {
	if l == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[l.event] = slices.DeleteFunc(e.listeners[l.event], func(x *Listener) bool {
		return x == l
	})
}

// Emit calls every listener of ev.Type in registration order.
// Handlers run outside the lock so they may call On/Off or read the Room.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	snapshot := slices.Clone(e.listeners[ev.Type])
	e.mu.RUnlock()

	for _, l := range snapshot {
		l.fn(ev)
	}
}

func (e *Emitter) Count(t EventType) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[t])
}
