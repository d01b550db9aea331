package core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dkeye/videoroom/internal/domain"
)

func TestEmitterMultipleListenersInOrder(t *testing.T) {
	var e Emitter
	var calls []string

	e.On(EventConnected, func(Event) { calls = append(calls, "first") })
	e.On(EventConnected, func(Event) { calls = append(calls, "second") })
	e.On(EventDisconnected, func(Event) { calls = append(calls, "other") })

	e.Emit(Event{Type: EventConnected})

	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestEmitterOffRemovesOnlyThatRegistration(t *testing.T) {
	var e Emitter
	fired := 0
	h := func(Event) { fired++ }

	a := e.On(EventError, h)
	e.On(EventError, h)
	e.Off(a)
	e.Off(a)
	e.Off(nil)

	e.Emit(Event{Type: EventError})
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, e.Count(EventError))
	assert.Equal(t, EventError, a.Event())
}

func TestEmitterListenerMayUnsubscribeDuringEmit(t *testing.T) {
	var e Emitter
	fired := 0
	var l *Listener
	l = e.On(EventConnected, func(Event) {
		fired++
		e.Off(l)
	})

	e.Emit(Event{Type: EventConnected})
	e.Emit(Event{Type: EventConnected})
	assert.Equal(t, 1, fired)
}

func TestRosterDiffAndSort(t *testing.T) {
	before := map[domain.ParticipantID]domain.Participant{
		"b": {ID: "b"},
		"c": {ID: "c"},
	}
	after := map[domain.ParticipantID]domain.Participant{
		"c": {ID: "c"},
		"a": {ID: "a"},
		"d": {ID: "d"},
	}

	joined, left := RosterDiff(before, after)
	assert.Equal(t, []domain.Participant{{ID: "a"}, {ID: "d"}}, joined)
	assert.Equal(t, []domain.Participant{{ID: "b"}}, left)

	assert.Equal(t, SortedParticipants(after), SortedParticipants(after))
	assert.Equal(t, domain.ParticipantID("a"), SortedParticipants(after)[0].ID)
}
