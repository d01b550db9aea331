package core

import (
	"maps"
	"slices"
	"strings"

	"github.com/dkeye/videoroom/internal/domain"
)

// SortedParticipants returns the values of a roster map ordered by ID,
// so that two syncs of the same native snapshot compare equal.
func SortedParticipants(m map[domain.ParticipantID]domain.Participant) []domain.Participant {
	out := slices.Collect(maps.Values(m))
	slices.SortFunc(out, func(a, b domain.Participant) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return out
}

// RosterDiff reports which ids appeared and disappeared between two roster syncs.
func RosterDiff(before, after map[domain.ParticipantID]domain.Participant) (joined, left []domain.Participant) {
	added := make(map[domain.ParticipantID]domain.Participant)
	for id, p := range after {
		if _, ok := before[id]; !ok {
			added[id] = p
		}
	}
	removed := make(map[domain.ParticipantID]domain.Participant)
	for id, p := range before {
		if _, ok := after[id]; !ok {
			removed[id] = p
		}
	}
	return SortedParticipants(added), SortedParticipants(removed)
}
