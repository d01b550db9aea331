// Package domain contains provider-agnostic entities without transport logic.
package domain

import "unicode/utf8"

const (
	DefaultDisplayName = "Guest"
	MaxDisplayNameLen  = 36
)

type ParticipantID string

// Participant is a value snapshot of a room occupant.
// It is rebuilt on every roster sync; holding one across syncs does not track live state.
type Participant struct {
	ID         ParticipantID  `json:"id"`
	Name       string         `json:"name"`
	IsLocal    bool           `json:"is_local"`
	HasAudio   bool           `json:"has_audio"`
	HasVideo   bool           `json:"has_video"`
	AudioTrack *MediaTrack    `json:"audio_track,omitempty"`
	VideoTrack *MediaTrack    `json:"video_track,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// DisplayName normalises an SDK-provided name: empty names become DefaultDisplayName
// and overly long names are cut at MaxDisplayNameLen runes.
func DisplayName(name string) string {
	if name == "" {
		return DefaultDisplayName
	}
	if utf8.RuneCountInString(name) <= MaxDisplayNameLen {
		return name
	}
	return string([]rune(name)[:MaxDisplayNameLen])
}

// NewParticipant builds a participant and derives HasAudio/HasVideo from the attached tracks.
func NewParticipant(id ParticipantID, name string, local bool, audio, video *MediaTrack) Participant {
	return Participant{
		ID:         id,
		Name:       DisplayName(name),
		IsLocal:    local,
		HasAudio:   audio != nil && audio.IsEnabled,
		HasVideo:   video != nil && video.IsEnabled,
		AudioTrack: audio,
		VideoTrack: video,
	}
}
