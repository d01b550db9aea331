package domain

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

func (k TrackKind) Valid() bool {
	return k == TrackKindAudio || k == TrackKindVideo
}

// MediaTrack is a transient projection over a media handle owned by the underlying SDK.
type MediaTrack struct {
	ID        string    `json:"id"`
	Kind      TrackKind `json:"kind"`
	IsEnabled bool      `json:"is_enabled"`
	IsMuted   bool      `json:"is_muted"`
}

// NewMediaTrack keeps IsMuted the complement of IsEnabled.
func NewMediaTrack(id string, kind TrackKind, enabled bool) *MediaTrack {
	return &MediaTrack{ID: id, Kind: kind, IsEnabled: enabled, IsMuted: !enabled}
}
