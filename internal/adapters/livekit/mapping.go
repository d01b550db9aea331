package livekit

import (
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/domain"
)

// MapParticipant converts an SDK participant into the domain shape.
// Publications are scanned by kind; IsEnabled is the complement of the
// publication's muted flag. Malformed metadata is logged and dropped.
func MapParticipant(info ParticipantInfo) domain.Participant {
	var audio, video *domain.MediaTrack
	for _, t := range info.Tracks {
		switch {
		case t.Kind == domain.TrackKindAudio && audio == nil:
			audio = &domain.MediaTrack{ID: t.SID, Kind: domain.TrackKindAudio, IsMuted: t.Muted, IsEnabled: !t.Muted}
		case t.Kind == domain.TrackKindVideo && video == nil:
			video = &domain.MediaTrack{ID: t.SID, Kind: domain.TrackKindVideo, IsMuted: t.Muted, IsEnabled: !t.Muted}
		}
	}

	p := domain.NewParticipant(domain.ParticipantID(info.Identity), info.Name, info.Local, audio, video)
	p.Metadata = parseMetadata(info.Identity, info.Metadata)
	return p
}

func parseMetadata(identity, raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var md map[string]any
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		log.Warn().Err(err).Str("module", "livekit.mapping").Str("participant", identity).Msg("malformed participant metadata")
		return nil
	}
	return md
}
