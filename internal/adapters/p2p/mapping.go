package p2p

import (
	"github.com/dkeye/videoroom/internal/domain"
)

// MapParticipant converts the call object's participant into the domain shape.
// A track is exposed only when the call object holds a native handle for it;
// IsEnabled mirrors the call's audio/video flag.
func MapParticipant(cp CallParticipant) domain.Participant {
	var audio, video *domain.MediaTrack
	if cp.AudioTrack != nil {
		audio = domain.NewMediaTrack(cp.AudioTrack.ID(), domain.TrackKindAudio, cp.Audio)
	}
	if cp.VideoTrack != nil {
		video = domain.NewMediaTrack(cp.VideoTrack.ID(), domain.TrackKindVideo, cp.Video)
	}

	id := cp.SessionID
	if id == "" && cp.Local {
		id = LocalKey
	}
	return domain.NewParticipant(domain.ParticipantID(id), cp.UserName, cp.Local, audio, video)
}

// mapRoster rebuilds the whole roster from a Participants() snapshot.
func mapRoster(snapshot map[string]CallParticipant) (*domain.Participant, map[domain.ParticipantID]domain.Participant) {
	var local *domain.Participant
	remotes := make(map[domain.ParticipantID]domain.Participant, len(snapshot))
	for key, cp := range snapshot {
		if key == LocalKey || cp.Local {
			cp.Local = true
			p := MapParticipant(cp)
			local = &p
			continue
		}
		if cp.SessionID == "" {
			cp.SessionID = key
		}
		p := MapParticipant(cp)
		remotes[p.ID] = p
	}
	return local, remotes
}
