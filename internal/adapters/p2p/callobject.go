package p2p

import (
	"context"
	"time"
)

// LocalKey is the Participants() key of the caller's own entry.
const LocalKey = "local"

type CallEventType string

const (
	CallJoinedMeeting      CallEventType = "joined-meeting"
	CallLeftMeeting        CallEventType = "left-meeting"
	CallParticipantJoined  CallEventType = "participant-joined"
	CallParticipantUpdated CallEventType = "participant-updated"
	CallParticipantLeft    CallEventType = "participant-left"
	CallTrackStarted       CallEventType = "track-started"
	CallTrackStopped       CallEventType = "track-stopped"
	CallError              CallEventType = "error"
)

// TrackHandle is a live media handle owned by the call object.
type TrackHandle interface {
	ID() string
}

// CallParticipant is the call object's own view of a participant.
// A nil track handle means the media is not published.
type CallParticipant struct {
	SessionID  string
	UserName   string
	Local      bool
	Audio      bool
	Video      bool
	AudioTrack TrackHandle
	VideoTrack TrackHandle
}

type CallEvent struct {
	Type        CallEventType
	Participant *CallParticipant
	TrackKind   string
	TrackID     string
	ErrorMsg    string
}

// CallObject is the peer-to-peer SDK surface the Room adapter is written against.
// Implementations must not hold internal locks while invoking the event handler.
type CallObject interface {
	Join(ctx context.Context) error
	Leave(ctx context.Context) error
	// Destroy releases the peer connection, the signalling socket and local media.
	Destroy() error
	RoomName() string
	// Participants returns a full snapshot keyed by session id, plus LocalKey.
	Participants() map[string]CallParticipant
	SetLocalAudio(ctx context.Context, enabled bool) error
	SetLocalVideo(ctx context.Context, enabled bool) error
	OnEvent(func(CallEvent))
}

type CallConfig struct {
	URL        string
	Token      string
	UserName   string
	ICEServers []string
	PingPeriod time.Duration
}

type CallFactory func(cfg CallConfig) (CallObject, error)
