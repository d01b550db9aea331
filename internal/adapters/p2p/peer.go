package p2p

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var DefaultICEServers = []string{"stun:stun.l.google.com:19302"}

func peerConfiguration(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = DefaultICEServers
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

// peer is the client side of one pion PeerConnection.
// Remote candidates that arrive before the answer are queued.
type peer struct {
	pc  *webrtc.PeerConnection
	sid string

	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onFailed func()

	mu                sync.Mutex
	pendingCandidates []webrtc.ICECandidateInit
}

func newPeer(cfg webrtc.Configuration, sid string) (*peer, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &peer{pc: pc, sid: sid}, nil
}

// start installs the pion callbacks. Handlers must be set before calling it.
func (p *peer) start() {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "p2p.peer").Str("sid", p.sid).Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed && p.onFailed != nil {
			p.onFailed()
		}
	})

	p.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && p.onICE != nil {
			p.onICE(cand.ToJSON())
		}
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "p2p.peer").
			Str("sid", p.sid).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		if p.onTrack != nil {
			p.onTrack(track, receiver)
		}
	})
}

func (p *peer) addLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return p.pc.AddTrack(track)
}

func (p *peer) createAndSetOffer() (*webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return p.pc.LocalDescription(), nil
}

func (p *peer) applyAnswer(answer webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return err
	}

	p.mu.Lock()
	pending := p.pendingCandidates
	p.pendingCandidates = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			log.Error().Err(err).Str("module", "p2p.peer").Str("sid", p.sid).Msg("add pending candidate")
		}
	}
	return nil
}

func (p *peer) addICECandidate(c webrtc.ICECandidateInit) error {
	if p.pc.RemoteDescription() != nil {
		return p.pc.AddICECandidate(c)
	}
	p.mu.Lock()
	p.pendingCandidates = append(p.pendingCandidates, c)
	p.mu.Unlock()
	return nil
}

func (p *peer) close() error {
	return p.pc.Close()
}
