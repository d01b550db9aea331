package p2p

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const defaultRoomID = "main"

var (
	ErrBackpressure = errors.New("backpressure")
	errCallClosed   = errors.New("call object destroyed")
	errNotJoined    = errors.New("call object has not joined")
)

// wsCall is a CallObject that speaks JSON signalling over a websocket and
// carries media on a single pion PeerConnection.
type wsCall struct {
	cfg    CallConfig
	url    *url.URL
	roomID string
	dialer *websocket.Dialer

	mu         sync.RWMutex
	conn       *websocket.Conn
	send       chan []byte
	writeDone  chan struct{}
	cancel     context.CancelFunc
	closed     bool
	joined     bool
	self       member
	roomName   string
	members    map[string]member
	remote     map[string]map[string]*webrtc.TrackRemote
	localAudio bool
	localVideo bool
	peer       *peer
	tracks     map[string]*webrtc.TrackLocalStaticSample
	senders    map[string]*webrtc.RTPSender
	handler    func(CallEvent)

	joinResult  chan error
	wg          conc.WaitGroup
	destroyOnce sync.Once
}

var _ CallObject = (*wsCall)(nil)

// NewCall creates a call object for a signalling URL. http(s) URLs are
// rewritten to ws(s); the room id is taken from the "room" query parameter.
func NewCall(cfg CallConfig) (CallObject, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse room url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported room url scheme %q", u.Scheme)
	}
	roomID := u.Query().Get("room")
	if roomID == "" {
		roomID = defaultRoomID
	}

	return &wsCall{
		cfg:        cfg,
		url:        u,
		roomID:     roomID,
		dialer:     websocket.DefaultDialer,
		members:    make(map[string]member),
		remote:     make(map[string]map[string]*webrtc.TrackRemote),
		tracks:     make(map[string]*webrtc.TrackLocalStaticSample),
		senders:    make(map[string]*webrtc.RTPSender),
		localAudio: true,
		localVideo: true,
		joinResult: make(chan error, 1),
	}, nil
}

func (c *wsCall) Join(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial signalling (%s): %w", resp.Status, err)
		}
		return fmt.Errorf("dial signalling: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	send := make(chan []byte, sendBuffer)
	writeDone := make(chan struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return errCallClosed
	}
	c.conn, c.send, c.writeDone, c.cancel = conn, send, writeDone, cancel
	c.mu.Unlock()

	c.wg.Go(func() { c.writePump(pumpCtx, conn, send, writeDone) })
	c.wg.Go(func() { c.readPump(pumpCtx, conn) })

	if err := c.sendJSON(joinMsg{Type: "join", Room: c.roomID, Name: c.cfg.UserName}); err != nil {
		return fmt.Errorf("send join: %w", err)
	}

	select {
	case err := <-c.joinResult:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := c.startMedia(); err != nil {
		return fmt.Errorf("start media: %w", err)
	}
	log.Info().Str("module", "p2p.call").Str("room", c.roomID).Str("sid", c.selfID()).Msg("joined")
	c.emit(CallEvent{Type: CallJoinedMeeting})
	return nil
}

func (c *wsCall) startMedia() error {
	sid := c.selfID()
	p, err := newPeer(peerConfiguration(c.cfg.ICEServers), sid)
	if err != nil {
		return err
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		sid+"-audio", sid,
	)
	if err != nil {
		_ = p.close()
		return err
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		sid+"-video", sid,
	)
	if err != nil {
		_ = p.close()
		return err
	}

	p.onICE = c.sendCandidate
	p.onTrack = c.onRemoteTrack
	p.onFailed = func() {
		c.emit(CallEvent{Type: CallError, ErrorMsg: "media connection failed"})
	}
	p.start()

	audioSender, err := p.addLocalTrack(audio)
	if err != nil {
		_ = p.close()
		return err
	}
	videoSender, err := p.addLocalTrack(video)
	if err != nil {
		_ = p.close()
		return err
	}

	c.mu.Lock()
	c.peer = p
	c.tracks["audio"], c.tracks["video"] = audio, video
	c.senders["audio"], c.senders["video"] = audioSender, videoSender
	muteAudio, muteVideo := !c.localAudio, !c.localVideo
	c.mu.Unlock()

	if muteAudio {
		_ = audioSender.ReplaceTrack(nil)
	}
	if muteVideo {
		_ = videoSender.ReplaceTrack(nil)
	}

	offer, err := p.createAndSetOffer()
	if err != nil {
		return err
	}
	return c.sendJSON(sdpMsg{Type: "offer", SDP: offer.SDP})
}

func (c *wsCall) Leave(_ context.Context) error {
	c.mu.RLock()
	joined, closed := c.joined, c.closed
	c.mu.RUnlock()
	if !joined || closed {
		return nil
	}
	return c.sendJSON(envelope{Type: "leave"})
}

// Destroy flushes pending signalling, then closes the peer connection and the
// socket and waits for every goroutine the call started.
func (c *wsCall) Destroy() error {
	var err error
	c.destroyOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn, p, cancel, writeDone := c.conn, c.peer, c.cancel, c.writeDone
		if c.send != nil {
			close(c.send)
		}
		c.members = make(map[string]member)
		c.remote = make(map[string]map[string]*webrtc.TrackRemote)
		c.mu.Unlock()

		if writeDone != nil {
			select {
			case <-writeDone:
			case <-time.After(writeWait):
			}
		}
		if cancel != nil {
			cancel()
		}
		if p != nil {
			err = p.close()
		}
		if conn != nil {
			_ = conn.Close()
		}
		c.wg.Wait()
		log.Debug().Str("module", "p2p.call").Str("room", c.roomID).Msg("destroyed")
	})
	return err
}

func (c *wsCall) RoomName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.roomName != "" {
		return c.roomName
	}
	return c.roomID
}

func (c *wsCall) Participants() map[string]CallParticipant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]CallParticipant, len(c.members)+1)
	if c.joined && !c.closed {
		out[LocalKey] = c.localParticipantLocked()
	}
	for id, m := range c.members {
		out[id] = c.participantLocked(m)
	}
	return out
}

func (c *wsCall) SetLocalAudio(ctx context.Context, enabled bool) error {
	return c.setLocalMedia(ctx, "audio", enabled)
}

func (c *wsCall) SetLocalVideo(ctx context.Context, enabled bool) error {
	return c.setLocalMedia(ctx, "video", enabled)
}

func (c *wsCall) setLocalMedia(_ context.Context, kind string, enabled bool) error {
	c.mu.Lock()
	if !c.joined || c.closed {
		c.mu.Unlock()
		return errNotJoined
	}
	if kind == "audio" {
		c.localAudio = enabled
	} else {
		c.localVideo = enabled
	}
	sender, track := c.senders[kind], c.tracks[kind]
	msg := mediaMsg{Type: "media", Audio: c.localAudio, Video: c.localVideo}
	local := c.localParticipantLocked()
	c.mu.Unlock()

	if sender != nil {
		var err error
		if enabled {
			err = sender.ReplaceTrack(track)
		} else {
			err = sender.ReplaceTrack(nil)
		}
		if err != nil {
			return fmt.Errorf("replace %s track: %w", kind, err)
		}
	}
	if err := c.sendJSON(msg); err != nil {
		return err
	}
	c.emit(CallEvent{Type: CallParticipantUpdated, Participant: &local})
	return nil
}

func (c *wsCall) OnEvent(fn func(CallEvent)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

func (c *wsCall) handleRoomState(data []byte) {
	var m roomStateMsg
	if err := json.Unmarshal(data, &m); err != nil {
		log.Error().Err(err).Str("module", "p2p.call").Msg("bad room_state payload")
		return
	}

	c.mu.Lock()
	c.self = m.Self
	c.roomName = m.RoomName
	if c.roomName == "" {
		c.roomName = m.Room
	}
	c.members = make(map[string]member, len(m.Members))
	for _, mb := range m.Members {
		if mb.ID == m.Self.ID {
			continue
		}
		c.members[mb.ID] = mb
	}
	first := !c.joined
	c.joined = true
	c.mu.Unlock()

	if first {
		c.resolveJoin(nil)
		return
	}
	c.emit(CallEvent{Type: CallParticipantUpdated})
}

func (c *wsCall) handleMember(typ string, data []byte) {
	var m memberMsg
	if err := json.Unmarshal(data, &m); err != nil {
		log.Error().Err(err).Str("module", "p2p.call").Str("type", typ).Msg("bad member payload")
		return
	}

	c.mu.Lock()
	if m.User.ID == "" || m.User.ID == c.self.ID {
		c.mu.Unlock()
		return
	}
	var evType CallEventType
	switch typ {
	case "member_joined":
		evType = CallParticipantJoined
		c.members[m.User.ID] = m.User
	case "member_updated":
		evType = CallParticipantUpdated
		c.members[m.User.ID] = m.User
	case "member_left":
		evType = CallParticipantLeft
		delete(c.members, m.User.ID)
		delete(c.remote, m.User.ID)
	}
	cp := c.participantLocked(m.User)
	c.mu.Unlock()

	c.emit(CallEvent{Type: evType, Participant: &cp})
}

func (c *wsCall) handleAnswer(data []byte) {
	var m sdpMsg
	if err := json.Unmarshal(data, &m); err != nil {
		log.Error().Err(err).Str("module", "p2p.call").Msg("bad answer payload")
		return
	}
	c.mu.RLock()
	p := c.peer
	c.mu.RUnlock()
	if p == nil {
		log.Warn().Str("module", "p2p.call").Msg("answer without peer connection")
		return
	}
	if err := p.applyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP}); err != nil {
		c.emit(CallEvent{Type: CallError, ErrorMsg: fmt.Sprintf("apply answer: %v", err)})
	}
}

func (c *wsCall) handleCandidate(data []byte) {
	var m candidateMsg
	if err := json.Unmarshal(data, &m); err != nil {
		log.Error().Err(err).Str("module", "p2p.call").Msg("bad candidate payload")
		return
	}
	c.mu.RLock()
	p := c.peer
	c.mu.RUnlock()
	if p == nil {
		return
	}
	cand := webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMLineIndex: m.SDPMLineIndex}
	if m.SDPMid != "" {
		cand.SDPMid = &m.SDPMid
	}
	if err := p.addICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "p2p.call").Msg("add ice candidate")
	}
}

func (c *wsCall) handleError(data []byte) {
	var m errorMsg
	if err := json.Unmarshal(data, &m); err != nil {
		log.Error().Err(err).Str("module", "p2p.call").Msg("bad error payload")
		return
	}
	c.mu.RLock()
	joined := c.joined
	c.mu.RUnlock()
	if !joined {
		c.resolveJoin(errors.New(m.Error))
		return
	}
	c.emit(CallEvent{Type: CallError, ErrorMsg: m.Error})
}

func (c *wsCall) sendCandidate(ci webrtc.ICECandidateInit) {
	msg := candidateMsg{Type: "candidate", Candidate: ci.Candidate, SDPMLineIndex: ci.SDPMLineIndex}
	if ci.SDPMid != nil {
		msg.SDPMid = *ci.SDPMid
	}
	if err := c.sendJSON(msg); err != nil {
		log.Warn().Err(err).Str("module", "p2p.call").Msg("send candidate")
	}
}

// onRemoteTrack attaches a remote track to the member whose id is the track's stream id.
func (c *wsCall) onRemoteTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	memberID, kind := track.StreamID(), track.Kind().String()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.remote[memberID] == nil {
		c.remote[memberID] = make(map[string]*webrtc.TrackRemote)
	}
	c.remote[memberID][kind] = track
	var cp *CallParticipant
	if m, ok := c.members[memberID]; ok {
		p := c.participantLocked(m)
		cp = &p
	}
	c.mu.Unlock()

	c.emit(CallEvent{Type: CallTrackStarted, Participant: cp, TrackKind: kind, TrackID: track.ID()})
	c.wg.Go(func() { c.drain(memberID, kind, track) })
}

// drain consumes a remote track until it ends, then detaches it.
func (c *wsCall) drain(memberID, kind string, track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			break
		}
	}

	c.mu.Lock()
	if c.remote[memberID][kind] == track {
		delete(c.remote[memberID], kind)
	}
	closed := c.closed
	var cp *CallParticipant
	if m, ok := c.members[memberID]; ok {
		p := c.participantLocked(m)
		cp = &p
	}
	c.mu.Unlock()

	if !closed {
		c.emit(CallEvent{Type: CallTrackStopped, Participant: cp, TrackKind: kind, TrackID: track.ID()})
	}
}

func (c *wsCall) localParticipantLocked() CallParticipant {
	name := c.self.Username
	if name == "" {
		name = c.cfg.UserName
	}
	cp := CallParticipant{
		SessionID: c.self.ID,
		UserName:  name,
		Local:     true,
		Audio:     c.localAudio,
		Video:     c.localVideo,
	}
	if t := c.tracks["audio"]; t != nil {
		cp.AudioTrack = t
	}
	if t := c.tracks["video"]; t != nil {
		cp.VideoTrack = t
	}
	return cp
}

func (c *wsCall) participantLocked(m member) CallParticipant {
	cp := CallParticipant{
		SessionID: m.ID,
		UserName:  m.Username,
		Audio:     m.Audio,
		Video:     m.Video,
	}
	if t := c.remote[m.ID]["audio"]; t != nil {
		cp.AudioTrack = t
	}
	if t := c.remote[m.ID]["video"]; t != nil {
		cp.VideoTrack = t
	}
	return cp
}

func (c *wsCall) resolveJoin(err error) {
	select {
	case c.joinResult <- err:
	default:
	}
}

func (c *wsCall) emit(ev CallEvent) {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h != nil {
		h(ev)
	}
}

func (c *wsCall) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *wsCall) selfID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self.ID
}
