package livekit

import (
	"context"
	"fmt"
	"sync"

	lkproto "github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/videoroom/internal/domain"
)

const eventBuffer = 64

// sdkRoom binds NativeRoom to lksdk.Room. SDK callbacks only enqueue;
// a single dispatch goroutine delivers them so handlers may call back into the SDK.
type sdkRoom struct {
	cfg Config

	mu      sync.Mutex
	room    *lksdk.Room
	handler func(NativeEvent)
	pubs    map[domain.TrackKind]*lksdk.LocalTrackPublication
	events  chan NativeEvent
	closed  bool
	wg      conc.WaitGroup
}

var _ NativeRoom = (*sdkRoom)(nil)

// NewNativeRoom is the production NativeFactory.
func NewNativeRoom(cfg Config) NativeRoom {
	return &sdkRoom{
		cfg:    cfg,
		pubs:   make(map[domain.TrackKind]*lksdk.LocalTrackPublication),
		events: make(chan NativeEvent, eventBuffer),
	}
}

func (s *sdkRoom) Join(ctx context.Context, url, token string) error {
	room := lksdk.NewRoom(s.callback())

	s.mu.Lock()
	s.room = room
	s.mu.Unlock()
	s.wg.Go(s.dispatch)

	errc := make(chan error, 1)
	go func() {
		errc <- room.JoinWithToken(url, token, lksdk.WithAutoSubscribe(s.cfg.AutoSubscribe))
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		go func() {
			if err := <-errc; err == nil {
				room.Disconnect()
			}
		}()
		return ctx.Err()
	}
}

func (s *sdkRoom) callback() *lksdk.RoomCallback {
	cb := lksdk.NewRoomCallback()
	cb.OnDisconnected = func() { s.enqueue(NativeEvent{Type: NativeDisconnected}) }
	cb.OnReconnecting = func() { s.enqueue(NativeEvent{Type: NativeReconnecting}) }
	cb.OnReconnected = func() { s.enqueue(NativeEvent{Type: NativeReconnected}) }
	cb.OnParticipantConnected = func(rp *lksdk.RemoteParticipant) {
		s.enqueue(NativeEvent{Type: NativeParticipantJoined, Participant: rp.Identity()})
	}
	cb.OnParticipantDisconnected = func(rp *lksdk.RemoteParticipant) {
		s.enqueue(NativeEvent{Type: NativeParticipantLeft, Participant: rp.Identity()})
	}
	cb.OnTrackSubscribed = func(_ *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
		s.enqueue(NativeEvent{Type: NativeTrackSubscribed, Participant: rp.Identity(), Track: trackInfo(pub)})
	}
	cb.OnTrackUnsubscribed = func(_ *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
		s.enqueue(NativeEvent{Type: NativeTrackUnsubscribed, Participant: rp.Identity(), Track: trackInfo(pub)})
	}
	cb.OnTrackPublished = func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
		s.enqueue(NativeEvent{Type: NativeTrackPublished, Participant: rp.Identity(), Track: trackInfo(pub)})
	}
	cb.OnTrackUnpublished = func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
		s.enqueue(NativeEvent{Type: NativeTrackUnpublished, Participant: rp.Identity(), Track: trackInfo(pub)})
	}
	cb.OnLocalTrackPublished = func(pub *lksdk.LocalTrackPublication, lp *lksdk.LocalParticipant) {
		s.enqueue(NativeEvent{Type: NativeLocalTrackChanged, Participant: lp.Identity(), Track: trackInfo(pub)})
	}
	cb.OnLocalTrackUnpublished = func(pub *lksdk.LocalTrackPublication, lp *lksdk.LocalParticipant) {
		s.enqueue(NativeEvent{Type: NativeLocalTrackChanged, Participant: lp.Identity(), Track: trackInfo(pub)})
	}
	cb.OnTrackMuted = func(pub lksdk.TrackPublication, p lksdk.Participant) {
		s.enqueue(NativeEvent{Type: NativeTrackMuteChanged, Participant: p.Identity(), Track: trackInfo(pub)})
	}
	cb.OnTrackUnmuted = func(pub lksdk.TrackPublication, p lksdk.Participant) {
		s.enqueue(NativeEvent{Type: NativeTrackMuteChanged, Participant: p.Identity(), Track: trackInfo(pub)})
	}
	cb.OnMetadataChanged = func(_ string, p lksdk.Participant) {
		s.enqueue(NativeEvent{Type: NativeMetadataChanged, Participant: p.Identity()})
	}
	return cb
}

func (s *sdkRoom) enqueue(ev NativeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		log.Warn().Str("module", "livekit.sdk").Str("event", string(ev.Type)).Msg("event queue full, dropped")
	}
}

func (s *sdkRoom) dispatch() {
	for ev := range s.events {
		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()
		if h != nil {
			h(ev)
		}
	}
}

func (s *sdkRoom) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	room := s.room
	close(s.events)
	s.mu.Unlock()

	if room != nil {
		room.Disconnect()
	}
	s.wg.Wait()
}

func (s *sdkRoom) Name() string {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room == nil {
		return ""
	}
	return room.Name()
}

func (s *sdkRoom) LocalParticipant() (ParticipantInfo, bool) {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room == nil || room.LocalParticipant == nil {
		return ParticipantInfo{}, false
	}
	lp := room.LocalParticipant
	return ParticipantInfo{
		Identity: lp.Identity(),
		Name:     lp.Name(),
		Metadata: lp.Metadata(),
		Local:    true,
		Tracks:   trackInfos(lp.TrackPublications()),
	}, true
}

func (s *sdkRoom) RemoteParticipants() []ParticipantInfo {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room == nil {
		return nil
	}
	rps := room.GetRemoteParticipants()
	out := make([]ParticipantInfo, 0, len(rps))
	for _, rp := range rps {
		out = append(out, ParticipantInfo{
			Identity: rp.Identity(),
			Name:     rp.Name(),
			Metadata: rp.Metadata(),
			Tracks:   trackInfos(rp.TrackPublications()),
		})
	}
	return out
}

func (s *sdkRoom) SetMediaEnabled(_ context.Context, kind domain.TrackKind, enabled bool) error {
	s.mu.Lock()
	room, pub := s.room, s.pubs[kind]
	s.mu.Unlock()
	if room == nil || room.LocalParticipant == nil {
		return domain.ErrNotConnected
	}

	if pub != nil {
		pub.SetMuted(!enabled)
		return nil
	}
	if !enabled {
		return nil
	}

	track, opts, err := newLocalTrack(kind)
	if err != nil {
		return err
	}
	// PublishTrack blocks until the server acknowledges the publication.
	pub, err = room.LocalParticipant.PublishTrack(track, opts)
	if err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}

	s.mu.Lock()
	s.pubs[kind] = pub
	s.mu.Unlock()
	log.Info().Str("module", "livekit.sdk").Str("kind", string(kind)).Str("track_sid", pub.SID()).Msg("local track published")
	return nil
}

func (s *sdkRoom) OnEvent(fn func(NativeEvent)) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

func newLocalTrack(kind domain.TrackKind) (webrtc.TrackLocal, *lksdk.TrackPublicationOptions, error) {
	switch kind {
	case domain.TrackKindAudio:
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"microphone", "local",
		)
		return t, &lksdk.TrackPublicationOptions{Name: "microphone", Source: lkproto.TrackSource_MICROPHONE}, err
	case domain.TrackKindVideo:
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"camera", "local",
		)
		return t, &lksdk.TrackPublicationOptions{Name: "camera", Source: lkproto.TrackSource_CAMERA}, err
	default:
		return nil, nil, fmt.Errorf("unsupported track kind %q", kind)
	}
}

func trackInfo(pub lksdk.TrackPublication) *TrackInfo {
	if pub == nil {
		return nil
	}
	ti := toTrackInfo(pub)
	return &ti
}

func trackInfos(pubs []lksdk.TrackPublication) []TrackInfo {
	out := make([]TrackInfo, 0, len(pubs))
	for _, pub := range pubs {
		out = append(out, toTrackInfo(pub))
	}
	return out
}

func toTrackInfo(pub lksdk.TrackPublication) TrackInfo {
	kind := domain.TrackKindVideo
	if pub.Kind() == lksdk.TrackKindAudio {
		kind = domain.TrackKindAudio
	}
	return TrackInfo{SID: pub.SID(), Kind: kind, Muted: pub.IsMuted()}
}
