package p2p

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 32
)

type member struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Audio    bool   `json:"audio"`
	Video    bool   `json:"video"`
}

type envelope struct {
	Type string `json:"type"`
}

type joinMsg struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Name string `json:"name,omitempty"`
}

type roomStateMsg struct {
	Type     string   `json:"type"`
	Room     string   `json:"room"`
	RoomName string   `json:"room_name"`
	Self     member   `json:"self"`
	Members  []member `json:"members"`
	Count    int      `json:"count"`
}

type memberMsg struct {
	Type string `json:"type"`
	User member `json:"user"`
}

type sdpMsg struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type candidateMsg struct {
	Type          string  `json:"type"`
	Candidate     string  `json:"candidate"`
	SDPMid        string  `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type mediaMsg struct {
	Type  string `json:"type"`
	Audio bool   `json:"audio"`
	Video bool   `json:"video"`
}

type errorMsg struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (c *wsCall) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte, done chan<- struct{}) {
	defer close(done)

	var ping <-chan time.Time
	if c.cfg.PingPeriod > 0 {
		ticker := time.NewTicker(c.cfg.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	pingFrame, _ := json.Marshal(envelope{Type: "ping"})

	write := func(data []byte) bool {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Error().Err(err).Str("module", "p2p.signal").Msg("writePump set deadline")
			return false
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "p2p.signal").Msg("writePump write error")
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "p2p.signal").Msg("writePump ctx done")
			return
		case data, ok := <-send:
			if !ok {
				return
			}
			if !write(data) {
				return
			}
		case <-ping:
			if !write(pingFrame) {
				return
			}
		}
	}
}

func (c *wsCall) readPump(ctx context.Context, conn *websocket.Conn) {
	defer log.Debug().Str("module", "p2p.signal").Str("room", c.roomID).Msg("readPump closing")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := conn.ReadMessage()
			if err != nil {
				if c.isClosed() {
					return
				}
				log.Error().Err(err).Str("module", "p2p.signal").Str("room", c.roomID).Msg("readPump read error")
				c.resolveJoin(err)
				c.emit(CallEvent{Type: CallLeftMeeting, ErrorMsg: err.Error()})
				return
			}
			c.handleSignal(data)
		}
	}
}

func (c *wsCall) handleSignal(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "p2p.signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "room_state":
		c.handleRoomState(data)
	case "member_joined", "member_updated", "member_left":
		c.handleMember(env.Type, data)
	case "answer":
		c.handleAnswer(data)
	case "candidate":
		c.handleCandidate(data)
	case "error":
		c.handleError(data)
	case "left":
		c.emit(CallEvent{Type: CallLeftMeeting})
	case "pong", "whoami":
	default:
		log.Warn().Str("module", "p2p.signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (c *wsCall) sendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || c.send == nil {
		return errCallClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}
