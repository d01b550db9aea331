package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/videoroom/internal/app"
	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 32
)

var ErrBackpressure = errors.New("backpressure")

// EventMessage is one frame of the /api/ws/events stream.
type EventMessage struct {
	Type        string              `json:"type"`
	State       domain.RoomState    `json:"state"`
	Room        domain.RoomName     `json:"room,omitempty"`
	Participant *domain.Participant `json:"participant,omitempty"`
	Track       *domain.MediaTrack  `json:"track,omitempty"`
	Error       string              `json:"error,omitempty"`
	Snapshot    *app.Snapshot       `json:"snapshot,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type eventStream struct {
	registry   *app.Registry
	policy     app.Policy
	readLimit  int64
	pingPeriod time.Duration
}

type wsEventConn struct {
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	closed  bool
	dropped int
}

func (c *wsEventConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsEventConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

func (s *eventStream) handle(ctx context.Context, c *gin.Context) {
	id := clientID(c)
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	if s.readLimit > 0 {
		ws.SetReadLimit(s.readLimit)
	}

	conn := &wsEventConn{conn: ws, send: make(chan []byte, sendBuffer)}
	ctrl := s.registry.GetOrCreate(id)

	snap := ctrl.Snapshot()
	s.sendJSON(id, conn, EventMessage{Type: "snapshot", State: snap.State, Room: snap.Room, Error: snap.Error, Snapshot: &snap})

	unsubscribe := ctrl.Subscribe(func(ev core.Event) {
		s.sendJSON(id, conn, toMessage(ctrl, ev))
	})

	ctx, cancel := context.WithCancel(ctx)
	var wg conc.WaitGroup
	wg.Go(func() { s.writePump(ctx, id, conn) })
	wg.Go(func() {
		defer cancel()
		s.readPump(ctx, id, conn)
	})
	go func() {
		wg.Wait()
		unsubscribe()
		conn.Close()
		s.registry.Touch(id)
		log.Info().Str("module", "adapters.http").Str("client", string(id)).Msg("event stream closed")
	}()
}

func toMessage(ctrl *app.SessionController, ev core.Event) EventMessage {
	msg := EventMessage{
		Type:        string(ev.Type),
		State:       domain.StateDisconnected,
		Room:        ev.Room,
		Participant: ev.Participant,
		Track:       ev.Track,
	}
	if room := ctrl.Room(); room != nil {
		msg.State = room.State()
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	return msg
}

func (s *eventStream) sendJSON(id app.ClientID, c *wsEventConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); !errors.Is(err, ErrBackpressure) {
		return
	}

	c.mu.Lock()
	c.dropped++
	dropped := c.dropped
	c.mu.Unlock()

	action := app.DropEvent
	if s.policy != nil {
		action = s.policy.OnBackPressure(id, dropped)
	}
	log.Warn().Str("module", "adapters.http").Str("client", string(id)).Int("dropped", dropped).Msg("event stream backpressure")
	if action == app.CloseStream {
		c.Close()
	}
}

func (s *eventStream) writePump(ctx context.Context, id app.ClientID, c *wsEventConn) {
	defer c.Close()

	var ping <-chan time.Time
	if s.pingPeriod > 0 {
		ticker := time.NewTicker(s.pingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "adapters.http").Str("client", string(id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("writePump write error")
				return
			}
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("writePump ping")
				return
			}
		}
	}
}

// readPump only detects the client going away; the stream is one-way.
func (s *eventStream) readPump(ctx context.Context, id app.ClientID, c *wsEventConn) {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if _, _, err := c.conn.ReadMessage(); err != nil {
				log.Debug().Err(err).Str("module", "adapters.http").Str("client", string(id)).Msg("readPump closing")
				return
			}
		}
	}
}
