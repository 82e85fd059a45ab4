package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/rtchub/rtchub/internal/room"
	"github.com/rtchub/rtchub/internal/signaling"
)

var ErrBackpressure = errors.New("backpressure")

// SignalWSController bridges WebSocket connections to the signaling
// engine. One readPump/writePump goroutine pair per connection; all
// protocol handling happens on the read goroutine.
type SignalWSController struct {
	Engine     *signaling.Engine
	Rooms      *room.Service
	PingPeriod time.Duration
}

func NewSignalWSController(engine *signaling.Engine, rooms *room.Service, pingPeriod time.Duration) *SignalWSController {
	return &SignalWSController{
		Engine:     engine,
		Rooms:      rooms,
		PingPeriod: pingPeriod,
	}
}

// WsSignalConn implements signaling.SignalConn over a WebSocket.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("sid", sid).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan []byte, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}
