// Package signal is the WebSocket transport adapter for the relay. It
// owns sockets and pumps; the relay never sees gorilla types.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openmentor/livesession/internal/config"
	"github.com/openmentor/livesession/internal/core"
	"github.com/openmentor/livesession/internal/relay"
)

var ErrBackpressure = errors.New("backpressure")

const sendBuffer = 32

type WSController struct {
	Relay *relay.Server
	Cfg   *config.Config
}

func NewWSController(srv *relay.Server, cfg *config.Config) *WSController {
	return &WSController{Relay: srv, Cfg: cfg}
}

// wsSignalConn implements core.SignalConnection over one websocket.
type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
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

// HandleSignal upgrades the request and runs the connection until it dies.
// Every upgrade mints a fresh ConnID: the registry tracks sockets, not
// browsers, so an overlapping reconnect never collides with the stale
// socket still waiting out its pong deadline.
func (ctl *WSController) HandleSignal(ctx context.Context, c *gin.Context) {
	cid := core.ConnID(uuid.NewString())
	log.Info().Str("module", "signal").Str("conn", string(cid)).
		Str("client", c.GetString("client_token")).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.Cfg.ReadLimit > 0 {
		ws.SetReadLimit(ctl.Cfg.ReadLimit)
	}

	conn := &wsSignalConn{
		conn: ws,
		send: make(chan core.Frame, sendBuffer),
	}
	rc := ctl.Relay.NewConn(cid, conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, cancel, conn)
	go ctl.readPump(ctx, cancel, rc, conn)
}
