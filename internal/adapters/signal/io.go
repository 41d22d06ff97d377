package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openmentor/livesession/internal/relay"
)

const writeWait = 5 * time.Second

func (ctl *WSController) pongWait() time.Duration {
	// Ping period must stay under the pong deadline.
	return ctl.Cfg.PingPeriod * 10 / 9
}

func (ctl *WSController) writePump(ctx context.Context, cancel context.CancelFunc, c *wsSignalConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump feeds frames to the relay connection. On any exit path the
// relay sees a Disconnect, which is the implicit leave: registry cleanup
// and the user-left broadcast happen even on abrupt socket death.
func (ctl *WSController) readPump(ctx context.Context, cancel context.CancelFunc, rc *relay.Conn, c *wsSignalConn) {
	defer func() {
		cancel()
		rc.Disconnect()
		c.Close()
		log.Info().Str("module", "signal").Msg("readPump closed")
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Msg("readPump read error")
				return
			}
			rc.HandleMessage(ctx, data)
		}
	}
}
