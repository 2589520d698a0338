package gateway

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/casechat/internal/auth"
	"github.com/matheus3301/casechat/internal/protocol"
	"github.com/matheus3301/casechat/internal/status"
)

var (
	errQueueFull = errors.New("send queue full")
	errClosed    = errors.New("connection closed")
)

// conn is one realtime session. It satisfies room.Member and chat.Session.
// Inbound events are handled one at a time by the read loop; all writes go
// through the write loop.
type conn struct {
	handle   string
	identity auth.Identity
	ws       *websocket.Conn
	machine  *status.Machine
	opts     Options
	logger   *zap.Logger

	send     chan protocol.Envelope
	done     chan struct{}
	stopOnce sync.Once
	dropped  atomic.Int64
}

func (c *conn) Handle() string             { return c.handle }
func (c *conn) UserID() string             { return c.identity.UserID }
func (c *conn) Role() protocol.Role        { return c.identity.Role }
func (c *conn) IsJoined(caseID int64) bool { return c.machine.IsJoined(caseID) }

// Deliver enqueues env without blocking. A full queue drops the event for
// this session only.
func (c *conn) Deliver(env protocol.Envelope) error {
	select {
	case <-c.done:
		return errClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return errClosed
	default:
		c.dropped.Add(1)
		return errQueueFull
	}
}

// reply is Deliver for responses to this session's own requests.
func (c *conn) reply(env protocol.Envelope) {
	if err := c.Deliver(env); err != nil {
		c.logger.Warn("reply dropped", zap.String("type", env.Type), zap.Error(err))
	}
}

// stop asks the write loop to send a close frame and tear down the socket.
func (c *conn) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case env := <-c.send:
			if err := c.write(env); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.stop()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stop()
				return
			}
		case <-c.done:
			c.drain()
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// drain flushes events queued before stop, best effort.
func (c *conn) drain() {
	for {
		select {
		case env := <-c.send:
			if err := c.write(env); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *conn) write(env protocol.Envelope) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.ws.WriteJSON(env)
}
