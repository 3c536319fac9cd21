package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"messenger/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxFrame   = 1 << 20 // 1MB
)

type Options struct {
	SendBuffer      int
	FramesPerSecond int
	// CheckOrigin 为 nil 时接受所有来源。
	CheckOrigin func(r *http.Request) bool
}

// Client 是一条 websocket 连接，实现 Peer。
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	proto   *Conn

	mu     sync.Mutex
	closed bool
}

func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("peer closed: %w", ErrTransport)
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return fmt.Errorf("send buffer full: %w", ErrTransport)
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Serve 升级 HTTP 连接；认证在连接建立后通过 auth 帧完成。
func Serve(d *Dispatcher, opts Options) gin.HandlerFunc {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.FramesPerSecond <= 0 {
		opts.FramesPerSecond = 20
	}
	upgrader := websocket.Upgrader{CheckOrigin: opts.CheckOrigin}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Msg("websocket upgrade")
			return
		}
		client := &Client{
			conn:    conn,
			send:    make(chan []byte, opts.SendBuffer),
			limiter: rate.NewLimiter(rate.Limit(opts.FramesPerSecond), opts.FramesPerSecond*2),
		}
		client.proto = NewConn(client)
		client.proto.Accept()
		metrics.WsConnections.Inc()

		go client.writePump()
		client.readPump(c.Request.Context(), d)
	}
}

// readPump 按到达顺序逐帧处理，保证同一连接内不乱序。
func (c *Client) readPump(ctx context.Context, d *Dispatcher) {
	defer func() {
		if err := d.Close(ctx, c.proto); err != nil {
			logFrameError(c.proto, err)
		}
		c.shutdown()
		_ = c.conn.Close()
		metrics.WsConnections.Dec()
	}()
	c.conn.SetReadLimit(maxFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}
		if !c.limiter.Allow() {
			uid, _ := c.proto.UserID()
			log.Debug().Uint("user_id", uid).Msg("frame rate limited")
			continue
		}
		if err := d.HandleFrame(ctx, c.proto, data); err != nil {
			logFrameError(c.proto, err)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func logFrameError(c *Conn, err error) {
	uid, _ := c.UserID()
	var ev *zerolog.Event
	switch {
	case errors.Is(err, ErrStore):
		ev = log.Error()
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrTransport):
		ev = log.Warn()
	default:
		ev = log.Debug()
	}
	ev.Err(err).Uint("user_id", uid).Msg("realtime frame dropped")
}
