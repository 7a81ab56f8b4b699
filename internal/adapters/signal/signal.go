package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Handler receives the lifecycle of every client connection.
type Handler interface {
	OnOpen(ctx context.Context, conn core.Connection) error
	OnMessage(conn core.Connection, payload []byte)
	OnClose(conn core.Connection)
}

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

// pongWait must exceed PingPeriod so one missed pong is tolerated.
func (o Options) pongWait() time.Duration { return o.PingPeriod * 10 / 9 }

type SignalWSController struct {
	handler  Handler
	opts     Options
	upgrader websocket.Upgrader
}

func NewSignalWSController(h Handler, opts Options) *SignalWSController {
	return &SignalWSController{
		handler: h,
		opts:    opts.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WsSignalConn is the outbound side of one client socket. Frames are written by the
// write pump; Send only enqueues.
type WsSignalConn struct {
	id   core.ConnID
	conn *websocket.Conn
	send chan core.Frame

	once sync.Once
	done chan struct{}
}

func newWsSignalConn(id core.ConnID, ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		id:   id,
		conn: ws,
		send: make(chan core.Frame, buffer),
		done: make(chan struct{}),
	}
}

func (c *WsSignalConn) ID() core.ConnID { return c.id }

func (c *WsSignalConn) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Send waits for room in the outbound buffer until ctx is done.
func (c *WsSignalConn) Send(ctx context.Context, f core.Frame) error {
	if !c.Alive() {
		return domain.ErrConnectionClosed
	}
	select {
	case c.send <- f:
		return nil
	case <-c.done:
		return domain.ErrConnectionClosed
	case <-ctx.Done():
		return domain.ErrBackpressure
	}
}

func (c *WsSignalConn) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// HandleSignal upgrades the request and runs the connection until either side closes it.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	id := core.ConnID(uuid.NewString())
	logger := log.With().Str("module", "signal").Str("conn", string(id)).Str("client", c.GetString("client_token")).Logger()

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.opts.ReadLimit)
	conn := newWsSignalConn(id, ws, ctl.opts.SendBuffer)

	connCtx, cancel := context.WithCancel(ctx)
	if err := ctl.handler.OnOpen(connCtx, conn); err != nil {
		logger.Error().Err(err).Msg("connection rejected")
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "recognition unavailable")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ctl.opts.WriteWait))
		conn.Close()
		cancel()
		return
	}
	logger.Info().Str("remote", c.Request.RemoteAddr).Msg("new WS connection")

	go ctl.writePump(connCtx, conn)
	go ctl.readPump(connCtx, cancel, conn)
}
