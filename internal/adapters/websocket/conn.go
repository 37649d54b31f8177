package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/envelope"
	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
	"gitlab.com/timkado/api/edumate-realtime/pkg/contextkeys"
	"gitlab.com/timkado/api/edumate-realtime/pkg/safego"
)

const transportName = "websocket"

// Connection is one client websocket session. It implements domain.Socket.
type Connection struct {
	wsConn       *websocket.Conn
	id           string
	handler      domain.SocketHandler
	logger       domain.Logger
	writeTimeout time.Duration
	pingInterval time.Duration

	connCtx           context.Context
	cancelConnCtxFunc context.CancelFunc
	acks              *envelope.Acks

	clientClosed atomic.Bool
	mu           sync.Mutex
	serverReason string // reason carried by a "disconnect" frame
	closeOnce    sync.Once
}

func newConnection(wsConn *websocket.Conn, sid string, handler domain.SocketHandler, logger domain.Logger, writeTimeout, pingInterval time.Duration) *Connection {
	ctx := context.WithValue(context.Background(), contextkeys.TransportKey, transportName)
	ctx = context.WithValue(ctx, contextkeys.SocketIDKey, sid)
	connCtx, cancel := context.WithCancel(ctx)
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Connection{
		wsConn:            wsConn,
		id:                sid,
		handler:           handler,
		logger:            logger,
		writeTimeout:      writeTimeout,
		pingInterval:      pingInterval,
		connCtx:           connCtx,
		cancelConnCtxFunc: cancel,
		acks:              envelope.NewAcks(),
	}
}

// start launches the reader and, when a ping interval is set, the keepalive loop.
func (c *Connection) start() {
	safego.Execute(c.connCtx, c.logger, "WebSocketReader-"+c.id, c.readLoop)
	if c.pingInterval > 0 {
		safego.Execute(c.connCtx, c.logger, "WebSocketPinger-"+c.id, c.pingLoop)
	}
}

func (c *Connection) ID() string        { return c.id }
func (c *Connection) Transport() string { return transportName }

// Emit writes a fire-and-forget frame.
func (c *Connection) Emit(ctx context.Context, event string, payload any) error {
	data, err := envelope.Encode(event, payload, "")
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

// Request writes a frame carrying a fresh ack id and waits for the matching ack.
func (c *Connection) Request(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	id, reply, release, err := c.acks.Register()
	if err != nil {
		return nil, err
	}
	defer release()

	data, err := envelope.Encode(event, payload, id)
	if err != nil {
		return nil, err
	}
	if err := c.write(ctx, data); err != nil {
		return nil, err
	}
	return envelope.Await(ctx, reply)
}

func (c *Connection) write(ctx context.Context, data []byte) error {
	select {
	case <-c.connCtx.Done():
		return envelope.ErrClosed
	default:
	}
	ctxToWrite, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := c.wsConn.Write(ctxToWrite, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close performs a normal closure. The read loop then reports the client reason.
func (c *Connection) Close() error {
	if !c.clientClosed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.wsConn.Close(websocket.StatusNormalClosure, "client disconnect")
	c.cancelConnCtxFunc()
	if err != nil && !isClosedErr(err) {
		return err
	}
	return nil
}

func (c *Connection) readLoop() {
	for {
		_, data, err := c.wsConn.Read(c.connCtx)
		if err != nil {
			c.finish(c.closeReason(err), err)
			return
		}

		env, err := envelope.Decode(data)
		if err != nil {
			c.logger.Warn(c.connCtx, "Dropping malformed frame", "error", err.Error())
			continue
		}

		switch env.Event {
		case domain.EventAck:
			if !c.acks.Resolve(env.Ack, env.Payload) {
				c.logger.Debug(c.connCtx, "Ack for unknown request", "ack", env.Ack)
			}
		case domain.EventDisconnect:
			var p domain.DisconnectPayload
			_ = json.Unmarshal(env.Payload, &p)
			if p.Reason == "" {
				p.Reason = domain.DisconnectReasonServer
			}
			c.mu.Lock()
			c.serverReason = p.Reason
			c.mu.Unlock()
			_ = c.wsConn.Close(websocket.StatusNormalClosure, "")
		default:
			c.handler.HandleEvent(env.Event, env.Payload)
		}
	}
}

func (c *Connection) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.connCtx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.connCtx, c.writeTimeout)
			err := c.wsConn.Ping(ctx)
			cancel()
			if err != nil {
				if c.connCtx.Err() == nil {
					c.logger.Warn(c.connCtx, "Keepalive ping failed", "error", err.Error())
					c.wsConn.CloseNow()
				}
				return
			}
		}
	}
}

func (c *Connection) closeReason(err error) string {
	if c.clientClosed.Load() {
		return domain.DisconnectReasonClient
	}
	c.mu.Lock()
	reason := c.serverReason
	c.mu.Unlock()
	if reason != "" {
		return reason
	}
	if websocket.CloseStatus(err) != -1 {
		return domain.DisconnectReasonTransportClose
	}
	return domain.DisconnectReasonTransportError
}

func (c *Connection) finish(reason string, err error) {
	c.closeOnce.Do(func() {
		c.cancelConnCtxFunc()
		c.acks.Close()
		var cause error
		if reason == domain.DisconnectReasonTransportError || reason == domain.DisconnectReasonTransportClose {
			cause = err
		}
		c.logger.Info(c.connCtx, "WebSocket session ended", "reason", reason)
		c.handler.HandleClose(reason, cause)
	})
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || websocket.CloseStatus(err) != -1
}
