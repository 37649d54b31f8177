package polling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/envelope"
	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
	"gitlab.com/timkado/api/edumate-realtime/pkg/contextkeys"
	"gitlab.com/timkado/api/edumate-realtime/pkg/safego"
)

type connOptions struct {
	client       *http.Client
	base         string
	sid          string
	token        string
	handler      domain.SocketHandler
	logger       domain.Logger
	pollWait     time.Duration
	writeTimeout time.Duration
}

// Connection is one long-polling session. It implements domain.Socket.
type Connection struct {
	connOptions

	connCtx context.Context
	cancel  context.CancelFunc
	acks    *envelope.Acks

	clientClosed atomic.Bool
	closeOnce    sync.Once
}

func newConnection(opts connOptions) *Connection {
	ctx := context.WithValue(context.Background(), contextkeys.TransportKey, transportName)
	ctx = context.WithValue(ctx, contextkeys.SocketIDKey, opts.sid)
	connCtx, cancel := context.WithCancel(ctx)
	return &Connection{
		connOptions: opts,
		connCtx:     connCtx,
		cancel:      cancel,
		acks:        envelope.NewAcks(),
	}
}

func (c *Connection) start() {
	safego.Execute(c.connCtx, c.logger, "PollingReader-"+c.sid, c.pollLoop)
}

func (c *Connection) ID() string        { return c.sid }
func (c *Connection) Transport() string { return transportName }

func (c *Connection) endpoint(op string) string {
	q := url.Values{"sid": []string{c.sid}}
	if op == "events" {
		q.Set("wait", waitParam(c.pollWait))
	}
	return c.base + "/" + op + "?" + q.Encode()
}

func (c *Connection) Emit(ctx context.Context, event string, payload any) error {
	data, err := envelope.Encode(event, payload, "")
	if err != nil {
		return err
	}
	return c.send(ctx, data)
}

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
	if err := c.send(ctx, data); err != nil {
		return nil, err
	}
	return envelope.Await(ctx, reply)
}

func (c *Connection) send(ctx context.Context, data []byte) error {
	if c.connCtx.Err() != nil {
		return envelope.ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := postJSON(ctx, c.client, c.endpoint("emit"), c.token, data); err != nil {
		return fmt.Errorf("polling emit: %w", err)
	}
	return nil
}

// Close ends the session on the server and stops polling.
func (c *Connection) Close() error {
	if !c.clientClosed.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	err := postJSON(ctx, c.client, c.endpoint("close"), c.token, nil)
	c.cancel()
	if err != nil {
		return fmt.Errorf("polling close: %w", err)
	}
	return nil
}

var errSessionGone = errors.New("polling session no longer exists")

func (c *Connection) pollLoop() {
	for {
		frames, err := c.poll()
		if err != nil {
			switch {
			case c.clientClosed.Load():
				c.finish(domain.DisconnectReasonClient, nil)
			case errors.Is(err, errSessionGone):
				c.finish(domain.DisconnectReasonTransportClose, err)
			default:
				c.finish(domain.DisconnectReasonTransportError, err)
			}
			return
		}
		for _, env := range frames {
			switch env.Event {
			case domain.EventAck:
				c.acks.Resolve(env.Ack, env.Payload)
			case domain.EventDisconnect:
				var p domain.DisconnectPayload
				_ = json.Unmarshal(env.Payload, &p)
				if p.Reason == "" {
					p.Reason = domain.DisconnectReasonServer
				}
				c.finish(p.Reason, nil)
				return
			default:
				c.handler.HandleEvent(env.Event, env.Payload)
			}
		}
	}
}

func (c *Connection) poll() ([]domain.Envelope, error) {
	ctx, cancel := context.WithTimeout(c.connCtx, c.pollWait+c.writeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("events"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		var frames []domain.Envelope
		if err := json.NewDecoder(resp.Body).Decode(&frames); err != nil {
			return nil, fmt.Errorf("malformed poll response: %w", err)
		}
		return frames, nil
	case http.StatusNoContent:
		return nil, nil
	case http.StatusNotFound, http.StatusGone:
		return nil, errSessionGone
	default:
		return nil, fmt.Errorf("poll: unexpected status %d", resp.StatusCode)
	}
}

func (c *Connection) finish(reason string, err error) {
	c.closeOnce.Do(func() {
		c.cancel()
		c.acks.Close()
		c.logger.Info(c.connCtx, "Polling session ended", "reason", reason)
		c.handler.HandleClose(reason, err)
	})
}
