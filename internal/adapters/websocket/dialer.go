package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/config"
	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/envelope"
	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
	"gitlab.com/timkado/api/edumate-realtime/pkg/contextkeys"
)

const readLimitBytes = 1 << 20

// Dialer opens websocket sessions against messaging.url + messaging.websocket_path.
type Dialer struct {
	logger         domain.Logger
	configProvider config.Provider
}

// NewDialer creates a websocket dialer. The configuration is read on every dial.
func NewDialer(logger domain.Logger, configProvider config.Provider) *Dialer {
	return &Dialer{logger: logger, configProvider: configProvider}
}

func (d *Dialer) Name() string { return transportName }

// Dial connects, presents the token both as a bearer header and as the token query
// parameter, and waits for the server's "connect" frame.
func (d *Dialer) Dial(ctx context.Context, token string, handler domain.SocketHandler) (domain.Socket, error) {
	cfg := d.configProvider.Get().Messaging
	endpoint, err := Endpoint(cfg.URL, cfg.WebsocketPath, token)
	if err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, contextkeys.TransportKey, transportName)
	wsConn, resp, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("websocket handshake: %w (status %d)", domain.ErrAuthRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	wsConn.SetReadLimit(readLimitBytes)

	sid, err := awaitConnect(ctx, wsConn)
	if err != nil {
		wsConn.CloseNow()
		return nil, err
	}

	conn := newConnection(wsConn, sid, handler, d.logger, cfg.WriteTimeout(), cfg.PingInterval())
	conn.start()
	d.logger.Debug(conn.connCtx, "WebSocket session established")
	return conn, nil
}

// awaitConnect reads frames until the server announces the session id.
func awaitConnect(ctx context.Context, wsConn *websocket.Conn) (string, error) {
	for {
		_, data, err := wsConn.Read(ctx)
		if err != nil {
			return "", fmt.Errorf("waiting for connect frame: %w", err)
		}
		env, err := envelope.Decode(data)
		if err != nil {
			return "", err
		}
		switch env.Event {
		case domain.EventConnect:
			var p domain.ConnectPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil || p.SID == "" {
				return "", errors.New("connect frame without session id")
			}
			return p.SID, nil
		case domain.EventAuthError:
			resp := domain.ParseErrorResponse(env.Payload)
			return "", fmt.Errorf("%w: %s", domain.ErrAuthRejected, resp.Message)
		case domain.EventError:
			resp := domain.ParseErrorResponse(env.Payload)
			return "", fmt.Errorf("server error during handshake: %s", resp.Message)
		}
	}
}

// Endpoint turns the configured base URL into the websocket URL for token.
func Endpoint(base, path, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid messaging url %q: %w", base, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid messaging url %q: unsupported scheme", base)
	}
	if path != "" {
		u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
