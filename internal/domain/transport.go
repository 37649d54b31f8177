package domain

import (
	"context"
	"encoding/json"
)

// Mode selects which MessagingTransport implementation backs the ConnectionManager.
type Mode string

const (
	ModeLive      Mode = "live"
	ModeSimulated Mode = "simulated"
)

// ConnectionState is the live-mode state machine position.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ConnectionStatus is a point-in-time view of the connection.
type ConnectionStatus struct {
	Mode              Mode            `json:"mode"`
	State             ConnectionState `json:"-"`
	StateName         string          `json:"state"`
	Connected         bool            `json:"connected"`
	SocketID          string          `json:"socketId,omitempty"`
	Transport         string          `json:"transport,omitempty"`
	ReconnectAttempts int             `json:"reconnectAttempts"`
}

// EventSink receives inbound events from a MessagingTransport. Calls for one category
// arrive in the order the transport received them.
type EventSink interface {
	ConnectionChanged(ev ConnectionEvent)
	MessageReceived(msg Message)
	GroupMessageReceived(msg Message)
	TypingReceived(ev TypingEvent)
	GroupTypingReceived(ev TypingEvent)
	MessageStatusReceived(ev MessageStatusEvent)
}

// MessagingTransport is the capability the ConnectionManager is built on. There are
// two implementations, live and simulated, chosen once at construction.
type MessagingTransport interface {
	Mode() Mode

	// SetEventSink registers the receiver of inbound events. It must be called before Connect.
	SetEventSink(sink EventSink)

	// Connect blocks until the connection is established or has finally failed.
	Connect(ctx context.Context) error

	// Disconnect is idempotent and does not notify connection listeners.
	Disconnect()

	Status() ConnectionStatus

	SendMessage(ctx context.Context, msg DirectMessage) (*Ack, error)
	SendGroupMessage(ctx context.Context, msg GroupMessage) (*Ack, error)

	// Emit sends a fire-and-forget command. Live transports return ErrNotConnected
	// when there is no socket; the simulated transport always returns nil.
	Emit(ctx context.Context, event string, payload any) error
}

// SocketHandler receives everything a Socket reads after the handshake.
type SocketHandler interface {
	HandleEvent(event string, payload json.RawMessage)
	// HandleClose is called once when the socket stops, for whatever reason.
	HandleClose(reason string, err error)
}

// Socket is one open bidirectional channel to the messaging backend.
type Socket interface {
	ID() string
	Transport() string
	Emit(ctx context.Context, event string, payload any) error
	// Request sends event and waits for the server's ack payload.
	Request(ctx context.Context, event string, payload any) (json.RawMessage, error)
	Close() error
}

// Dialer opens a Socket authenticated with token. Dial returns once the server has
// announced the session, or with an error wrapping ErrAuthRejected when the server
// refused the credentials.
type Dialer interface {
	Name() string
	Dial(ctx context.Context, token string, handler SocketHandler) (Socket, error)
}
