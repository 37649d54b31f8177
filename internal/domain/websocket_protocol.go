package domain

import (
	"encoding/json"
)

// Outbound command names.
const (
	EventJoinUserRoom          = "join-user-room"
	EventSendMessage           = "send-message"
	EventJoinChatRoom          = "join-chat-room"
	EventLeaveChatRoom         = "leave-chat-room"
	EventTyping                = "typing"
	EventMarkMessagesRead      = "mark-messages-read"
	EventSendGroupMessage      = "send-group-message"
	EventJoinGroupChat         = "join-group-chat"
	EventLeaveGroupChat        = "leave-group-chat"
	EventGroupTyping           = "group-typing"
	EventMarkGroupMessagesRead = "mark-group-messages-read"
	EventPingActivity          = "ping-activity"
)

// Inbound event names.
const (
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventAck             = "ack"
	EventNewMessage      = "new-message"
	EventMessageStatus   = "message-status"
	EventUserTyping      = "user-typing"
	EventNewGroupMessage = "new-group-message"
	EventGroupUserTyping = "group-user-typing"
	EventAuthError       = "auth-error"
	EventError           = "error"
)

// Disconnect reasons. The server-initiated one triggers a fixed-delay reconnect;
// the client-initiated one never reaches listeners.
const (
	DisconnectReasonServer         = "io server disconnect"
	DisconnectReasonClient         = "io client disconnect"
	DisconnectReasonTransportClose = "transport close"
	DisconnectReasonTransportError = "transport error"
	DisconnectReasonAuthError      = "auth error"

	// DisconnectReasonReconnectFailed is reported once the reconnect budget is spent.
	DisconnectReasonReconnectFailed = "reconnect failed"
)

// Envelope is the frame exchanged with the messaging backend over any transport.
// Ack is set on requests that expect a reply and echoed on the matching "ack" frame.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ack     string          `json:"ack,omitempty"`
}

// NewEnvelope marshals payload into a new Envelope.
func NewEnvelope(event string, payload any, ack string) (Envelope, error) {
	env := Envelope{Event: event, Ack: ack}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = raw
	}
	return env, nil
}

// ConnectPayload is carried by the server's "connect" frame.
type ConnectPayload struct {
	SID string `json:"sid"`
}

// DisconnectPayload is carried by the server's "disconnect" frame.
type DisconnectPayload struct {
	Reason string `json:"reason"`
}

// AckPayload is the server's reply to a request.
type AckPayload struct {
	Success bool            `json:"success"`
	Message json.RawMessage `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}
