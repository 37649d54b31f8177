package domain

import (
	"encoding/json"
	"time"
)

// DefaultMessageType is applied to outbound messages that do not name a type.
const DefaultMessageType = "text"

// Attachment is a file reference carried by a chat message.
type Attachment struct {
	FileName string `json:"fileName,omitempty"`
	FileURL  string `json:"fileUrl,omitempty"`
	FileType string `json:"fileType,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
}

// DirectMessage is an outbound one-to-one message.
type DirectMessage struct {
	RecipientID int64        `json:"recipientId"`
	Content     string       `json:"content"`
	MessageType string       `json:"messageType,omitempty"`
	Attachments []Attachment `json:"attachments"`
}

// WithDefaults returns a copy with MessageType and Attachments filled in.
func (m DirectMessage) WithDefaults() DirectMessage {
	m.MessageType, m.Attachments = applyDefaults(m.MessageType, m.Attachments)
	return m
}

// GroupMessage is an outbound message to a group/session conversation.
type GroupMessage struct {
	ConversationID int64        `json:"conversationId"`
	Content        string       `json:"content"`
	MessageType    string       `json:"messageType,omitempty"`
	Attachments    []Attachment `json:"attachments"`
}

// WithDefaults returns a copy with MessageType and Attachments filled in.
func (m GroupMessage) WithDefaults() GroupMessage {
	m.MessageType, m.Attachments = applyDefaults(m.MessageType, m.Attachments)
	return m
}

func applyDefaults(messageType string, attachments []Attachment) (string, []Attachment) {
	if messageType == "" {
		messageType = DefaultMessageType
	}
	if attachments == nil {
		attachments = []Attachment{}
	}
	return messageType, attachments
}

// Ack is the resolved result of a send: the outbound fields echoed back together
// with the identifier and timestamp assigned by the server (or by simulated mode).
type Ack struct {
	ID             int64        `json:"id"`
	RecipientID    int64        `json:"recipientId,omitempty"`
	ConversationID int64        `json:"conversationId,omitempty"`
	SenderID       int64        `json:"senderId,omitempty"`
	Content        string       `json:"content"`
	MessageType    string       `json:"messageType"`
	Attachments    []Attachment `json:"attachments"`
	Timestamp      time.Time    `json:"timestamp"`
}

// Message is an inbound direct or group chat message.
type Message struct {
	ID             int64           `json:"id"`
	SenderID       int64           `json:"senderId,omitempty"`
	SenderName     string          `json:"senderName,omitempty"`
	RecipientID    int64           `json:"recipientId,omitempty"`
	ConversationID int64           `json:"conversationId,omitempty"`
	RoomID         string          `json:"roomId,omitempty"`
	Content        string          `json:"content"`
	MessageType    string          `json:"messageType,omitempty"`
	Attachments    []Attachment    `json:"attachments,omitempty"`
	Timestamp      string          `json:"timestamp,omitempty"`
	Raw            json.RawMessage `json:"-"`
}

// TypingEvent reports that a participant started or stopped typing.
type TypingEvent struct {
	RoomID         string `json:"roomId,omitempty"`
	ConversationID int64  `json:"conversationId,omitempty"`
	UserID         int64  `json:"userId,omitempty"`
	UserName       string `json:"userName,omitempty"`
	IsTyping       bool   `json:"isTyping"`
}

// MessageStatusEvent reports delivery/read progress for sent messages.
type MessageStatusEvent struct {
	MessageID  int64   `json:"messageId,omitempty"`
	MessageIDs []int64 `json:"messageIds,omitempty"`
	Status     string  `json:"status"`
	UserID     int64   `json:"userId,omitempty"`
}

// ConnectionEvent is delivered to connection listeners on every state change.
type ConnectionEvent struct {
	Connected bool   `json:"connected"`
	SocketID  string `json:"socketId,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Err       error  `json:"-"`
}

// NotificationEventClick is the only NotificationEvent type emitted today.
const NotificationEventClick = "click"

// NotificationEvent is delivered to notification listeners when the user interacts
// with a system notification.
type NotificationEvent struct {
	Type    string  `json:"type"`
	Message Message `json:"messageData"`
}

// Outbound payloads for fire-and-forget commands.
type (
	TypingCommand struct {
		RoomID   string `json:"roomId"`
		IsTyping bool   `json:"isTyping"`
	}

	GroupTypingCommand struct {
		ConversationID int64 `json:"conversationId"`
		IsTyping       bool  `json:"isTyping"`
	}

	MarkGroupReadCommand struct {
		ConversationID int64   `json:"conversationId"`
		MessageIDs     []int64 `json:"messageIds"`
	}
)
