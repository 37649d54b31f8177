// Package simulated provides a MessagingTransport that fabricates every response
// in-process. It backs the standalone demo mode and never touches the network.
package simulated

import (
	"context"
	"sync"
	"time"

	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
	"gitlab.com/timkado/api/edumate-realtime/pkg/contextkeys"
)

const transportName = "simulated"

// Transport implements domain.MessagingTransport without a network.
type Transport struct {
	logger   domain.Logger
	socketID string
	now      func() time.Time

	mu        sync.Mutex
	sink      domain.EventSink
	connected bool
}

// NewTransport creates a simulated transport that reports socketID once connected.
func NewTransport(logger domain.Logger, socketID string) *Transport {
	if socketID == "" {
		socketID = "demo"
	}
	return &Transport{
		logger:   logger,
		socketID: socketID,
		now:      time.Now,
	}
}

func (t *Transport) Mode() domain.Mode { return domain.ModeSimulated }

func (t *Transport) SetEventSink(sink domain.EventSink) {
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()
}

// Connect marks the transport connected and notifies the sink. It always succeeds.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.connected = true
	sink := t.sink
	t.mu.Unlock()

	t.logger.Info(context.WithValue(ctx, contextkeys.TransportKey, transportName), "Simulated connection established", "socket_id", t.socketID)
	if sink != nil {
		sink.ConnectionChanged(domain.ConnectionEvent{Connected: true, SocketID: t.socketID})
	}
	return nil
}

// Disconnect clears the connected flag without notifying anyone.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
}

func (t *Transport) Status() domain.ConnectionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := domain.ConnectionStatus{
		Mode:      domain.ModeSimulated,
		State:     domain.StateDisconnected,
		Connected: t.connected,
		Transport: transportName,
	}
	if t.connected {
		st.State = domain.StateConnected
		st.SocketID = t.socketID
	}
	st.StateName = st.State.String()
	return st
}

// SendMessage echoes msg back as an Ack with a timestamp-derived id.
func (t *Transport) SendMessage(_ context.Context, msg domain.DirectMessage) (*domain.Ack, error) {
	msg = msg.WithDefaults()
	now := t.now()
	return &domain.Ack{
		ID:          now.UnixMilli(),
		RecipientID: msg.RecipientID,
		Content:     msg.Content,
		MessageType: msg.MessageType,
		Attachments: msg.Attachments,
		Timestamp:   now.UTC(),
	}, nil
}

// SendGroupMessage echoes msg back as an Ack with a timestamp-derived id.
func (t *Transport) SendGroupMessage(_ context.Context, msg domain.GroupMessage) (*domain.Ack, error) {
	msg = msg.WithDefaults()
	now := t.now()
	return &domain.Ack{
		ID:             now.UnixMilli(),
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		MessageType:    msg.MessageType,
		Attachments:    msg.Attachments,
		Timestamp:      now.UTC(),
	}, nil
}

// Emit accepts and discards every command.
func (t *Transport) Emit(ctx context.Context, event string, _ any) error {
	t.logger.Debug(context.WithValue(ctx, contextkeys.EventKey, event), "Simulated command dropped")
	return nil
}

// DeliverMessage injects an inbound direct message, as if the server had pushed it.
func (t *Transport) DeliverMessage(msg domain.Message) {
	if sink := t.currentSink(); sink != nil {
		sink.MessageReceived(msg)
	}
}

// DeliverGroupMessage injects an inbound group message.
func (t *Transport) DeliverGroupMessage(msg domain.Message) {
	if sink := t.currentSink(); sink != nil {
		sink.GroupMessageReceived(msg)
	}
}

// DeliverGroupTyping injects a group typing indicator.
func (t *Transport) DeliverGroupTyping(ev domain.TypingEvent) {
	if sink := t.currentSink(); sink != nil {
		sink.GroupTypingReceived(ev)
	}
}

func (t *Transport) currentSink() domain.EventSink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sink
}
