package application

import (
	"context"
	"errors"

	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/config"
	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/metrics"
	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
	"gitlab.com/timkado/api/edumate-realtime/pkg/contextkeys"
)

// ConnectionManager owns one logical connection to the messaging backend. It exposes
// the command surface used by the application and fans inbound events out to
// subscribers. The live/simulated choice lives entirely in the transport.
type ConnectionManager struct {
	logger         domain.Logger
	configProvider config.Provider
	transport      domain.MessagingTransport
	auth           domain.AuthProvider
	listeners      *ListenerRegistry
	notifier       *notifier
}

// NewConnectionManager creates a ConnectionManager over transport and registers itself
// as the transport's event sink. host may be nil when the environment has no
// notification capability.
func NewConnectionManager(
	logger domain.Logger,
	configProvider config.Provider,
	transport domain.MessagingTransport,
	auth domain.AuthProvider,
	host domain.NotificationHost,
) *ConnectionManager {
	listeners := NewListenerRegistry(logger)
	cm := &ConnectionManager{
		logger:         logger,
		configProvider: configProvider,
		transport:      transport,
		auth:           auth,
		listeners:      listeners,
		notifier:       newNotifier(logger, configProvider, host, listeners),
	}
	transport.SetEventSink(cm)
	return cm
}

// Connect establishes the connection. See domain.MessagingTransport.Connect.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	if userID, ok := cm.auth.UserID(ctx); ok {
		ctx = withUserID(ctx, userID)
	}
	return cm.transport.Connect(ctx)
}

// Disconnect closes the connection. It is idempotent and fires no connection events.
func (cm *ConnectionManager) Disconnect() {
	cm.transport.Disconnect()
}

// Reconnect drops the current connection and connects again with a fresh attempt budget.
func (cm *ConnectionManager) Reconnect(ctx context.Context) error {
	cm.logger.Info(ctx, "Reconnecting on request")
	cm.transport.Disconnect()
	return cm.Connect(ctx)
}

func (cm *ConnectionManager) Status() domain.ConnectionStatus {
	return cm.transport.Status()
}

func (cm *ConnectionManager) IsConnected() bool {
	return cm.transport.Status().Connected
}

// SocketID returns the server-assigned socket id, or "" when not connected.
func (cm *ConnectionManager) SocketID() string {
	return cm.transport.Status().SocketID
}

func (cm *ConnectionManager) Mode() domain.Mode {
	return cm.transport.Mode()
}

// Listeners returns the number of subscribers per event category.
func (cm *ConnectionManager) Listeners() ListenerCounts {
	return cm.listeners.Counts()
}

// SendMessage sends a direct message and waits for the server's ack. In live mode
// it fails with domain.ErrNotConnected before any I/O when there is no connection.
func (cm *ConnectionManager) SendMessage(ctx context.Context, msg domain.DirectMessage) (*domain.Ack, error) {
	ack, err := cm.transport.SendMessage(ctx, msg)
	cm.recordSend(ctx, "direct", domain.EventSendMessage, err)
	return ack, err
}

// SendGroupMessage sends a message to a group conversation and waits for the ack.
func (cm *ConnectionManager) SendGroupMessage(ctx context.Context, msg domain.GroupMessage) (*domain.Ack, error) {
	ack, err := cm.transport.SendGroupMessage(ctx, msg)
	cm.recordSend(ctx, "group", domain.EventSendGroupMessage, err)
	return ack, err
}

func (cm *ConnectionManager) recordSend(ctx context.Context, kind, event string, err error) {
	switch {
	case err == nil:
		metrics.IncrementMessagesSent(kind, "ack")
	case errors.Is(err, domain.ErrNotConnected):
		metrics.IncrementMessagesSent(kind, "not_connected")
	default:
		metrics.IncrementMessagesSent(kind, "error")
		cm.logger.Warn(context.WithValue(ctx, contextkeys.EventKey, event), "Send failed", "error", err.Error())
	}
}

// JoinChatRoom joins a direct-chat room. Unlike the other room commands it fails with
// domain.ErrNotConnected when there is no connection.
func (cm *ConnectionManager) JoinChatRoom(ctx context.Context, roomID string) error {
	return cm.join(ctx, domain.EventJoinChatRoom, roomID)
}

func (cm *ConnectionManager) LeaveChatRoom(ctx context.Context, roomID string) {
	cm.emit(ctx, domain.EventLeaveChatRoom, roomID)
}

func (cm *ConnectionManager) SendTyping(ctx context.Context, roomID string, isTyping bool) {
	cm.emit(ctx, domain.EventTyping, domain.TypingCommand{RoomID: roomID, IsTyping: isTyping})
}

func (cm *ConnectionManager) MarkMessagesAsRead(ctx context.Context, messageIDs []int64) {
	if messageIDs == nil {
		messageIDs = []int64{}
	}
	cm.emit(ctx, domain.EventMarkMessagesRead, messageIDs)
}

// JoinGroupChatRoom joins a group conversation; fails with domain.ErrNotConnected when
// there is no connection.
func (cm *ConnectionManager) JoinGroupChatRoom(ctx context.Context, conversationID int64) error {
	return cm.join(ctx, domain.EventJoinGroupChat, conversationID)
}

func (cm *ConnectionManager) LeaveGroupChatRoom(ctx context.Context, conversationID int64) {
	cm.emit(ctx, domain.EventLeaveGroupChat, conversationID)
}

func (cm *ConnectionManager) SendGroupTyping(ctx context.Context, conversationID int64, isTyping bool) {
	cm.emit(ctx, domain.EventGroupTyping, domain.GroupTypingCommand{ConversationID: conversationID, IsTyping: isTyping})
}

func (cm *ConnectionManager) MarkGroupMessagesAsRead(ctx context.Context, conversationID int64, messageIDs []int64) {
	if messageIDs == nil {
		messageIDs = []int64{}
	}
	cm.emit(ctx, domain.EventMarkGroupMessagesRead, domain.MarkGroupReadCommand{ConversationID: conversationID, MessageIDs: messageIDs})
}

// SendActivityPing tells the server the user is active.
func (cm *ConnectionManager) SendActivityPing(ctx context.Context) {
	cm.emit(ctx, domain.EventPingActivity, struct{}{})
}

func (cm *ConnectionManager) join(ctx context.Context, event string, payload any) error {
	if err := cm.transport.Emit(ctx, event, payload); err != nil {
		if errors.Is(err, domain.ErrNotConnected) {
			metrics.IncrementCommandsEmitted(event, "skipped")
		} else {
			metrics.IncrementCommandsEmitted(event, "error")
		}
		return err
	}
	metrics.IncrementCommandsEmitted(event, "sent")
	return nil
}

// emit sends a fire-and-forget command. Not being connected is not an error here.
func (cm *ConnectionManager) emit(ctx context.Context, event string, payload any) {
	err := cm.transport.Emit(ctx, event, payload)
	switch {
	case err == nil:
		metrics.IncrementCommandsEmitted(event, "sent")
	case errors.Is(err, domain.ErrNotConnected):
		metrics.IncrementCommandsEmitted(event, "skipped")
	default:
		metrics.IncrementCommandsEmitted(event, "error")
		cm.logger.Warn(context.WithValue(ctx, contextkeys.EventKey, event), "Failed to emit command", "error", err.Error())
	}
}

// RequestNotificationPermission asks the host for notification permission and reports
// whether it was granted. It returns false when the host cannot show notifications.
func (cm *ConnectionManager) RequestNotificationPermission(ctx context.Context) bool {
	return cm.notifier.requestPermission(ctx)
}

// OnMessage subscribes fn to direct messages. The returned func removes exactly this
// subscription; fn is not called after it returns.
func (cm *ConnectionManager) OnMessage(fn func(domain.Message)) func() {
	return cm.listeners.messages.add(fn)
}

// OnConnection subscribes fn to connection state changes.
func (cm *ConnectionManager) OnConnection(fn func(domain.ConnectionEvent)) func() {
	return cm.listeners.connection.add(fn)
}

// OnNotification subscribes fn to notification interactions.
func (cm *ConnectionManager) OnNotification(fn func(domain.NotificationEvent)) func() {
	return cm.listeners.notifications.add(fn)
}

func (cm *ConnectionManager) OnGroupMessage(fn func(domain.Message)) func() {
	return cm.listeners.groupMessages.add(fn)
}

func (cm *ConnectionManager) OnGroupTyping(fn func(domain.TypingEvent)) func() {
	return cm.listeners.groupTyping.add(fn)
}

func (cm *ConnectionManager) OnTyping(fn func(domain.TypingEvent)) func() {
	return cm.listeners.typing.add(fn)
}

func (cm *ConnectionManager) OnMessageStatus(fn func(domain.MessageStatusEvent)) func() {
	return cm.listeners.messageStatus.add(fn)
}

// ConnectionChanged implements domain.EventSink.
func (cm *ConnectionManager) ConnectionChanged(ev domain.ConnectionEvent) {
	event := domain.EventConnect
	if !ev.Connected {
		event = domain.EventDisconnect
	}
	cm.listeners.connection.dispatch(eventContext(event), ev)
}

// MessageReceived implements domain.EventSink.
func (cm *ConnectionManager) MessageReceived(msg domain.Message) {
	cm.listeners.messages.dispatch(eventContext(domain.EventNewMessage), msg)
	cm.notifier.notify(eventContext(domain.EventNewMessage), msg)
}

// GroupMessageReceived implements domain.EventSink.
func (cm *ConnectionManager) GroupMessageReceived(msg domain.Message) {
	cm.listeners.groupMessages.dispatch(eventContext(domain.EventNewGroupMessage), msg)
	cm.notifier.notify(eventContext(domain.EventNewGroupMessage), msg)
}

func (cm *ConnectionManager) TypingReceived(ev domain.TypingEvent) {
	cm.listeners.typing.dispatch(eventContext(domain.EventUserTyping), ev)
}

func (cm *ConnectionManager) GroupTypingReceived(ev domain.TypingEvent) {
	cm.listeners.groupTyping.dispatch(eventContext(domain.EventGroupUserTyping), ev)
}

func (cm *ConnectionManager) MessageStatusReceived(ev domain.MessageStatusEvent) {
	cm.listeners.messageStatus.dispatch(eventContext(domain.EventMessageStatus), ev)
}

func withUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, contextkeys.UserIDKey, formatID(userID))
}
