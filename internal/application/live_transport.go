package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/metrics"
	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
	"gitlab.com/timkado/api/edumate-realtime/pkg/contextkeys"
	"gitlab.com/timkado/api/edumate-realtime/pkg/safego"
)

// LiveTransport implements domain.MessagingTransport over a persistent socket opened by
// a domain.Dialer. It owns the reconnect state machine:
//
//	disconnected -> connecting -> connected -> (disconnected | reconnecting) -> connecting ...
//
// Connect failures and abnormal closes are retried with linear backoff up to
// policy.MaxAttempts; a server-initiated disconnect gets one extra reconnect after a
// fixed delay. At most one reconnect is scheduled at any time.
type LiveTransport struct {
	logger     domain.Logger
	auth       domain.AuthProvider
	dialer     domain.Dialer
	policy     ReconnectPolicy
	ackTimeout time.Duration
	schedule   scheduleFunc // must not call fn synchronously

	mu              sync.Mutex
	sink            domain.EventSink
	state           domain.ConnectionState
	socket          domain.Socket
	attempts        int
	epoch           uint64 // bumped on every dial and on Disconnect; stale dials and timers compare against it
	dialing         bool
	pending         *pendingConnect
	cancelReconnect stopFunc
}

// NewLiveTransport creates a disconnected live transport.
func NewLiveTransport(logger domain.Logger, auth domain.AuthProvider, dialer domain.Dialer, policy ReconnectPolicy, ackTimeout time.Duration) *LiveTransport {
	if ackTimeout <= 0 {
		ackTimeout = 10 * time.Second
	}
	return &LiveTransport{
		logger:     logger,
		auth:       auth,
		dialer:     dialer,
		policy:     policy,
		ackTimeout: ackTimeout,
		schedule:   afterFunc,
		sink:       nopSink{},
		state:      domain.StateDisconnected,
	}
}

// Mode implements domain.MessagingTransport.
func (t *LiveTransport) Mode() domain.Mode { return domain.ModeLive }

// SetEventSink implements domain.MessagingTransport.
func (t *LiveTransport) SetEventSink(sink domain.EventSink) {
	if sink == nil {
		sink = nopSink{}
	}
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()
}

// Connect opens the socket, retrying under the backoff policy. It returns nil once
// connected, domain.ErrNoAuthToken without dialing when there is no token,
// *domain.ConnectError once the attempt budget is spent, *domain.AuthError when the
// server refuses the credentials and domain.ErrConnectionClosed if Disconnect is called
// first. Cancelling ctx stops the wait, not the attempt.
func (t *LiveTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state == domain.StateConnected && t.socket != nil {
		t.mu.Unlock()
		t.logger.Debug(ctx, "Already connected, skipping connect")
		return nil
	}
	if p := t.pending; p != nil {
		t.mu.Unlock()
		return p.wait(ctx)
	}
	t.mu.Unlock()

	token, err := t.auth.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to read auth token: %w", err)
	}
	if token == "" {
		return domain.ErrNoAuthToken
	}

	t.mu.Lock()
	if t.state == domain.StateConnected && t.socket != nil {
		t.mu.Unlock()
		return nil
	}
	if p := t.pending; p != nil {
		t.mu.Unlock()
		return p.wait(ctx)
	}
	p := newPendingConnect()
	t.pending = p
	t.attempts = 0
	metrics.SetReconnectAttempts(0)
	if t.dialing {
		// A background reconnect is already dialing; the caller adopts it.
		t.mu.Unlock()
		return p.wait(ctx)
	}
	t.stopScheduledLocked()
	epoch := t.beginDialLocked()
	t.mu.Unlock()

	t.logger.Info(ctx, "Connecting to messaging backend", "transport", t.dialer.Name())
	safego.Execute(context.Background(), t.logger, "LiveTransportDial", func() {
		t.attempt(epoch, token)
	})
	return p.wait(ctx)
}

// Disconnect closes the socket if there is one. It is idempotent, cancels any scheduled
// reconnect, fails a pending Connect with domain.ErrConnectionClosed and does not notify
// connection listeners.
func (t *LiveTransport) Disconnect() {
	t.mu.Lock()
	sock := t.socket
	t.socket = nil
	t.epoch++
	t.dialing = false
	t.stopScheduledLocked()
	t.setStateLocked(domain.StateDisconnected)
	p := t.takePendingLocked()
	t.mu.Unlock()

	if sock != nil {
		ctx := t.socketContext(sock)
		if err := sock.Close(); err != nil {
			t.logger.Warn(ctx, "Error closing socket on disconnect", "error", err.Error())
		}
		t.logger.Info(ctx, "Disconnected from messaging backend")
	}
	p.finish(domain.ErrConnectionClosed)
}

// Status implements domain.MessagingTransport.
func (t *LiveTransport) Status() domain.ConnectionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := domain.ConnectionStatus{
		Mode:              domain.ModeLive,
		State:             t.state,
		StateName:         t.state.String(),
		Connected:         t.state == domain.StateConnected && t.socket != nil,
		ReconnectAttempts: t.attempts,
	}
	if t.socket != nil {
		st.SocketID = t.socket.ID()
		st.Transport = t.socket.Transport()
	}
	return st
}

// SendMessage implements domain.MessagingTransport.
func (t *LiveTransport) SendMessage(ctx context.Context, msg domain.DirectMessage) (*domain.Ack, error) {
	return t.request(ctx, domain.EventSendMessage, msg.WithDefaults())
}

// SendGroupMessage implements domain.MessagingTransport.
func (t *LiveTransport) SendGroupMessage(ctx context.Context, msg domain.GroupMessage) (*domain.Ack, error) {
	return t.request(ctx, domain.EventSendGroupMessage, msg.WithDefaults())
}

// Emit implements domain.MessagingTransport.
func (t *LiveTransport) Emit(ctx context.Context, event string, payload any) error {
	sock := t.currentSocket()
	if sock == nil {
		return domain.ErrNotConnected
	}
	return sock.Emit(ctx, event, payload)
}

func (t *LiveTransport) request(ctx context.Context, event string, payload any) (*domain.Ack, error) {
	sock := t.currentSocket()
	if sock == nil {
		return nil, domain.ErrNotConnected
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.ackTimeout)
		defer cancel()
	}

	raw, err := sock.Request(ctx, event, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", event, err)
	}

	var reply domain.AckPayload
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("%s: malformed ack: %w", event, err)
	}
	if !reply.Success {
		return nil, &domain.AckError{Event: event, Message: reply.Error}
	}

	ack := &domain.Ack{}
	if len(reply.Message) > 0 {
		if err := json.Unmarshal(reply.Message, ack); err != nil {
			return nil, fmt.Errorf("%s: malformed ack message: %w", event, err)
		}
	}
	if ack.Attachments == nil {
		ack.Attachments = []domain.Attachment{}
	}
	return ack, nil
}

func (t *LiveTransport) currentSocket() domain.Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != domain.StateConnected {
		return nil
	}
	return t.socket
}

// attempt dials once. token is read from the AuthProvider when empty.
func (t *LiveTransport) attempt(epoch uint64, token string) {
	ctx := context.WithValue(context.Background(), contextkeys.TransportKey, t.dialer.Name())

	if token == "" {
		tok, err := t.auth.Token(ctx)
		if err == nil && tok == "" {
			err = domain.ErrNoAuthToken
		}
		if err != nil {
			t.abandon(ctx, epoch, err)
			return
		}
		token = tok
	}

	h := &socketHandler{t: t, ready: make(chan struct{})}
	defer h.release()

	dialCtx, cancel := context.WithTimeout(ctx, t.policy.ConnectTimeout)
	sock, err := t.dialer.Dial(dialCtx, token, h)
	cancel()
	if err != nil {
		t.dialFailed(ctx, epoch, err)
		return
	}
	t.dialSucceeded(epoch, sock, h)
}

func (t *LiveTransport) dialSucceeded(epoch uint64, sock domain.Socket, h *socketHandler) {
	ctx := t.socketContext(sock)

	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		t.logger.Info(ctx, "Dial completed after disconnect, closing stale socket")
		_ = sock.Close()
		return
	}
	t.socket = sock
	t.dialing = false
	t.attempts = 0
	t.setStateLocked(domain.StateConnected)
	p := t.takePendingLocked()
	sink := t.sink
	t.mu.Unlock()

	h.sock = sock
	h.release()

	metrics.IncrementConnectAttempt(sock.Transport(), "success")
	metrics.SetReconnectAttempts(0)
	t.logger.Info(ctx, "Connected to messaging backend")

	if userID, ok := t.auth.UserID(ctx); ok {
		if err := sock.Emit(ctx, domain.EventJoinUserRoom, userID); err != nil {
			t.logger.Warn(ctx, "Failed to join user room", "user_id", userID, "error", err.Error())
		}
	}

	sink.ConnectionChanged(domain.ConnectionEvent{Connected: true, SocketID: sock.ID()})
	p.finish(nil)
}

func (t *LiveTransport) dialFailed(ctx context.Context, epoch uint64, err error) {
	if errors.Is(err, domain.ErrAuthRejected) {
		metrics.IncrementConnectAttempt(t.dialer.Name(), "auth_error")
		t.failAuth(ctx, epoch, nil, &domain.AuthError{Err: err})
		return
	}
	metrics.IncrementConnectAttempt(t.dialer.Name(), "error")

	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		return
	}
	t.dialing = false
	if t.attempts < t.policy.MaxAttempts {
		t.attempts++
		attempt := t.attempts
		delay := t.policy.Backoff(attempt)
		t.setStateLocked(domain.StateReconnecting)
		t.scheduleReconnectLocked(delay, "backoff")
		t.mu.Unlock()

		metrics.SetReconnectAttempts(attempt)
		t.logger.Warn(ctx, "Connection error, retrying",
			"error", err.Error(), "attempt", attempt, "max_attempts", t.policy.MaxAttempts, "delay", delay.String())
		return
	}

	attempts := t.attempts
	t.setStateLocked(domain.StateDisconnected)
	p := t.takePendingLocked()
	sink := t.sink
	t.mu.Unlock()

	connectErr := &domain.ConnectError{Attempts: attempts, Err: err}
	t.logger.Error(ctx, "Connection error, giving up", "error", err.Error(), "attempts", attempts)
	sink.ConnectionChanged(domain.ConnectionEvent{Connected: false, Reason: domain.DisconnectReasonReconnectFailed, Err: connectErr})
	p.finish(connectErr)
}

// abandon stops a reconnect cycle that cannot continue (no token any more).
func (t *LiveTransport) abandon(ctx context.Context, epoch uint64, err error) {
	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		return
	}
	t.dialing = false
	t.setStateLocked(domain.StateDisconnected)
	p := t.takePendingLocked()
	t.mu.Unlock()

	t.logger.Warn(ctx, "Reconnect abandoned", "error", err.Error())
	p.finish(err)
}

// failAuth tears the connection down after the server rejected the credentials.
// sock is nil when the rejection happened during the dial.
func (t *LiveTransport) failAuth(ctx context.Context, epoch uint64, sock domain.Socket, authErr *domain.AuthError) {
	t.mu.Lock()
	if t.epoch != epoch || (sock != nil && t.socket != sock) {
		t.mu.Unlock()
		return
	}
	t.socket = nil
	t.epoch++
	t.dialing = false
	t.stopScheduledLocked()
	t.setStateLocked(domain.StateDisconnected)
	p := t.takePendingLocked()
	sink := t.sink
	t.mu.Unlock()

	t.logger.Error(ctx, "Authentication error received", "error", authErr.Error())
	if sock != nil {
		// Called from the socket's reader; closing waits for that reader.
		safego.Execute(ctx, t.logger, "CloseRejectedSocket", func() { _ = sock.Close() })
	}
	sink.ConnectionChanged(domain.ConnectionEvent{Connected: false, Reason: domain.DisconnectReasonAuthError, Err: authErr})
	p.finish(authErr)
}

func (t *LiveTransport) socketClosed(sock domain.Socket, reason string, cause error) {
	ctx := t.socketContext(sock)

	t.mu.Lock()
	if t.socket == nil || t.socket != sock {
		t.mu.Unlock()
		return
	}
	t.socket = nil
	epoch := t.epoch
	serverInitiated := reason == domain.DisconnectReasonServer
	if serverInitiated || t.attempts >= t.policy.MaxAttempts {
		t.setStateLocked(domain.StateDisconnected)
	} else {
		t.setStateLocked(domain.StateReconnecting)
	}
	sink := t.sink
	t.mu.Unlock()

	fields := []any{"reason", reason}
	if cause != nil {
		fields = append(fields, "error", cause.Error())
	}
	t.logger.Warn(ctx, "Disconnected from messaging backend", fields...)

	sink.ConnectionChanged(domain.ConnectionEvent{Connected: false, Reason: reason, Err: cause})

	// Listeners see the disconnect before any reconnect can complete.
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.epoch != epoch || t.socket != nil || t.dialing {
		return
	}
	if serverInitiated {
		t.scheduleReconnectLocked(t.policy.ServerDisconnectDelay, "server_disconnect")
		return
	}
	if t.attempts < t.policy.MaxAttempts {
		t.attempts++
		metrics.SetReconnectAttempts(t.attempts)
		t.scheduleReconnectLocked(t.policy.Backoff(t.attempts), "backoff")
	}
}

// scheduleReconnectLocked arms the single reconnect timer. It is a no-op when a
// reconnect is already scheduled.
func (t *LiveTransport) scheduleReconnectLocked(delay time.Duration, trigger string) {
	if t.cancelReconnect != nil {
		return
	}
	epoch := t.epoch
	t.cancelReconnect = t.schedule(delay, func() { t.reconnectFired(epoch) })
	metrics.IncrementReconnectScheduled(trigger)
}

func (t *LiveTransport) reconnectFired(epoch uint64) {
	t.mu.Lock()
	if t.epoch != epoch || t.dialing || (t.state == domain.StateConnected && t.socket != nil) {
		t.mu.Unlock()
		return
	}
	t.cancelReconnect = nil
	next := t.beginDialLocked()
	t.mu.Unlock()

	t.attempt(next, "")
}

func (t *LiveTransport) beginDialLocked() uint64 {
	t.epoch++
	t.dialing = true
	t.setStateLocked(domain.StateConnecting)
	return t.epoch
}

func (t *LiveTransport) stopScheduledLocked() {
	if t.cancelReconnect != nil {
		t.cancelReconnect()
		t.cancelReconnect = nil
	}
}

func (t *LiveTransport) takePendingLocked() *pendingConnect {
	p := t.pending
	t.pending = nil
	return p
}

func (t *LiveTransport) setStateLocked(s domain.ConnectionState) {
	t.state = s
	metrics.SetConnectionState(s.String())
}

func (t *LiveTransport) socketContext(sock domain.Socket) context.Context {
	ctx := context.WithValue(context.Background(), contextkeys.TransportKey, sock.Transport())
	return context.WithValue(ctx, contextkeys.SocketIDKey, sock.ID())
}

func (t *LiveTransport) handleEvent(sock domain.Socket, event string, payload json.RawMessage) {
	t.mu.Lock()
	current := t.socket != nil && t.socket == sock
	sink := t.sink
	epoch := t.epoch
	t.mu.Unlock()
	if !current {
		return
	}

	ctx := context.WithValue(t.socketContext(sock), contextkeys.EventKey, event)
	metrics.IncrementInboundEvents(event)

	switch event {
	case domain.EventNewMessage:
		if msg, ok := decodeEvent[domain.Message](t, ctx, payload); ok {
			msg.Raw = payload
			sink.MessageReceived(msg)
		}
	case domain.EventNewGroupMessage:
		if msg, ok := decodeEvent[domain.Message](t, ctx, payload); ok {
			msg.Raw = payload
			sink.GroupMessageReceived(msg)
		}
	case domain.EventUserTyping:
		if ev, ok := decodeEvent[domain.TypingEvent](t, ctx, payload); ok {
			sink.TypingReceived(ev)
		}
	case domain.EventGroupUserTyping:
		if ev, ok := decodeEvent[domain.TypingEvent](t, ctx, payload); ok {
			sink.GroupTypingReceived(ev)
		}
	case domain.EventMessageStatus:
		if ev, ok := decodeEvent[domain.MessageStatusEvent](t, ctx, payload); ok {
			sink.MessageStatusReceived(ev)
		}
	case domain.EventAuthError:
		t.failAuth(ctx, epoch, sock, &domain.AuthError{Response: domain.ParseErrorResponse(payload)})
	case domain.EventError:
		resp := domain.ParseErrorResponse(payload)
		t.logger.Error(ctx, "Socket error", "code", string(resp.Code), "message", resp.Message)
	default:
		t.logger.Debug(ctx, "Ignoring unknown event")
	}
}

func decodeEvent[T any](t *LiveTransport, ctx context.Context, payload json.RawMessage) (T, bool) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		t.logger.Warn(ctx, "Dropping malformed event payload", "error", err.Error())
		return v, false
	}
	return v, true
}

// socketHandler forwards one socket's callbacks to the transport. Callbacks wait until
// the dial outcome is recorded, so nothing is processed for a socket the transport
// has not adopted yet.
type socketHandler struct {
	t     *LiveTransport
	ready chan struct{}
	once  sync.Once
	sock  domain.Socket
}

func (h *socketHandler) release() {
	h.once.Do(func() { close(h.ready) })
}

func (h *socketHandler) HandleEvent(event string, payload json.RawMessage) {
	<-h.ready
	if h.sock == nil {
		return
	}
	h.t.handleEvent(h.sock, event, payload)
}

func (h *socketHandler) HandleClose(reason string, err error) {
	<-h.ready
	if h.sock == nil {
		return
	}
	h.t.socketClosed(h.sock, reason, err)
}

// pendingConnect is the shared result of one Connect cycle.
type pendingConnect struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newPendingConnect() *pendingConnect {
	return &pendingConnect{done: make(chan struct{})}
}

func (p *pendingConnect) finish(err error) {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *pendingConnect) wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type nopSink struct{}

func (nopSink) ConnectionChanged(domain.ConnectionEvent)        {}
func (nopSink) MessageReceived(domain.Message)                  {}
func (nopSink) GroupMessageReceived(domain.Message)             {}
func (nopSink) TypingReceived(domain.TypingEvent)               {}
func (nopSink) GroupTypingReceived(domain.TypingEvent)          {}
func (nopSink) MessageStatusReceived(domain.MessageStatusEvent) {}
