package application

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/config"
	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/logger"
	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
)

func nopLogger() domain.Logger {
	return logger.NewFromZap(zap.NewNop())
}

func testConfig() config.Provider {
	cfg := config.Defaults()
	return config.StaticProvider{Config: cfg}
}

type fakeAuth struct {
	mu     sync.Mutex
	token  string
	userID int64
}

func (a *fakeAuth) Token(context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token, nil
}

func (a *fakeAuth) UserID(context.Context) (int64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userID, a.userID != 0
}

func (a *fakeAuth) IsAuthenticated(ctx context.Context) bool {
	tok, _ := a.Token(ctx)
	return tok != ""
}

type emitted struct {
	Event   string
	Payload any
}

type fakeSocket struct {
	id      string
	handler domain.SocketHandler

	mu        sync.Mutex
	emits     []emitted
	requests  []emitted
	closed    bool
	requestFn func(event string, payload any) (json.RawMessage, error)
}

func (s *fakeSocket) ID() string        { return s.id }
func (s *fakeSocket) Transport() string { return "fake" }

func (s *fakeSocket) Emit(_ context.Context, event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emits = append(s.emits, emitted{Event: event, Payload: payload})
	return nil
}

func (s *fakeSocket) Request(_ context.Context, event string, payload any) (json.RawMessage, error) {
	s.mu.Lock()
	s.requests = append(s.requests, emitted{Event: event, Payload: payload})
	fn := s.requestFn
	s.mu.Unlock()
	if fn == nil {
		return json.RawMessage(`{"success":true,"message":{"id":1}}`), nil
	}
	return fn(event, payload)
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSocket) emitted() []emitted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]emitted(nil), s.emits...)
}

// deliver simulates an inbound event read from the wire.
func (s *fakeSocket) deliver(event string, payload any) {
	raw, _ := json.Marshal(payload)
	s.handler.HandleEvent(event, raw)
}

// drop simulates the connection going away.
func (s *fakeSocket) drop(reason string) {
	s.handler.HandleClose(reason, nil)
}

// fakeDialer opens fakeSockets. failFn decides whether dial n (1-indexed) fails.
// With block set, Dial waits for ctx and fails with its error.
type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	tokens  []string
	sockets []*fakeSocket
	failFn  func(n int) error

	block       bool
	hadDeadline bool
	blockedErr  error
}

func (d *fakeDialer) Name() string { return "fake" }

func (d *fakeDialer) Dial(ctx context.Context, token string, h domain.SocketHandler) (domain.Socket, error) {
	d.mu.Lock()
	d.dials++
	d.tokens = append(d.tokens, token)
	if d.block {
		_, hasDeadline := ctx.Deadline()
		d.mu.Unlock()
		<-ctx.Done()
		d.mu.Lock()
		d.hadDeadline = hasDeadline
		d.blockedErr = ctx.Err()
		d.mu.Unlock()
		return nil, fmt.Errorf("dial: %w", ctx.Err())
	}
	defer d.mu.Unlock()
	if d.failFn != nil {
		if err := d.failFn(d.dials); err != nil {
			return nil, err
		}
	}
	s := &fakeSocket{id: fmt.Sprintf("sid-%d", d.dials), handler: h}
	d.sockets = append(d.sockets, s)
	return s, nil
}

func (d *fakeDialer) lastBlocked() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hadDeadline, d.blockedErr
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastSocket() *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

// fakeScheduler records requested delays. Unless manual, callbacks run right away on
// their own goroutine; manual callbacks wait for fire.
type fakeScheduler struct {
	manual bool

	mu      sync.Mutex
	delays  []time.Duration
	pending []*scheduledCall
}

type scheduledCall struct {
	fn        func()
	cancelled atomic.Bool
}

func (s *fakeScheduler) schedule(d time.Duration, fn func()) stopFunc {
	call := &scheduledCall{fn: fn}
	s.mu.Lock()
	s.delays = append(s.delays, d)
	if s.manual {
		s.pending = append(s.pending, call)
	}
	s.mu.Unlock()

	if !s.manual {
		go func() {
			if !call.cancelled.Load() {
				call.fn()
			}
		}()
	}
	return func() bool { return call.cancelled.CompareAndSwap(false, true) }
}

func (s *fakeScheduler) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// fire runs every pending, uncancelled callback and reports how many ran.
func (s *fakeScheduler) fire() int {
	s.mu.Lock()
	calls := s.pending
	s.pending = nil
	s.mu.Unlock()
	n := 0
	for _, c := range calls {
		if c.cancelled.CompareAndSwap(false, true) {
			c.fn()
			n++
		}
	}
	return n
}

type recordingSink struct {
	mu          sync.Mutex
	connection  []domain.ConnectionEvent
	messages    []domain.Message
	groupMsgs   []domain.Message
	typing      []domain.TypingEvent
	groupTyping []domain.TypingEvent
	statuses    []domain.MessageStatusEvent
}

func (r *recordingSink) ConnectionChanged(ev domain.ConnectionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connection = append(r.connection, ev)
}

func (r *recordingSink) MessageReceived(msg domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recordingSink) GroupMessageReceived(msg domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groupMsgs = append(r.groupMsgs, msg)
}

func (r *recordingSink) TypingReceived(ev domain.TypingEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typing = append(r.typing, ev)
}

func (r *recordingSink) GroupTypingReceived(ev domain.TypingEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groupTyping = append(r.groupTyping, ev)
}

func (r *recordingSink) MessageStatusReceived(ev domain.MessageStatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, ev)
}

func (r *recordingSink) connectionEvents() []domain.ConnectionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ConnectionEvent(nil), r.connection...)
}

type fakeNotification struct {
	closed atomic.Int32
}

func (n *fakeNotification) Close() { n.closed.Add(1) }

type fakeHost struct {
	supported  bool
	visible    bool
	permission domain.NotificationPermission

	mu       sync.Mutex
	shown    []domain.Notification
	handles  []*fakeNotification
	clicks   []func()
	focused  int
	requests int
}

func (h *fakeHost) Supported() bool                           { return h.supported }
func (h *fakeHost) Visible() bool                             { return h.visible }
func (h *fakeHost) Permission() domain.NotificationPermission { return h.permission }

func (h *fakeHost) RequestPermission(context.Context) (domain.NotificationPermission, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests++
	return h.permission, nil
}

func (h *fakeHost) Show(_ context.Context, n domain.Notification, onClick func()) (domain.DisplayedNotification, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	handle := &fakeNotification{}
	h.shown = append(h.shown, n)
	h.handles = append(h.handles, handle)
	h.clicks = append(h.clicks, onClick)
	return handle, nil
}

func (h *fakeHost) Focus(context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.focused++
}

func (h *fakeHost) click(i int) {
	h.mu.Lock()
	fn := h.clicks[i]
	h.mu.Unlock()
	fn()
}
