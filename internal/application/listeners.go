package application

import (
	"context"
	"sync"
	"sync/atomic"

	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/metrics"
	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
	"gitlab.com/timkado/api/edumate-realtime/pkg/contextkeys"
	"gitlab.com/timkado/api/edumate-realtime/pkg/safego"
)

// Listener categories, also used as metric labels.
const (
	CategoryMessage       = "message"
	CategoryConnection    = "connection"
	CategoryNotification  = "notification"
	CategoryGroupMessage  = "group_message"
	CategoryGroupTyping   = "group_typing"
	CategoryTyping        = "typing"
	CategoryMessageStatus = "message_status"
)

type listener[T any] struct {
	fn     func(T)
	active atomic.Bool
}

// listenerSet is an ordered set of callbacks for one event category.
// Dispatch iterates a snapshot, so callbacks may subscribe or unsubscribe
// during fan-out; an entry removed mid-dispatch is skipped.
type listenerSet[T any] struct {
	category string
	logger   domain.Logger

	mu      sync.Mutex
	entries []*listener[T]
}

func newListenerSet[T any](category string, logger domain.Logger) *listenerSet[T] {
	return &listenerSet[T]{category: category, logger: logger}
}

// add registers fn and returns a function that removes exactly this registration.
// The same fn may be added twice; each registration is independent.
func (s *listenerSet[T]) add(fn func(T)) func() {
	l := &listener[T]{fn: fn}
	l.active.Store(true)

	s.mu.Lock()
	s.entries = append(s.entries, l)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.active.Store(false)
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, e := range s.entries {
				if e == l {
					s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *listenerSet[T]) snapshot() []*listener[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*listener[T], len(s.entries))
	copy(out, s.entries)
	return out
}

// dispatch delivers ev to every listener in subscription order. A panicking listener
// is logged and counted; the remaining listeners still run.
func (s *listenerSet[T]) dispatch(ctx context.Context, ev T) {
	for _, l := range s.snapshot() {
		if !l.active.Load() {
			continue
		}
		fn := l.fn
		if !safego.Run(ctx, s.logger, s.category+" listener", func() { fn(ev) }) {
			metrics.IncrementListenerPanics(s.category)
		}
	}
}

func (s *listenerSet[T]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ListenerCounts reports how many callbacks are registered per category.
type ListenerCounts map[string]int

// ListenerRegistry holds the independent listener sets of the ConnectionManager.
type ListenerRegistry struct {
	messages      *listenerSet[domain.Message]
	connection    *listenerSet[domain.ConnectionEvent]
	notifications *listenerSet[domain.NotificationEvent]
	groupMessages *listenerSet[domain.Message]
	groupTyping   *listenerSet[domain.TypingEvent]
	typing        *listenerSet[domain.TypingEvent]
	messageStatus *listenerSet[domain.MessageStatusEvent]
}

// NewListenerRegistry creates empty listener sets that log recovered panics to logger.
func NewListenerRegistry(logger domain.Logger) *ListenerRegistry {
	return &ListenerRegistry{
		messages:      newListenerSet[domain.Message](CategoryMessage, logger),
		connection:    newListenerSet[domain.ConnectionEvent](CategoryConnection, logger),
		notifications: newListenerSet[domain.NotificationEvent](CategoryNotification, logger),
		groupMessages: newListenerSet[domain.Message](CategoryGroupMessage, logger),
		groupTyping:   newListenerSet[domain.TypingEvent](CategoryGroupTyping, logger),
		typing:        newListenerSet[domain.TypingEvent](CategoryTyping, logger),
		messageStatus: newListenerSet[domain.MessageStatusEvent](CategoryMessageStatus, logger),
	}
}

// Counts returns the number of registered callbacks per category.
func (r *ListenerRegistry) Counts() ListenerCounts {
	return ListenerCounts{
		CategoryMessage:       r.messages.len(),
		CategoryConnection:    r.connection.len(),
		CategoryNotification:  r.notifications.len(),
		CategoryGroupMessage:  r.groupMessages.len(),
		CategoryGroupTyping:   r.groupTyping.len(),
		CategoryTyping:        r.typing.len(),
		CategoryMessageStatus: r.messageStatus.len(),
	}
}

func eventContext(event string) context.Context {
	return context.WithValue(context.Background(), contextkeys.EventKey, event)
}
