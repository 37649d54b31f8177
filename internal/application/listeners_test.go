package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
)

func TestListenerSet_DispatchInSubscriptionOrder(t *testing.T) {
	s := newListenerSet[int](CategoryMessage, nopLogger())
	var got []string
	s.add(func(v int) { got = append(got, "a") })
	s.add(func(v int) { got = append(got, "b") })
	s.add(func(v int) { got = append(got, "c") })

	s.dispatch(context.Background(), 1)

	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestListenerSet_UnsubscribeRemovesOnlyThatCallback(t *testing.T) {
	s := newListenerSet[int](CategoryMessage, nopLogger())
	var a, b int
	unsubA := s.add(func(v int) { a += v })
	s.add(func(v int) { b += v })

	s.dispatch(context.Background(), 1)
	unsubA()
	unsubA()
	s.dispatch(context.Background(), 1)

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
	assert.Equal(t, 1, s.len())
}

func TestListenerSet_SameCallbackTwice(t *testing.T) {
	s := newListenerSet[int](CategoryMessage, nopLogger())
	calls := 0
	fn := func(int) { calls++ }
	unsub := s.add(fn)
	s.add(fn)

	s.dispatch(context.Background(), 0)
	unsub()
	s.dispatch(context.Background(), 0)

	assert.Equal(t, 3, calls)
}

func TestListenerSet_PanicIsIsolated(t *testing.T) {
	s := newListenerSet[string](CategoryConnection, nopLogger())
	var after []string
	s.add(func(string) { panic("listener bug") })
	s.add(func(v string) { after = append(after, v) })

	assert.NotPanics(t, func() { s.dispatch(context.Background(), "ev") })
	assert.Equal(t, []string{"ev"}, after)
}

func TestListenerSet_UnsubscribeDuringDispatch(t *testing.T) {
	s := newListenerSet[int](CategoryMessage, nopLogger())
	var calledB int
	var unsubB func()
	s.add(func(int) { unsubB() })
	unsubB = s.add(func(int) { calledB++ })

	s.dispatch(context.Background(), 1)
	s.dispatch(context.Background(), 1)

	assert.Equal(t, 0, calledB, "a listener removed earlier in the same fan-out is not invoked")
}

func TestListenerSet_SubscribeDuringDispatch(t *testing.T) {
	s := newListenerSet[int](CategoryMessage, nopLogger())
	var late int
	s.add(func(int) {
		s.add(func(int) { late++ })
	})

	s.dispatch(context.Background(), 1)
	assert.Equal(t, 0, late, "listeners added during fan-out wait for the next event")

	s.dispatch(context.Background(), 1)
	assert.Equal(t, 1, late)
}

func TestListenerRegistry_Counts(t *testing.T) {
	r := NewListenerRegistry(nopLogger())
	unsub := r.messages.add(func(domain.Message) {})
	r.groupTyping.add(func(domain.TypingEvent) {})

	counts := r.Counts()
	assert.Equal(t, 1, counts[CategoryMessage])
	assert.Equal(t, 1, counts[CategoryGroupTyping])
	assert.Equal(t, 0, counts[CategoryNotification])

	unsub()
	assert.Equal(t, 0, r.Counts()[CategoryMessage])
}
