package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
)

const waitFor = 2 * time.Second

type liveFixture struct {
	transport *LiveTransport
	auth      *fakeAuth
	dialer    *fakeDialer
	sched     *fakeScheduler
	sink      *recordingSink
}

func newLiveFixture(t *testing.T, failFn func(n int) error, manual bool) *liveFixture {
	t.Helper()
	f := &liveFixture{
		auth:   &fakeAuth{token: "tok-123", userID: 42},
		dialer: &fakeDialer{failFn: failFn},
		sched:  &fakeScheduler{manual: manual},
		sink:   &recordingSink{},
	}
	f.transport = NewLiveTransport(nopLogger(), f.auth, f.dialer, DefaultReconnectPolicy(), time.Second)
	f.transport.schedule = f.sched.schedule
	f.transport.SetEventSink(f.sink)
	t.Cleanup(f.transport.Disconnect)
	return f
}

func TestReconnectPolicy_Backoff(t *testing.T) {
	p := DefaultReconnectPolicy()
	for n := 1; n <= 5; n++ {
		assert.Equal(t, time.Duration(n)*time.Second, p.Backoff(n), "attempt %d", n)
	}
	assert.Equal(t, 3000*time.Millisecond, p.Backoff(3))
	assert.Equal(t, time.Second, p.Backoff(0))
}

func TestLiveTransport_ConnectJoinsUserRoom(t *testing.T) {
	f := newLiveFixture(t, nil, false)

	require.NoError(t, f.transport.Connect(context.Background()))

	st := f.transport.Status()
	assert.True(t, st.Connected)
	assert.Equal(t, domain.StateConnected, st.State)
	assert.Equal(t, "sid-1", st.SocketID)
	assert.Equal(t, 0, st.ReconnectAttempts)
	assert.Equal(t, []string{"tok-123"}, f.dialer.tokens)

	sock := f.dialer.lastSocket()
	require.NotNil(t, sock)
	assert.Equal(t, []emitted{{Event: domain.EventJoinUserRoom, Payload: int64(42)}}, sock.emitted())

	assert.Equal(t, []domain.ConnectionEvent{{Connected: true, SocketID: "sid-1"}}, f.sink.connectionEvents())
}

func TestLiveTransport_ConnectWithoutTokenDoesNotDial(t *testing.T) {
	f := newLiveFixture(t, nil, false)
	f.auth.token = ""

	err := f.transport.Connect(context.Background())
	require.ErrorIs(t, err, domain.ErrNoAuthToken)
	assert.Equal(t, 0, f.dialer.dialCount())
	assert.False(t, f.transport.Status().Connected)
}

func TestLiveTransport_ConnectWhenConnectedIsNoop(t *testing.T) {
	f := newLiveFixture(t, nil, false)

	require.NoError(t, f.transport.Connect(context.Background()))
	require.NoError(t, f.transport.Connect(context.Background()))

	assert.Equal(t, 1, f.dialer.dialCount())
	assert.Len(t, f.sink.connectionEvents(), 1)
}

func TestLiveTransport_RetriesWithLinearBackoff(t *testing.T) {
	dialErr := errors.New("connection refused")
	f := newLiveFixture(t, func(n int) error {
		if n <= 3 {
			return dialErr
		}
		return nil
	}, false)

	require.NoError(t, f.transport.Connect(context.Background()))

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, f.sched.recorded())
	assert.Equal(t, 4, f.dialer.dialCount())
	assert.Equal(t, 0, f.transport.Status().ReconnectAttempts)
	assert.Equal(t, "sid-4", f.transport.Status().SocketID)
}

func TestLiveTransport_GivesUpAfterMaxAttempts(t *testing.T) {
	dialErr := errors.New("connection refused")
	f := newLiveFixture(t, func(int) error { return dialErr }, false)

	err := f.transport.Connect(context.Background())

	var connectErr *domain.ConnectError
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, 5, connectErr.Attempts)
	assert.ErrorIs(t, err, dialErr)
	assert.Equal(t, 6, f.dialer.dialCount())
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second, 5 * time.Second,
	}, f.sched.recorded())
	assert.False(t, f.transport.Status().Connected)

	events := f.sink.connectionEvents()
	require.Len(t, events, 1)
	assert.False(t, events[0].Connected)
	assert.Equal(t, domain.DisconnectReasonReconnectFailed, events[0].Reason)
	assert.ErrorAs(t, events[0].Err, &connectErr)
}

func TestLiveTransport_BackgroundReconnectExhaustionIsReported(t *testing.T) {
	dialErr := errors.New("connection refused")
	var failing atomic.Bool
	f := newLiveFixture(t, func(int) error {
		if failing.Load() {
			return dialErr
		}
		return nil
	}, false)
	require.NoError(t, f.transport.Connect(context.Background()))

	failing.Store(true)
	f.dialer.lastSocket().drop(domain.DisconnectReasonTransportClose)

	require.Eventually(t, func() bool { return len(f.sink.connectionEvents()) == 3 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 6, f.dialer.dialCount())
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second, 5 * time.Second,
	}, f.sched.recorded())

	events := f.sink.connectionEvents()
	assert.True(t, events[0].Connected)
	assert.Equal(t, domain.DisconnectReasonTransportClose, events[1].Reason)
	last := events[2]
	assert.False(t, last.Connected)
	assert.Equal(t, domain.DisconnectReasonReconnectFailed, last.Reason)
	var connectErr *domain.ConnectError
	require.ErrorAs(t, last.Err, &connectErr)
	assert.Equal(t, 5, connectErr.Attempts)
	assert.ErrorIs(t, last.Err, dialErr)
	assert.Equal(t, domain.StateDisconnected, f.transport.Status().State)
}

func TestLiveTransport_ConnectTimeoutIsAConnectError(t *testing.T) {
	f := newLiveFixture(t, nil, true)
	f.transport.policy.ConnectTimeout = 20 * time.Millisecond
	f.dialer.block = true

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	go func() { _ = f.transport.Connect(ctx) }()

	require.Eventually(t, func() bool { return len(f.sched.recorded()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []time.Duration{time.Second}, f.sched.recorded())
	assert.Equal(t, domain.StateReconnecting, f.transport.Status().State)
	assert.Equal(t, 1, f.transport.Status().ReconnectAttempts)

	hadDeadline, dialErr := f.dialer.lastBlocked()
	assert.True(t, hadDeadline)
	assert.ErrorIs(t, dialErr, context.DeadlineExceeded)
}

func TestLiveTransport_FreshConnectResetsAttempts(t *testing.T) {
	dialErr := errors.New("connection refused")
	fail := true
	f := newLiveFixture(t, func(int) error {
		if fail {
			return dialErr
		}
		return nil
	}, false)

	require.Error(t, f.transport.Connect(context.Background()))
	assert.Equal(t, 5, f.transport.Status().ReconnectAttempts)

	fail = false
	require.NoError(t, f.transport.Connect(context.Background()))
	assert.Equal(t, 0, f.transport.Status().ReconnectAttempts)
}

func TestLiveTransport_AbnormalCloseReconnects(t *testing.T) {
	f := newLiveFixture(t, nil, false)

	require.NoError(t, f.transport.Connect(context.Background()))
	assert.True(t, f.transport.Status().Connected)

	first := f.dialer.lastSocket()
	first.drop(domain.DisconnectReasonTransportClose)

	require.Eventually(t, func() bool {
		return f.transport.Status().Connected && f.transport.Status().SocketID == "sid-2"
	}, waitFor, 5*time.Millisecond)

	assert.Equal(t, []domain.ConnectionEvent{
		{Connected: true, SocketID: "sid-1"},
		{Connected: false, Reason: domain.DisconnectReasonTransportClose},
		{Connected: true, SocketID: "sid-2"},
	}, f.sink.connectionEvents())
	assert.Equal(t, []time.Duration{time.Second}, f.sched.recorded())
	assert.Equal(t, 0, f.transport.Status().ReconnectAttempts)
}

func TestLiveTransport_ServerDisconnectReconnectsAfterFixedDelay(t *testing.T) {
	f := newLiveFixture(t, nil, false)
	require.NoError(t, f.transport.Connect(context.Background()))

	f.dialer.lastSocket().drop(domain.DisconnectReasonServer)

	require.Eventually(t, func() bool {
		return f.transport.Status().SocketID == "sid-2"
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []time.Duration{2 * time.Second}, f.sched.recorded())
	assert.Equal(t, 0, f.transport.Status().ReconnectAttempts)
}

func TestLiveTransport_SingleReconnectScheduled(t *testing.T) {
	f := newLiveFixture(t, nil, true)
	require.NoError(t, f.transport.Connect(context.Background()))

	sock := f.dialer.lastSocket()
	sock.drop(domain.DisconnectReasonServer)
	sock.drop(domain.DisconnectReasonTransportError)

	assert.Len(t, f.sched.recorded(), 1)
	assert.Equal(t, 1, f.sched.fire())
	assert.True(t, f.transport.Status().Connected)
	assert.Equal(t, 2, f.dialer.dialCount())
}

func TestLiveTransport_DisconnectCancelsPendingConnect(t *testing.T) {
	f := newLiveFixture(t, func(int) error { return errors.New("unreachable") }, true)

	result := make(chan error, 1)
	go func() { result <- f.transport.Connect(context.Background()) }()

	require.Eventually(t, func() bool { return len(f.sched.recorded()) == 1 }, waitFor, 5*time.Millisecond)
	f.transport.Disconnect()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, domain.ErrConnectionClosed)
	case <-time.After(waitFor):
		t.Fatal("Connect did not return after Disconnect")
	}
	assert.Equal(t, 0, f.sched.fire(), "scheduled reconnect should be cancelled")
	assert.Equal(t, 1, f.dialer.dialCount())
	assert.Equal(t, domain.StateDisconnected, f.transport.Status().State)
}

func TestLiveTransport_DisconnectIsSilentAndIdempotent(t *testing.T) {
	f := newLiveFixture(t, nil, false)
	require.NoError(t, f.transport.Connect(context.Background()))
	sock := f.dialer.lastSocket()

	f.transport.Disconnect()
	f.transport.Disconnect()
	sock.drop(domain.DisconnectReasonClient)

	assert.True(t, sock.isClosed())
	assert.False(t, f.transport.Status().Connected)
	assert.Empty(t, f.transport.Status().SocketID)
	assert.Len(t, f.sink.connectionEvents(), 1, "only the connect event is delivered")
	assert.Empty(t, f.sched.recorded())
}

func TestLiveTransport_AuthErrorEventIsFatal(t *testing.T) {
	f := newLiveFixture(t, nil, false)
	require.NoError(t, f.transport.Connect(context.Background()))
	sock := f.dialer.lastSocket()

	sock.deliver(domain.EventAuthError, map[string]string{"message": "token expired"})

	assert.False(t, f.transport.Status().Connected)
	assert.Eventually(t, sock.isClosed, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.sched.recorded())

	events := f.sink.connectionEvents()
	require.Len(t, events, 2)
	last := events[1]
	assert.False(t, last.Connected)
	assert.Equal(t, domain.DisconnectReasonAuthError, last.Reason)
	var authErr *domain.AuthError
	require.ErrorAs(t, last.Err, &authErr)
	assert.Equal(t, "token expired", authErr.Response.Message)
}

func TestLiveTransport_DialAuthRejectionIsNotRetried(t *testing.T) {
	f := newLiveFixture(t, func(int) error {
		return fmt.Errorf("dial: %w (status 401)", domain.ErrAuthRejected)
	}, false)

	err := f.transport.Connect(context.Background())

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.ErrorIs(t, err, domain.ErrAuthRejected)
	assert.Equal(t, 1, f.dialer.dialCount())
	assert.Empty(t, f.sched.recorded())
}

func TestLiveTransport_SendWhileDisconnectedFailsWithoutIO(t *testing.T) {
	f := newLiveFixture(t, nil, false)

	ack, err := f.transport.SendMessage(context.Background(), domain.DirectMessage{RecipientID: 7, Content: "hi"})
	assert.Nil(t, ack)
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	_, err = f.transport.SendGroupMessage(context.Background(), domain.GroupMessage{ConversationID: 3, Content: "hi"})
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	assert.ErrorIs(t, f.transport.Emit(context.Background(), domain.EventTyping, nil), domain.ErrNotConnected)
	assert.Equal(t, 0, f.dialer.dialCount())
}

func TestLiveTransport_SendMessageResolvesAck(t *testing.T) {
	f := newLiveFixture(t, nil, false)
	require.NoError(t, f.transport.Connect(context.Background()))

	sock := f.dialer.lastSocket()
	sock.requestFn = func(event string, payload any) (json.RawMessage, error) {
		msg := payload.(domain.DirectMessage)
		return json.Marshal(map[string]any{
			"success": true,
			"message": map[string]any{
				"id":          501,
				"recipientId": msg.RecipientID,
				"content":     msg.Content,
				"messageType": msg.MessageType,
				"attachments": msg.Attachments,
				"timestamp":   "2024-05-01T10:00:00.000Z",
			},
		})
	}

	ack, err := f.transport.SendMessage(context.Background(), domain.DirectMessage{RecipientID: 7, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(501), ack.ID)
	assert.Equal(t, int64(7), ack.RecipientID)
	assert.Equal(t, "text", ack.MessageType)
	assert.Equal(t, []domain.Attachment{}, ack.Attachments)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), ack.Timestamp.UTC())

	require.Len(t, sock.requests, 1)
	assert.Equal(t, domain.EventSendMessage, sock.requests[0].Event)
}

func TestLiveTransport_SendMessageRejected(t *testing.T) {
	f := newLiveFixture(t, nil, false)
	require.NoError(t, f.transport.Connect(context.Background()))
	f.dialer.lastSocket().requestFn = func(string, any) (json.RawMessage, error) {
		return json.RawMessage(`{"success":false,"error":"recipient blocked"}`), nil
	}

	_, err := f.transport.SendGroupMessage(context.Background(), domain.GroupMessage{ConversationID: 3, Content: "hi"})

	var ackErr *domain.AckError
	require.ErrorAs(t, err, &ackErr)
	assert.Equal(t, domain.EventSendGroupMessage, ackErr.Event)
	assert.Equal(t, "recipient blocked", ackErr.Message)
}

func TestLiveTransport_InboundEventsReachSink(t *testing.T) {
	f := newLiveFixture(t, nil, false)
	require.NoError(t, f.transport.Connect(context.Background()))
	sock := f.dialer.lastSocket()

	sock.deliver(domain.EventNewMessage, map[string]any{"id": 1, "senderName": "Ana", "content": "hello"})
	sock.deliver(domain.EventNewGroupMessage, map[string]any{"id": 2, "conversationId": 9, "content": "hey all"})
	sock.deliver(domain.EventUserTyping, map[string]any{"roomId": "r1", "isTyping": true})
	sock.deliver(domain.EventGroupUserTyping, map[string]any{"conversationId": 9, "userId": 5, "isTyping": true})
	sock.deliver(domain.EventMessageStatus, map[string]any{"messageId": 1, "status": "read"})
	sock.deliver(domain.EventNewMessage, "not an object")

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	require.Len(t, f.sink.messages, 1)
	assert.Equal(t, "Ana", f.sink.messages[0].SenderName)
	assert.NotEmpty(t, f.sink.messages[0].Raw)
	require.Len(t, f.sink.groupMsgs, 1)
	assert.Equal(t, int64(9), f.sink.groupMsgs[0].ConversationID)
	require.Len(t, f.sink.typing, 1)
	assert.Equal(t, "r1", f.sink.typing[0].RoomID)
	require.Len(t, f.sink.groupTyping, 1)
	assert.Equal(t, int64(5), f.sink.groupTyping[0].UserID)
	require.Len(t, f.sink.statuses, 1)
	assert.Equal(t, "read", f.sink.statuses[0].Status)
}

func TestLiveTransport_StaleSocketEventsIgnored(t *testing.T) {
	f := newLiveFixture(t, nil, false)
	require.NoError(t, f.transport.Connect(context.Background()))
	old := f.dialer.lastSocket()

	f.transport.Disconnect()
	require.NoError(t, f.transport.Connect(context.Background()))

	old.deliver(domain.EventNewMessage, map[string]any{"id": 1, "content": "late"})
	old.drop(domain.DisconnectReasonTransportClose)

	assert.True(t, f.transport.Status().Connected)
	assert.Equal(t, "sid-2", f.transport.Status().SocketID)
	f.sink.mu.Lock()
	assert.Empty(t, f.sink.messages)
	f.sink.mu.Unlock()
}
