package polling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/config"
	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/logger"
	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
)

// pollServer queues frames for a single session and answers requests with acks.
type pollServer struct {
	*httptest.Server

	mu     sync.Mutex
	queue  []domain.Envelope
	gone   bool
	emits  chan domain.Envelope
	closed chan struct{}
}

func newPollServer(t *testing.T) *pollServer {
	t.Helper()
	ps := &pollServer{emits: make(chan domain.Envelope, 16), closed: make(chan struct{}, 1)}
	mux := http.NewServeMux()
	mux.HandleFunc("/poll/connect", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_ = json.NewEncoder(w).Encode(domain.ConnectPayload{SID: "p-1"})
	})
	mux.HandleFunc("/poll/events", func(w http.ResponseWriter, r *http.Request) {
		deadline := time.After(200 * time.Millisecond)
		for {
			ps.mu.Lock()
			if ps.gone {
				ps.mu.Unlock()
				w.WriteHeader(http.StatusGone)
				return
			}
			if len(ps.queue) > 0 {
				frames := ps.queue
				ps.queue = nil
				ps.mu.Unlock()
				_ = json.NewEncoder(w).Encode(frames)
				return
			}
			ps.mu.Unlock()
			select {
			case <-deadline:
				w.WriteHeader(http.StatusNoContent)
				return
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	})
	mux.HandleFunc("/poll/emit", func(w http.ResponseWriter, r *http.Request) {
		var env domain.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ps.emits <- env
		if env.Ack != "" {
			reply, _ := json.Marshal(domain.AckPayload{Success: true, Message: json.RawMessage(`{"id":99}`)})
			ps.push(domain.Envelope{Event: domain.EventAck, Ack: env.Ack, Payload: reply})
		}
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/poll/close", func(w http.ResponseWriter, r *http.Request) {
		ps.closed <- struct{}{}
		w.WriteHeader(http.StatusNoContent)
	})
	ps.Server = httptest.NewServer(mux)
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pollServer) push(env domain.Envelope) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.queue = append(ps.queue, env)
}

func (ps *pollServer) expire() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.gone = true
}

type recordingHandler struct {
	events chan domain.Envelope
	closes chan string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{events: make(chan domain.Envelope, 16), closes: make(chan string, 1)}
}

func (h *recordingHandler) HandleEvent(event string, payload json.RawMessage) {
	h.events <- domain.Envelope{Event: event, Payload: payload}
}

func (h *recordingHandler) HandleClose(reason string, _ error) { h.closes <- reason }

func newTestDialer(url string) *Dialer {
	cfg := config.Defaults()
	cfg.Messaging.URL = url
	return NewDialer(logger.NewFromZap(zap.NewNop()), config.StaticProvider{Config: cfg}, nil)
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting")
		var zero T
		return zero
	}
}

func TestPolling_SessionLifecycle(t *testing.T) {
	srv := newPollServer(t)
	h := newRecordingHandler()

	sock, err := newTestDialer(srv.URL).Dial(context.Background(), "good", h)
	require.NoError(t, err)
	assert.Equal(t, "p-1", sock.ID())
	assert.Equal(t, "polling", sock.Transport())

	require.NoError(t, sock.Emit(context.Background(), domain.EventTyping, domain.TypingCommand{RoomID: "r1", IsTyping: true}))
	emitted := recv(t, srv.emits)
	assert.Equal(t, domain.EventTyping, emitted.Event)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := sock.Request(ctx, domain.EventSendGroupMessage, domain.GroupMessage{ConversationID: 3, Content: "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"message":{"id":99}}`, string(raw))
	recv(t, srv.emits)

	srv.push(domain.Envelope{Event: domain.EventGroupUserTyping, Payload: json.RawMessage(`{"conversationId":3,"isTyping":true}`)})
	ev := recv(t, h.events)
	assert.Equal(t, domain.EventGroupUserTyping, ev.Event)

	require.NoError(t, sock.Close())
	recv(t, srv.closed)
	assert.Equal(t, domain.DisconnectReasonClient, recv(t, h.closes))
}

func TestPolling_ServerDisconnectFrame(t *testing.T) {
	srv := newPollServer(t)
	h := newRecordingHandler()

	_, err := newTestDialer(srv.URL).Dial(context.Background(), "good", h)
	require.NoError(t, err)

	srv.push(domain.Envelope{Event: domain.EventDisconnect, Payload: json.RawMessage(`{"reason":"io server disconnect"}`)})
	assert.Equal(t, domain.DisconnectReasonServer, recv(t, h.closes))
}

func TestPolling_ExpiredSessionIsTransportClose(t *testing.T) {
	srv := newPollServer(t)
	h := newRecordingHandler()

	_, err := newTestDialer(srv.URL).Dial(context.Background(), "good", h)
	require.NoError(t, err)

	srv.expire()
	assert.Equal(t, domain.DisconnectReasonTransportClose, recv(t, h.closes))
}

func TestPolling_Forbidden(t *testing.T) {
	srv := newPollServer(t)

	_, err := newTestDialer(srv.URL).Dial(context.Background(), "bad", newRecordingHandler())
	assert.ErrorIs(t, err, domain.ErrAuthRejected)
}

func TestBaseURL(t *testing.T) {
	got, err := baseURL("ws://localhost:5000/", "/poll/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000/poll", got)

	got, err = baseURL("https://api.example.com?x=1", "")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/poll", got)
}
