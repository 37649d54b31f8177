package utils

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/envelope"
	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
)

// MockBackend is an in-process messaging backend speaking the envelope protocol
// over websocket. It acks every request with the request payload and counts
// the frames it receives.
type MockBackend struct {
	*httptest.Server

	token    string
	sessions atomic.Int64
	frames   atomic.Int64

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewMockBackend starts a backend that accepts token.
func NewMockBackend(token string) *MockBackend {
	mb := &MockBackend{token: token, conns: make(map[*websocket.Conn]struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", mb.serveWS)
	mb.Server = httptest.NewServer(mux)
	return mb
}

// Frames returns the number of frames received from clients.
func (mb *MockBackend) Frames() int64 { return mb.frames.Load() }

// Push sends an event to every open session.
func (mb *MockBackend) Push(ctx context.Context, event string, payload any) error {
	data, err := envelope.Encode(event, payload, "")
	if err != nil {
		return err
	}
	mb.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(mb.conns))
	for c := range mb.conns {
		conns = append(conns, c)
	}
	mb.mu.Unlock()
	for _, c := range conns {
		if err := c.Write(ctx, websocket.MessageText, data); err != nil {
			return err
		}
	}
	return nil
}

func (mb *MockBackend) serveWS(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+mb.token {
		domain.NewErrorResponse(domain.ErrCodeAuthFailed, "invalid token", "").WriteJSON(w, http.StatusUnauthorized)
		return
	}
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx := r.Context()
	sid := "bench-" + strconv.FormatInt(mb.sessions.Add(1), 10)
	hello, _ := envelope.Encode(domain.EventConnect, domain.ConnectPayload{SID: sid}, "")
	if err := c.Write(ctx, websocket.MessageText, hello); err != nil {
		return
	}

	mb.mu.Lock()
	mb.conns[c] = struct{}{}
	mb.mu.Unlock()
	defer func() {
		mb.mu.Lock()
		delete(mb.conns, c)
		mb.mu.Unlock()
	}()

	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		mb.frames.Add(1)
		env, err := envelope.Decode(data)
		if err != nil || env.Ack == "" {
			continue
		}
		reply, _ := json.Marshal(domain.AckPayload{Success: true, Message: env.Payload})
		ack, _ := json.Marshal(domain.Envelope{Event: domain.EventAck, Ack: env.Ack, Payload: reply})
		if err := c.Write(ctx, websocket.MessageText, ack); err != nil {
			return
		}
	}
}
