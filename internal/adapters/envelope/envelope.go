// Package envelope holds the frame codec and ack correlation shared by the
// websocket and polling transports.
package envelope

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
)

// ErrClosed is returned to requests still waiting when the socket goes away.
var ErrClosed = errors.New("socket closed before ack")

// Encode marshals one outbound frame.
func Encode(event string, payload any, ack string) ([]byte, error) {
	env, err := domain.NewEnvelope(event, payload, ack)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	return json.Marshal(env)
}

// Decode parses one inbound frame.
func Decode(data []byte) (domain.Envelope, error) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("malformed frame: %w", err)
	}
	if env.Event == "" {
		return env, errors.New("malformed frame: missing event")
	}
	return env, nil
}

// Acks correlates request frames with the server's "ack" replies.
type Acks struct {
	mu      sync.Mutex
	pending map[string]chan json.RawMessage
	closed  bool
}

func NewAcks() *Acks {
	return &Acks{pending: make(map[string]chan json.RawMessage)}
}

// Register reserves a new ack id. release must be called once the caller stops waiting.
func (a *Acks) Register() (id string, reply <-chan json.RawMessage, release func(), err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return "", nil, nil, ErrClosed
	}
	id = uuid.NewString()
	ch := make(chan json.RawMessage, 1)
	a.pending[id] = ch
	return id, ch, func() {
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
	}, nil
}

// Resolve hands payload to the request waiting on id. It reports false for unknown ids.
func (a *Acks) Resolve(id string, payload json.RawMessage) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, ok := a.pending[id]
	if !ok {
		return false
	}
	delete(a.pending, id)
	ch <- payload
	return true
}

// Close fails every pending request and rejects new ones.
func (a *Acks) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for id, ch := range a.pending {
		close(ch)
		delete(a.pending, id)
	}
}

// Await waits for a registered reply.
func Await(ctx context.Context, reply <-chan json.RawMessage) (json.RawMessage, error) {
	select {
	case payload, ok := <-reply:
		if !ok {
			return nil, ErrClosed
		}
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
